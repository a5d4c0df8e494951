package state

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// keySeparator delimits the keyspace prefix from the caller's key so
// distinct keyspaces never collide, following the teacher's badger key
// encoding scheme (dynamodb/ddbstore/encoding.go: "[tablePrefix][separator]
// [partitionKey]...").
const keySeparator byte = 0x00

// BadgerStore is a BadgerDB-backed embedded key-value Store (§6 State
// store), grounded in the teacher's badger-backed DynamoDB store
// (dynamodb/ddbstore/store_core.go).
type BadgerStore struct {
	mu        sync.RWMutex
	db        *badger.DB
	dataDir   string
	backupDir string
	inMemory  bool
	keyspaces map[string]bool
	backupSeq uint64
	logger    badger.Logger
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is where BadgerDB stores its data. Empty implies InMemory.
	DataDir string
	// BackupDir is where snapshot backups are written and restored from.
	BackupDir string
	// InMemory forces in-memory mode even if DataDir is set, used by
	// tests.
	InMemory bool
	// Logger receives BadgerDB's internal log lines. Nil disables it,
	// matching the teacher's default of a silent embedded store.
	Logger badger.Logger
}

// NewBadgerStore constructs a BadgerStore without opening it. Call Open
// before use.
func NewBadgerStore(opts BadgerOptions) *BadgerStore {
	return &BadgerStore{
		dataDir:   opts.DataDir,
		backupDir: opts.BackupDir,
		inMemory:  opts.InMemory || opts.DataDir == "",
		keyspaces: make(map[string]bool),
		logger:    opts.Logger,
	}
}

var _ IteratingStore = (*BadgerStore)(nil)

// Open implements Store.
func (s *BadgerStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	badgerOpts := badger.DefaultOptions(s.dataDir)
	if s.inMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(s.logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return fmt.Errorf("open badger db: %w", err)
	}
	s.db = db
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// CreateKeySpace implements Store.
func (s *BadgerStore) CreateKeySpace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyspaces[name] = true
	return nil
}

func encodeKey(keyspace string, key []byte) []byte {
	buf := make([]byte, 0, len(keyspace)+1+len(key))
	buf = append(buf, keyspace...)
	buf = append(buf, keySeparator)
	buf = append(buf, key...)
	return buf
}

func keyspacePrefix(keyspace string) []byte {
	return append([]byte(keyspace), keySeparator)
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, keyspace string, key []byte) ([]byte, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("state: store is not open")
	}

	var out []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(keyspace, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("state: get %s/%x: %w", keyspace, key, err)
	}
	return out, nil
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, keyspace string, key, value []byte) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("state: store is not open")
	}
	err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(keyspace, key), value)
	})
	if err != nil {
		return fmt.Errorf("state: put %s/%x: %w", keyspace, key, err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, keyspace string, key []byte) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("state: store is not open")
	}
	err := db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(encodeKey(keyspace, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("state: delete %s/%x: %w", keyspace, key, err)
	}
	return nil
}

// Flush implements Store. Update returns once a write is committed, but
// with Badger's default options it is not yet synced to disk, so Flush
// forces the value log and write-ahead log to sync, matching the "atomic commit across all keyspaces" requirement
// (§5 Shared resources) since a single badger.DB instance underlies every
// keyspace.
func (s *BadgerStore) Flush(_ context.Context, _ string) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("state: store is not open")
	}
	if err := db.Sync(); err != nil {
		return fmt.Errorf("state: flush: %w", err)
	}
	return nil
}

// Backup implements Store, writing a full snapshot to a versioned file
// under BackupDir.
func (s *BadgerStore) Backup(_ context.Context) error {
	s.mu.Lock()
	db := s.db
	if db == nil {
		s.mu.Unlock()
		return fmt.Errorf("state: store is not open")
	}
	if s.backupDir == "" {
		s.mu.Unlock()
		return fmt.Errorf("state: no backup directory configured")
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("state: create backup dir: %w", err)
	}
	s.backupSeq++
	path := filepath.Join(s.backupDir, fmt.Sprintf("backup-%08d.bak", s.backupSeq))
	s.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("state: create backup file: %w", err)
	}
	defer f.Close()

	if _, err := db.Backup(f, 0); err != nil {
		return fmt.Errorf("state: backup: %w", err)
	}
	return f.Sync()
}

// Restore implements Store, loading the most recent snapshot under
// BackupDir into the currently open store.
func (s *BadgerStore) Restore(_ context.Context) error {
	s.mu.RLock()
	db := s.db
	backupDir := s.backupDir
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("state: store is not open")
	}
	if backupDir == "" {
		return fmt.Errorf("state: no backup directory configured")
	}

	latest, err := latestBackupFile(backupDir)
	if err != nil {
		return err
	}
	if latest == "" {
		return fmt.Errorf("state: no backups found in %s", backupDir)
	}

	f, err := os.Open(latest)
	if err != nil {
		return fmt.Errorf("state: open backup file: %w", err)
	}
	defer f.Close()

	// Load keeps each entry's original version, so live data written after
	// the snapshot would otherwise shadow it; drop it first.
	if err := db.DropAll(); err != nil {
		return fmt.Errorf("state: restore: clear current data: %w", err)
	}
	if err := db.Load(f, 256); err != nil {
		return fmt.Errorf("state: restore: %w", err)
	}
	return nil
}

func latestBackupFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("state: read backup dir: %w", err)
	}
	var latest string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if latest == "" || e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(dir, latest), nil
}

// DeleteAll implements Store.
func (s *BadgerStore) DeleteAll(_ context.Context) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("state: store is not open")
	}
	if err := db.DropAll(); err != nil {
		return fmt.Errorf("state: delete all: %w", err)
	}
	return nil
}

// DeleteBackups implements Store.
func (s *BadgerStore) DeleteBackups(_ context.Context) error {
	s.mu.RLock()
	backupDir := s.backupDir
	s.mu.RUnlock()
	if backupDir == "" {
		return nil
	}
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: read backup dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(backupDir, e.Name())); err != nil {
			return fmt.Errorf("state: delete backup %s: %w", e.Name(), err)
		}
	}
	return nil
}

// badgerIterator implements Iterator over one keyspace's key range. Next
// advances to the next item and reports validity; Key/Value read the item
// Next last landed on, following the database/sql.Rows convention.
type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	err     error
}

// Iterate implements IteratingStore.
func (s *BadgerStore) Iterate(_ context.Context, keyspace string) (Iterator, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("state: store is not open")
	}
	txn := db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	prefix := keyspacePrefix(keyspace)
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	return &badgerIterator{txn: txn, it: it, prefix: prefix}, nil
}

func (bi *badgerIterator) Next() bool {
	if !bi.started {
		bi.started = true
		bi.it.Seek(bi.prefix)
	} else {
		bi.it.Next()
	}
	return bi.it.ValidForPrefix(bi.prefix)
}

func (bi *badgerIterator) Key() []byte {
	full := bi.it.Item().KeyCopy(nil)
	return bytes.TrimPrefix(full, bi.prefix)
}

func (bi *badgerIterator) Value() ([]byte, error) {
	var out []byte
	err := bi.it.Item().Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		bi.err = err
	}
	return out, err
}

func (bi *badgerIterator) Err() error {
	return bi.err
}

func (bi *badgerIterator) Close() error {
	bi.it.Close()
	bi.txn.Discard()
	return nil
}
