// Package state defines the durable, embedded keyspaced key-value store
// interface the engine builds its indices and pending sets on top of
// (§6 State store), and a BadgerDB-backed implementation grounded in the
// teacher's badger-backed DynamoDB store.
package state

import "context"

// MetadataKeyspace is the reserved keyspace holding pending-set
// serializations under keys "PK|<denormalized_name>" (§3 Pending set).
const MetadataKeyspace = "__southpaw.metadata"

// Store is the durable embedded keyspaced key-value map the engine
// consumes through this interface (§6 State store). A single Store
// instance backs every keyspace the engine touches; Flush must make all
// buffered writes across every keyspace durable together so indices and
// pending sets recover as a matched pair (§5 Shared resources).
type Store interface {
	// CreateKeySpace registers a named keyspace. Idempotent.
	CreateKeySpace(name string) error
	// Get returns the value stored under key in the given keyspace, or nil
	// if absent.
	Get(ctx context.Context, keyspace string, key []byte) ([]byte, error)
	// Put writes value under key in the given keyspace. May be buffered
	// until Flush.
	Put(ctx context.Context, keyspace string, key, value []byte) error
	// Delete removes key from the given keyspace. Tolerant of a missing
	// key.
	Delete(ctx context.Context, keyspace string, key []byte) error
	// Flush makes all buffered writes durable. If keyspace is empty,
	// flushes every keyspace atomically.
	Flush(ctx context.Context, keyspace string) error
	// Backup performs a snapshot backup of the entire store.
	Backup(ctx context.Context) error
	// Restore restores the store from the latest snapshot backup.
	Restore(ctx context.Context) error
	// DeleteAll wipes the store's data (not its backups). A new Store must
	// be constructed to continue processing afterward.
	DeleteAll(ctx context.Context) error
	// DeleteBackups wipes all snapshot backups.
	DeleteBackups(ctx context.Context) error
	// Open prepares the store for use.
	Open(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}

// Iterator walks key/value pairs in a keyspace in ascending key order,
// used by index verification (§4.1 verify) and by tooling that needs to
// enumerate a keyspace.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Close() error
	Err() error
}

// IteratingStore is implemented by stores that support keyspace iteration.
type IteratingStore interface {
	Store
	Iterate(ctx context.Context, keyspace string) (Iterator, error)
}
