// Package engine implements the denormalize/emit driver (§4.4-§4.6): it
// absorbs changes from input streams into the foreign-key indices and a
// per-root pending set, and periodically rebuilds and emits denormalized
// records for pending root primary keys.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/acksell/confluence/fkindex"
	"github.com/acksell/confluence/metrics"
	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/record"
	"github.com/acksell/confluence/relation"
	"github.com/acksell/confluence/scheduler"
	"github.com/acksell/confluence/state"
	"github.com/acksell/confluence/stream"
)

// Config carries the tunables of §6's configuration table that the engine
// itself consults.
type Config struct {
	// BackupTimeS is the minimum interval between backups; 0 disables
	// periodic backups.
	BackupTimeS int
	// CommitTimeS is the minimum interval between commits; 0 disables
	// periodic commits.
	CommitTimeS int
	// CreateRecordsTrigger is the pending-set size that forces an emit.
	CreateRecordsTrigger int
	// TotalLagTrigger is the total lag at/below which the idle scheduler
	// drains residual pending work.
	TotalLagTrigger int64
	// RunTime bounds a single Run call to a fixed wall-clock budget, used
	// by tests; the CLI leaves it zero. Zero means run until ctx is
	// canceled.
	RunTime time.Duration
	// BackupOnShutdown forces a final backup when Run returns because ctx
	// was canceled, beyond whatever the backup/commit watches would have
	// triggered (§12 Supplemented features). Run returning for any other
	// reason does not trigger it.
	BackupOnShutdown bool
	// TopicAlias normalizes a physical topic name into the stream alias
	// keys engine/scheduler are keyed by, resolving §9's topics.prefixed
	// open question at the point the transactions-stream END gate
	// correlates data_collections against this deployment's streams. Nil
	// means identity (topics.prefixed disabled, or no prefix configured).
	TopicAlias func(string) string
}

// Engine is the denormalize/emit driver (§2 System overview).
type Engine struct {
	cfg     Config
	roots   []*relation.Relation
	streams map[string]stream.Source // by entity/stream alias, incl. "transactions"
	sinks   map[string]stream.Sink   // by root DenormalizedName
	store   state.Store
	sched   *scheduler.Scheduler
	metrics *metrics.Registry
	log     *slog.Logger

	joinIndices   map[string]*fkindex.Index
	parentIndices map[string]*fkindex.Index
	pending       map[string]*pk.Set // by root DenormalizedName

	commitWatch time.Time
	backupWatch time.Time
	runDeadline time.Time
}

// New constructs an Engine. streams must contain one entry per entity
// referenced anywhere in roots, plus scheduler.TransactionsStreamName if
// any relation's records carry transaction metadata. sinks must contain
// one entry per root's DenormalizedName.
func New(cfg Config, roots []*relation.Relation, streams map[string]stream.Source, sinks map[string]stream.Sink, store state.Store, reg *metrics.Registry, log *slog.Logger) (*Engine, error) {
	if err := relation.ValidateRoots(roots); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:           cfg,
		roots:         roots,
		streams:       streams,
		sinks:         sinks,
		store:         store,
		sched:         scheduler.New(streams, cfg.TopicAlias),
		metrics:       reg,
		log:           log,
		joinIndices:   make(map[string]*fkindex.Index),
		parentIndices: make(map[string]*fkindex.Index),
		pending:       make(map[string]*pk.Set),
	}
	for _, root := range roots {
		if _, ok := sinks[root.DenormalizedName]; !ok {
			return nil, fmt.Errorf("engine: no output sink configured for root %q", root.DenormalizedName)
		}
		e.pending[root.DenormalizedName] = pk.NewSet()
		for _, edge := range relation.Edges(root) {
			if _, ok := streams[edge.Child.Entity]; !ok {
				return nil, fmt.Errorf("engine: no input stream configured for entity %q", edge.Child.Entity)
			}
			if _, err := e.joinIndex(edge.Child); err != nil {
				return nil, err
			}
			if _, err := e.parentIndex(root, edge); err != nil {
				return nil, err
			}
		}
		if _, ok := streams[root.Entity]; !ok {
			return nil, fmt.Errorf("engine: no input stream configured for root entity %q", root.Entity)
		}
	}
	for name := range streams {
		if name == scheduler.TransactionsStreamName {
			continue
		}
		var used bool
		for _, root := range roots {
			if relation.EntityUsedIn(root, name) {
				used = true
				break
			}
		}
		if !used {
			log.Warn("engine: stream configured but not referenced by any relation", "entity", name)
		}
	}
	if err := store.CreateKeySpace(state.MetadataKeyspace); err != nil {
		return nil, fmt.Errorf("engine: create metadata keyspace: %w", err)
	}
	return e, nil
}

func (e *Engine) joinIndex(child *relation.Relation) (*fkindex.Index, error) {
	name := joinIndexName(child.Entity, child.JoinKey)
	if idx, ok := e.joinIndices[name]; ok {
		return idx, nil
	}
	idx, err := fkindex.New(name, e.store)
	if err != nil {
		return nil, fmt.Errorf("engine: join index %s: %w", name, err)
	}
	e.joinIndices[name] = idx
	return idx, nil
}

func (e *Engine) parentIndex(root *relation.Relation, edge relation.Edge) (*fkindex.Index, error) {
	name := parentIndexName(root.Entity, edge.Parent.Entity, edge.Child.ParentKey)
	if idx, ok := e.parentIndices[name]; ok {
		return idx, nil
	}
	idx, err := fkindex.New(name, e.store)
	if err != nil {
		return nil, fmt.Errorf("engine: parent index %s: %w", name, err)
	}
	e.parentIndices[name] = idx
	return idx, nil
}

// Open restores in-memory pending sets from the metadata keyspace so a
// resumed engine picks up exactly where the last commit left off (§8
// testable property 3, restart-determinism).
func (e *Engine) Open(ctx context.Context) error {
	for _, root := range e.roots {
		raw, err := e.store.Get(ctx, state.MetadataKeyspace, pendingSetKey(root.DenormalizedName))
		if err != nil {
			return fmt.Errorf("engine: load pending set for %q: %w", root.DenormalizedName, err)
		}
		set, err := pk.DeserializeSet(raw)
		if err != nil {
			return fmt.Errorf("engine: decode pending set for %q: %w", root.DenormalizedName, err)
		}
		e.pending[root.DenormalizedName] = set
	}
	now := time.Now()
	e.commitWatch = now
	e.backupWatch = now
	if e.cfg.RunTime > 0 {
		e.runDeadline = now.Add(e.cfg.RunTime)
	}
	return nil
}

// VerifyState runs fkindex.Verify over every join and parent index and
// returns the combined violation list, used by the --verify-state CLI
// action (§12 Supplemented features).
func (e *Engine) VerifyState(ctx context.Context) (map[string][]fkindex.Violation, error) {
	violations := make(map[string][]fkindex.Violation)
	for name, idx := range e.joinIndices {
		v, err := idx.Verify(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: verify %s: %w", name, err)
		}
		if len(v) > 0 {
			violations[name] = v
		}
	}
	for name, idx := range e.parentIndices {
		v, err := idx.Verify(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: verify %s: %w", name, err)
		}
		if len(v) > 0 {
			violations[name] = v
		}
	}
	return violations, nil
}

// fieldOf returns the named field of a record's value, tolerating a
// tombstone (nil Value) by returning nil.
func fieldOf(r record.Record, field string) any {
	if r == nil {
		return nil
	}
	return r.Get(field)
}
