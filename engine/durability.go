package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acksell/confluence/state"
)

// withRetry wraps a durability operation against transient I/O errors
// (§7 Transient I/O) with a bounded exponential backoff, grounded in the
// corpus's cenkalti/backoff/v4 usage. A protocol-level error (e.g.
// ErrProtocolViolation surfacing through a wrapped call) is retried the
// same as any other error here since Store/Sink/Source implementations
// only return non-nil for I/O failures; the scheduler's own protocol
// checks happen before op is ever invoked.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}

// commit flushes all output streams, flushes all indices, persists each
// pending set to the metadata keyspace, commits consumed positions on all
// input streams, and flushes the state store (§4.6 Commit).
func (e *Engine) commit(ctx context.Context) error {
	start := time.Now()

	for name, sink := range e.sinks {
		s := sink
		if err := withRetry(ctx, func() error { return s.Flush(ctx) }); err != nil {
			return fmt.Errorf("engine: flush sink %q: %w", name, err)
		}
	}
	for name, idx := range e.joinIndices {
		if err := idx.Flush(ctx); err != nil {
			return fmt.Errorf("engine: flush join index %q: %w", name, err)
		}
	}
	for name, idx := range e.parentIndices {
		if err := idx.Flush(ctx); err != nil {
			return fmt.Errorf("engine: flush parent index %q: %w", name, err)
		}
	}
	for _, root := range e.roots {
		set := e.pending[root.DenormalizedName]
		key := pendingSetKey(root.DenormalizedName)
		if err := e.store.Put(ctx, state.MetadataKeyspace, key, set.Serialize()); err != nil {
			return fmt.Errorf("engine: persist pending set %q: %w", root.DenormalizedName, err)
		}
	}
	if err := withRetry(ctx, func() error { return e.sched.CommitAll(ctx) }); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := withRetry(ctx, func() error { return e.store.Flush(ctx, "") }); err != nil {
		return fmt.Errorf("engine: flush state: %w", err)
	}

	if e.metrics != nil {
		e.metrics.ObserveCommit(time.Since(start))
	}
	return nil
}

// backup performs a commit, then invokes the state store's snapshot
// backup (§4.6 Backup).
func (e *Engine) backup(ctx context.Context) error {
	if err := e.commit(ctx); err != nil {
		return err
	}
	start := time.Now()
	if err := withRetry(ctx, func() error { return e.store.Backup(ctx) }); err != nil {
		return fmt.Errorf("engine: backup: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveBackup(time.Since(start))
		e.metrics.IncBackupsCreated()
	}
	return nil
}

// checkTriggers evaluates the durability watches at a transaction
// boundary or idle point (§4.6). Returns true if the run should
// terminate (runTime budget exhausted).
func (e *Engine) checkTriggers(ctx context.Context, now time.Time) (done bool, err error) {
	if e.cfg.BackupTimeS > 0 && now.Sub(e.backupWatch) >= time.Duration(e.cfg.BackupTimeS)*time.Second {
		if err := e.backup(ctx); err != nil {
			return false, err
		}
		e.backupWatch = now
		e.commitWatch = now
	} else if e.cfg.CommitTimeS > 0 && now.Sub(e.commitWatch) >= time.Duration(e.cfg.CommitTimeS)*time.Second {
		if err := e.commit(ctx); err != nil {
			return false, err
		}
		e.commitWatch = now
	}

	if !e.runDeadline.IsZero() && now.After(e.runDeadline) {
		if err := e.backup(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// drainIfTriggered runs the §4.4/§4.6 pending-drain rule: every root whose
// pending set exceeds create.records.trigger drains immediately (subject
// to no open transaction); at idle, every root with any pending work
// drains once total lag is at or below total.lag.trigger; at the
// end-of-transaction boundary (force), every root with any pending work
// drains unconditionally, since §4.6 requires the END of a transaction to
// flush the union of affected root PKs regardless of trigger size or lag.
func (e *Engine) drainIfTriggered(ctx context.Context, idle, force bool) error {
	if e.sched.InTransaction() {
		return nil
	}
	var idleLagOK bool
	if idle {
		perStream, err := e.sched.LagPerStream(ctx)
		if err != nil {
			return err
		}
		var total int64
		for name, lag := range perStream {
			total += lag
			if e.metrics != nil {
				e.metrics.SetLag(name, lag)
			}
		}
		if e.metrics != nil {
			e.metrics.SetTotalLag(total)
		}
		idleLagOK = total <= e.cfg.TotalLagTrigger
	}

	var totalPending int
	for _, root := range e.roots {
		size := e.pending[root.DenormalizedName].Len()
		totalPending += size
		if e.metrics != nil {
			e.metrics.SetPendingSize(root.DenormalizedName, size)
		}
		if size == 0 {
			continue
		}
		if force || size > e.cfg.CreateRecordsTrigger || (idle && idleLagOK) {
			if err := e.drainPending(ctx, root); err != nil {
				return err
			}
		}
	}
	if e.metrics != nil {
		e.metrics.SetTotalPending(totalPending)
	}
	return nil
}
