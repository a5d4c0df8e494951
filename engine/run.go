package engine

import (
	"context"
	"time"

	"github.com/acksell/confluence/scheduler"
)

// Run executes the probe/merge/emit loop until ctx is canceled or, if
// Config.RunTime is set, until the run deadline computed in Open elapses
// (§5 Scheduling model, §4.6 runWatch). A single driver goroutine owns
// every mutation of engine state; no locking is required (§5).
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		default:
		}

		popped, err := e.sched.Next(ctx)
		if err != nil {
			// Transient I/O or a protocol invariant violation: surface it
			// and stop, leaving durable state at the last commit (§7).
			return err
		}

		if popped == nil {
			if err := e.drainIfTriggered(ctx, true, false); err != nil {
				return err
			}
			done, err := e.checkTriggers(ctx, time.Now())
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			select {
			case <-ctx.Done():
				return e.shutdown()
			case <-time.After(scheduler.ProbeIdleSleep):
			}
			continue
		}

		if e.metrics != nil {
			e.metrics.IncConsumed(popped.Stream)
		}

		if popped.Stream != scheduler.TransactionsStreamName {
			if err := e.absorb(ctx, popped.Stream, popped.Record); err != nil {
				return err
			}
			if err := e.drainIfTriggered(ctx, false, false); err != nil {
				return err
			}
			continue
		}

		// A control record was popped. End-of-transaction flush/trigger
		// checks run only once the transaction has actually closed
		// (BEGIN leaves InTransaction true; END clears it). §4.6 requires
		// the END boundary to flush every root with pending work
		// unconditionally, not just those over create.records.trigger.
		if e.sched.InTransaction() {
			continue
		}
		if err := e.drainIfTriggered(ctx, false, true); err != nil {
			return err
		}
		done, err := e.checkTriggers(ctx, time.Now())
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// shutdown runs on context cancellation. A cooperative shutdown honors
// backup.on.shutdown (§12 Supplemented features) using a fresh context
// since the caller's is already canceled.
func (e *Engine) shutdown() error {
	if e.cfg.BackupOnShutdown {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.backup(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// Build runs Open followed by Run, the behavior of the CLI's --build
// action (§6 CLI surface, §12 order restore -> delete-backup/state ->
// build).
func (e *Engine) Build(ctx context.Context) error {
	if err := e.Open(ctx); err != nil {
		return err
	}
	return e.Run(ctx)
}
