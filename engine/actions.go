package engine

import "context"

// Restore restores the state store from its latest snapshot backup, the
// CLI's --restore action (§6 CLI surface).
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.store.Restore(ctx); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.IncBackupsRestored()
	}
	return nil
}

// DeleteState wipes the state store's data, the CLI's --delete-state
// action (§6 CLI surface). It does not touch backups.
func (e *Engine) DeleteState(ctx context.Context) error {
	return e.store.DeleteAll(ctx)
}

// DeleteBackups wipes all snapshot backups, the CLI's --delete-backup
// action (§6 CLI surface).
func (e *Engine) DeleteBackups(ctx context.Context) error {
	if err := e.store.DeleteBackups(ctx); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.IncBackupsDeleted()
	}
	return nil
}
