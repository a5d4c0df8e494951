package engine

import (
	"context"
	"fmt"

	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/relation"
	"github.com/acksell/confluence/stream"
)

// absorb implements change absorption (§4.4) for one popped non-transaction
// record: for every root relation, it either adds the record's PK straight
// to the pending set (the record's entity is the root), or resolves the
// (parent, child) edge it belongs to and propagates the join-index update.
func (e *Engine) absorb(ctx context.Context, streamName string, cr stream.ConsumerRecord) error {
	pkKey := cr.Key

	for _, root := range e.roots {
		if streamName == root.Entity {
			e.pending[root.DenormalizedName].Add(pkKey)
			continue
		}

		parent, child := relation.Find(root, streamName)
		if child == nil || parent == nil {
			continue // entity unused by this root
		}

		var newParentValue pk.Key
		if cr.Value != nil {
			newParentValue = pk.FromAny(fieldOf(cr.Value, child.JoinKey))
		}

		joinIdx, err := e.joinIndex(child)
		if err != nil {
			return err
		}
		parentIdx, err := e.parentIndex(root, relation.Edge{Parent: parent, Child: child})
		if err != nil {
			return err
		}

		oldParentValues, err := joinIdx.ForeignKeysOf(ctx, pkKey)
		if err != nil {
			return fmt.Errorf("engine: absorb %s: %w", streamName, err)
		}

		pending := e.pending[root.DenormalizedName]
		for _, old := range oldParentValues.Keys() {
			if old.Equal(newParentValue) {
				continue
			}
			affected, err := parentIdx.Get(ctx, old)
			if err != nil {
				return fmt.Errorf("engine: absorb %s: %w", streamName, err)
			}
			pending.Union(affected)
		}
		if !newParentValue.IsZero() {
			affected, err := parentIdx.Get(ctx, newParentValue)
			if err != nil {
				return fmt.Errorf("engine: absorb %s: %w", streamName, err)
			}
			pending.Union(affected)
		}

		for _, old := range oldParentValues.Keys() {
			if old.Equal(newParentValue) {
				continue
			}
			if err := joinIdx.Remove(ctx, old, pkKey); err != nil {
				return fmt.Errorf("engine: absorb %s: %w", streamName, err)
			}
		}
		if !newParentValue.IsZero() {
			if err := joinIdx.Add(ctx, newParentValue, pkKey); err != nil {
				return fmt.Errorf("engine: absorb %s: %w", streamName, err)
			}
		}
	}
	return nil
}
