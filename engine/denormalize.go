package engine

import (
	"context"
	"fmt"

	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/record"
	"github.com/acksell/confluence/relation"
)

// drainPending runs the denormalize/emit step (§4.5) for every PK
// currently in root's pending set, then clears it. Called by the
// durability controller when a flush condition is met (§4.4, §4.6).
func (e *Engine) drainPending(ctx context.Context, root *relation.Relation) error {
	pending := e.pending[root.DenormalizedName]
	if pending.Len() == 0 {
		return nil
	}
	sink := e.sinks[root.DenormalizedName]

	for _, rootPK := range pending.SortedKeys() {
		if err := e.scrubParentIndices(ctx, root, rootPK); err != nil {
			return fmt.Errorf("engine: scrub %s: %w", root.DenormalizedName, err)
		}
		denorm, err := e.buildNode(ctx, root, root, rootPK, rootPK)
		if err != nil {
			return fmt.Errorf("engine: build %s: %w", root.DenormalizedName, err)
		}
		if denorm == nil {
			// Tombstone on the root: the scrub already severed its
			// parent-index filings, so nothing is written (§4.5 Emit).
			continue
		}
		e.log.Debug("writing denormalized record", "root", root.DenormalizedName, "root_pk", rootPK.String(), "record", denorm)
		if err := sink.Write(ctx, rootPK, denorm); err != nil {
			return fmt.Errorf("engine: write %s: %w", root.DenormalizedName, err)
		}
		if e.metrics != nil {
			e.metrics.IncEmitted(root.DenormalizedName)
		}
	}
	pending.Clear()
	return nil
}

// scrubParentIndices removes every parent-index filing of rootPK across
// the subtree rooted at root (§4.5 step 1), so a re-materialized record
// referencing different parent keys doesn't leave a stale filing behind.
func (e *Engine) scrubParentIndices(ctx context.Context, root *relation.Relation, rootPK pk.Key) error {
	for _, edge := range relation.Edges(root) {
		parentIdx, err := e.parentIndex(root, edge)
		if err != nil {
			return err
		}
		filedUnder, err := parentIdx.ForeignKeysOf(ctx, rootPK)
		if err != nil {
			return err
		}
		for _, indexKey := range filedUnder.Keys() {
			if err := parentIdx.Remove(ctx, indexKey, rootPK); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildNode recursively builds the denormalized subtree rooted at node,
// reading node's record at relationPK, refiling the parent index for
// every child edge, and recursing into the join index's current members
// (§4.5 step 2). rootPK identifies the enclosing root record throughout
// the recursion, since every parent-index filing is scoped to the root.
func (e *Engine) buildNode(ctx context.Context, root, node *relation.Relation, relationPK, rootPK pk.Key) (*record.Denormalized, error) {
	source, ok := e.streams[node.Entity]
	if !ok {
		return nil, fmt.Errorf("no input stream configured for entity %q", node.Entity)
	}
	cr, err := source.ReadByPK(ctx, relationPK)
	if err != nil {
		return nil, fmt.Errorf("read %s by pk: %w", node.Entity, err)
	}
	if cr == nil || cr.Value == nil || cr.Value.IsEmpty() {
		return nil, nil // missing or empty: the subtree produces null (§7)
	}

	denorm := record.NewDenormalized(cr.Value.ToMap())

	for _, child := range node.Children {
		newParentValue := pk.FromAny(fieldOf(cr.Value, child.ParentKey))

		parentIdx, err := e.parentIndex(root, relation.Edge{Parent: node, Child: child})
		if err != nil {
			return nil, err
		}
		if !newParentValue.IsZero() {
			// Re-create exactly the filing the scrub step removed.
			if err := parentIdx.Add(ctx, newParentValue, rootPK); err != nil {
				return nil, err
			}
		}

		children := []*record.Denormalized{}
		if !newParentValue.IsZero() {
			joinIdx, err := e.joinIndex(child)
			if err != nil {
				return nil, err
			}
			childPKs, err := joinIdx.Get(ctx, newParentValue)
			if err != nil {
				return nil, err
			}
			for _, childPK := range childPKs.SortedKeys() {
				childNode, err := e.buildNode(ctx, root, child, childPK, rootPK)
				if err != nil {
					return nil, err
				}
				if childNode != nil {
					children = append(children, childNode)
				}
			}
		}
		denorm.SetChildren(child.Entity, children)
	}

	return denorm, nil
}
