package fkindex_test

import (
	"context"
	"testing"

	"github.com/acksell/confluence/fkindex"
	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/state"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) (*fkindex.Index, state.Store) {
	s := state.NewMemoryStore()
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	idx, err := fkindex.New("join", s)
	require.NoError(t, err)
	return idx, s
}

func TestIndex_AddGet(t *testing.T) {
	ctx := context.Background()
	idx, _ := newIndex(t)

	joinKey := pk.FromString("user-1")
	child1 := pk.FromString("order-1")
	child2 := pk.FromString("order-2")

	require.NoError(t, idx.Add(ctx, joinKey, child1))
	require.NoError(t, idx.Add(ctx, joinKey, child2))

	members, err := idx.Get(ctx, joinKey)
	require.NoError(t, err)
	require.Equal(t, 2, members.Len())
	require.True(t, members.Contains(child1))
	require.True(t, members.Contains(child2))
}

func TestIndex_ForeignKeysOf(t *testing.T) {
	ctx := context.Background()
	idx, _ := newIndex(t)

	child := pk.FromString("order-1")
	require.NoError(t, idx.Add(ctx, pk.FromString("user-1"), child))
	require.NoError(t, idx.Add(ctx, pk.FromString("user-2"), child))

	fks, err := idx.ForeignKeysOf(ctx, child)
	require.NoError(t, err)
	require.Equal(t, 2, fks.Len())
}

func TestIndex_Remove(t *testing.T) {
	ctx := context.Background()
	idx, _ := newIndex(t)

	joinKey := pk.FromString("user-1")
	child := pk.FromString("order-1")
	require.NoError(t, idx.Add(ctx, joinKey, child))
	require.NoError(t, idx.Remove(ctx, joinKey, child))

	members, err := idx.Get(ctx, joinKey)
	require.NoError(t, err)
	require.Equal(t, 0, members.Len())

	fks, err := idx.ForeignKeysOf(ctx, child)
	require.NoError(t, err)
	require.Equal(t, 0, fks.Len())
}

func TestIndex_RemoveMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	idx, _ := newIndex(t)
	require.NoError(t, idx.Remove(ctx, pk.FromString("missing"), pk.FromString("also-missing")))
}

func TestIndex_SurvivesFlushAndReload(t *testing.T) {
	ctx := context.Background()
	s := state.NewMemoryStore()
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	idx, err := fkindex.New("join", s)
	require.NoError(t, err)

	joinKey := pk.FromString("user-1")
	child := pk.FromString("order-1")
	require.NoError(t, idx.Add(ctx, joinKey, child))
	require.NoError(t, idx.Flush(ctx))

	// A fresh Index over the same store must observe the persisted state.
	reopened, err := fkindex.New("join", s)
	require.NoError(t, err)
	members, err := reopened.Get(ctx, joinKey)
	require.NoError(t, err)
	require.True(t, members.Contains(child))
}

func TestIndex_Verify_CleanIndexHasNoViolations(t *testing.T) {
	ctx := context.Background()
	idx, _ := newIndex(t)

	require.NoError(t, idx.Add(ctx, pk.FromString("user-1"), pk.FromString("order-1")))
	require.NoError(t, idx.Add(ctx, pk.FromString("user-2"), pk.FromString("order-2")))
	require.NoError(t, idx.Flush(ctx))

	violations, err := idx.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestIndex_Verify_DetectsForwardOnlyCorruption(t *testing.T) {
	ctx := context.Background()
	idx, s := newIndex(t)

	joinKey := pk.FromString("user-1")
	child := pk.FromString("order-1")
	require.NoError(t, idx.Add(ctx, joinKey, child))
	require.NoError(t, idx.Flush(ctx))

	// Corrupt the store directly: drop the reverse-side entry so the
	// forward half no longer has a matching reverse entry.
	require.NoError(t, s.Delete(ctx, "join.rev", child))

	corrupted, err := fkindex.New("join", s)
	require.NoError(t, err)
	violations, err := corrupted.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, "forward-missing-reverse", violations[0].Direction)
}
