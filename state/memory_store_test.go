package state_test

import (
	"context"
	"testing"

	"github.com/acksell/confluence/state"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) state.Store {
	s := state.NewMemoryStore()
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateKeySpace("ks1"))

	v, err := s.Get(ctx, "ks1", []byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.Put(ctx, "ks1", []byte("k1"), []byte("v1")))
	v, err = s.Get(ctx, "ks1", []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, "ks1", []byte("k1")))
	v, err = s.Get(ctx, "ks1", []byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMemoryStore_KeyspacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateKeySpace("a"))
	require.NoError(t, s.CreateKeySpace("b"))

	require.NoError(t, s.Put(ctx, "a", []byte("k"), []byte("in-a")))
	v, err := s.Get(ctx, "b", []byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMemoryStore_BackupRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateKeySpace("ks1"))
	require.NoError(t, s.Put(ctx, "ks1", []byte("k1"), []byte("v1")))
	require.NoError(t, s.Backup(ctx))

	require.NoError(t, s.Put(ctx, "ks1", []byte("k1"), []byte("v2")))
	v, err := s.Get(ctx, "ks1", []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)

	require.NoError(t, s.Restore(ctx))
	v, err = s.Get(ctx, "ks1", []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}

func TestMemoryStore_RestoreWithoutBackupFails(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.Restore(context.Background()))
}

func TestMemoryStore_Iterate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateKeySpace("ks1"))
	require.NoError(t, s.Put(ctx, "ks1", []byte("k1"), []byte("v1")))
	require.NoError(t, s.Put(ctx, "ks1", []byte("k2"), []byte("v2")))

	it, err := s.(state.IteratingStore).Iterate(ctx, "ks1")
	require.NoError(t, err)
	defer it.Close()

	seen := map[string]string{}
	for it.Next() {
		v, err := it.Value()
		require.NoError(t, err)
		seen[string(it.Key())] = string(v)
	}
	require.NoError(t, it.Err())
	require.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, seen)
}
