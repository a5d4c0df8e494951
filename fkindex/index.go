// Package fkindex implements the reversible foreign-key index described in
// §4.1: a map<key-bytes, set<key-bytes>> plus a reverse side that tracks,
// for a given member, which index-keys currently file it. It backs both
// the join index and the parent index (§3 Indices).
package fkindex

import (
	"context"
	"fmt"

	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/state"
)

// Index is a reversible foreign-key index built atop a state.Store. Reads
// and writes are buffered in memory and only made durable on Flush, so a
// single state.Flush can make an index and its sibling indices/pending
// sets durable as one consistent snapshot (§5 Shared resources).
type Index struct {
	name  string
	store state.Store

	forwardKS string
	reverseKS string

	// forward and reverse mirror the state store's persisted content plus
	// any buffered mutation from this session, so get/foreignKeysOf always
	// reflect prior add/remove calls even before a Flush (§4.1 get
	// contract).
	forward map[string]*pk.Set // index-key (as string) -> set of members
	reverse map[string]*pk.Set // member (as string) -> set of index-keys
	dirty   map[string]bool    // "forward:<key>" / "reverse:<key>" pending a write
}

// New constructs an Index named name, backed by two keyspaces of store:
// "<name>.fwd" and "<name>.rev". The keyspaces are created if absent.
func New(name string, store state.Store) (*Index, error) {
	forwardKS := name + ".fwd"
	reverseKS := name + ".rev"
	if err := store.CreateKeySpace(forwardKS); err != nil {
		return nil, fmt.Errorf("fkindex %s: create forward keyspace: %w", name, err)
	}
	if err := store.CreateKeySpace(reverseKS); err != nil {
		return nil, fmt.Errorf("fkindex %s: create reverse keyspace: %w", name, err)
	}
	return &Index{
		name:      name,
		store:     store,
		forwardKS: forwardKS,
		reverseKS: reverseKS,
		forward:   make(map[string]*pk.Set),
		reverse:   make(map[string]*pk.Set),
		dirty:     make(map[string]bool),
	}, nil
}

// Name returns the index's stable name.
func (idx *Index) Name() string {
	return idx.name
}

func (idx *Index) loadForward(ctx context.Context, indexKey pk.Key) (*pk.Set, error) {
	k := string(indexKey)
	if s, ok := idx.forward[k]; ok {
		return s, nil
	}
	raw, err := idx.store.Get(ctx, idx.forwardKS, indexKey)
	if err != nil {
		return nil, fmt.Errorf("fkindex %s: load forward %x: %w", idx.name, indexKey, err)
	}
	s, err := pk.DeserializeSet(raw)
	if err != nil {
		return nil, fmt.Errorf("fkindex %s: decode forward %x: %w", idx.name, indexKey, err)
	}
	idx.forward[k] = s
	return s, nil
}

func (idx *Index) loadReverse(ctx context.Context, member pk.Key) (*pk.Set, error) {
	k := string(member)
	if s, ok := idx.reverse[k]; ok {
		return s, nil
	}
	raw, err := idx.store.Get(ctx, idx.reverseKS, member)
	if err != nil {
		return nil, fmt.Errorf("fkindex %s: load reverse %x: %w", idx.name, member, err)
	}
	s, err := pk.DeserializeSet(raw)
	if err != nil {
		return nil, fmt.Errorf("fkindex %s: decode reverse %x: %w", idx.name, member, err)
	}
	idx.reverse[k] = s
	return s, nil
}

// Add inserts pk into forward[indexKey] and indexKey into reverse[pk].
// Idempotent (§4.1 add).
func (idx *Index) Add(ctx context.Context, indexKey, member pk.Key) error {
	fwd, err := idx.loadForward(ctx, indexKey)
	if err != nil {
		return err
	}
	rev, err := idx.loadReverse(ctx, member)
	if err != nil {
		return err
	}
	fwd.Add(member)
	rev.Add(indexKey)
	idx.dirty["forward:"+string(indexKey)] = true
	idx.dirty["reverse:"+string(member)] = true
	return nil
}

// Remove is the inverse of Add; tolerant of a missing member (§4.1
// remove).
func (idx *Index) Remove(ctx context.Context, indexKey, member pk.Key) error {
	fwd, err := idx.loadForward(ctx, indexKey)
	if err != nil {
		return err
	}
	rev, err := idx.loadReverse(ctx, member)
	if err != nil {
		return err
	}
	fwd.Remove(member)
	rev.Remove(indexKey)
	idx.dirty["forward:"+string(indexKey)] = true
	idx.dirty["reverse:"+string(member)] = true
	return nil
}

// Get returns the set of members filed under indexKey, or an empty set
// (§4.1 get).
func (idx *Index) Get(ctx context.Context, indexKey pk.Key) (*pk.Set, error) {
	return idx.loadForward(ctx, indexKey)
}

// ForeignKeysOf returns the set of index-keys currently filing member, used
// for scrubbing (§4.1 foreignKeysOf).
func (idx *Index) ForeignKeysOf(ctx context.Context, member pk.Key) (*pk.Set, error) {
	return idx.loadReverse(ctx, member)
}

// Flush makes all buffered writes durable in the state store (§4.1
// flush). Empty sets are deleted rather than persisted as an empty blob so
// the keyspace doesn't grow unbounded with tombstoned entries.
func (idx *Index) Flush(ctx context.Context) error {
	for k := range idx.dirty {
		kind, raw := k[:8], k[8:]
		switch kind {
		case "forward:":
			s := idx.forward[raw]
			if err := idx.persist(ctx, idx.forwardKS, []byte(raw), s); err != nil {
				return err
			}
		case "reverse:":
			s := idx.reverse[raw]
			if err := idx.persist(ctx, idx.reverseKS, []byte(raw), s); err != nil {
				return err
			}
		}
	}
	idx.dirty = make(map[string]bool)
	return idx.store.Flush(ctx, "")
}

func (idx *Index) persist(ctx context.Context, keyspace string, key []byte, s *pk.Set) error {
	if s == nil || s.Len() == 0 {
		if err := idx.store.Delete(ctx, keyspace, key); err != nil {
			return fmt.Errorf("fkindex %s: delete %s/%x: %w", idx.name, keyspace, key, err)
		}
		return nil
	}
	if err := idx.store.Put(ctx, keyspace, key, s.Serialize()); err != nil {
		return fmt.Errorf("fkindex %s: put %s/%x: %w", idx.name, keyspace, key, err)
	}
	return nil
}

// Violation describes a forward/reverse invariant break found by Verify.
type Violation struct {
	IndexKey pk.Key
	Member   pk.Key
	// Direction is "forward-missing-reverse" or "reverse-missing-forward".
	Direction string
}

// Verify walks every forward and reverse entry and reports any pair
// (k, member) where member ∈ forward[k] does not imply k ∈
// reverse[member], or vice versa (§4.1 verify, §8 testable property 1).
func (idx *Index) Verify(ctx context.Context) ([]Violation, error) {
	it, ok := idx.store.(state.IteratingStore)
	if !ok {
		return nil, fmt.Errorf("fkindex %s: verify requires an IteratingStore", idx.name)
	}

	var violations []Violation

	fwdIt, err := it.Iterate(ctx, idx.forwardKS)
	if err != nil {
		return nil, fmt.Errorf("fkindex %s: iterate forward: %w", idx.name, err)
	}
	defer fwdIt.Close()
	for fwdIt.Next() {
		indexKey := pk.New(fwdIt.Key())
		raw, err := fwdIt.Value()
		if err != nil {
			return nil, err
		}
		members, err := pk.DeserializeSet(raw)
		if err != nil {
			return nil, err
		}
		for _, member := range members.Keys() {
			rev, err := idx.ForeignKeysOf(ctx, member)
			if err != nil {
				return nil, err
			}
			if !rev.Contains(indexKey) {
				violations = append(violations, Violation{IndexKey: indexKey, Member: member, Direction: "forward-missing-reverse"})
			}
		}
	}
	if err := fwdIt.Err(); err != nil {
		return nil, err
	}

	revIt, err := it.Iterate(ctx, idx.reverseKS)
	if err != nil {
		return nil, fmt.Errorf("fkindex %s: iterate reverse: %w", idx.name, err)
	}
	defer revIt.Close()
	for revIt.Next() {
		member := pk.New(revIt.Key())
		raw, err := revIt.Value()
		if err != nil {
			return nil, err
		}
		indexKeys, err := pk.DeserializeSet(raw)
		if err != nil {
			return nil, err
		}
		for _, indexKey := range indexKeys.Keys() {
			fwd, err := idx.Get(ctx, indexKey)
			if err != nil {
				return nil, err
			}
			if !fwd.Contains(member) {
				violations = append(violations, Violation{IndexKey: indexKey, Member: member, Direction: "reverse-missing-forward"})
			}
		}
	}
	if err := revIt.Err(); err != nil {
		return nil, err
	}

	return violations, nil
}
