package pk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Set is a compact, serializable set of Keys. It backs the pending set
// (§3 Pending set), and the forward/reverse halves of a foreign-key index
// (§4.1).
type Set struct {
	members map[hashKey]Key
}

// NewSet builds a Set from the given keys.
func NewSet(keys ...Key) *Set {
	s := &Set{members: make(map[hashKey]Key, len(keys))}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add inserts k into the set. Idempotent.
func (s *Set) Add(k Key) {
	if s.members == nil {
		s.members = make(map[hashKey]Key)
	}
	s.members[toHashKey(k)] = k
}

// Remove deletes k from the set. Tolerant of a missing member.
func (s *Set) Remove(k Key) {
	if s.members == nil {
		return
	}
	delete(s.members, toHashKey(k))
}

// Contains reports whether k is a member.
func (s *Set) Contains(k Key) bool {
	if s.members == nil {
		return false
	}
	_, ok := s.members[toHashKey(k)]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	return len(s.members)
}

// Keys returns the members in unspecified order.
func (s *Set) Keys() []Key {
	out := make([]Key, 0, len(s.members))
	for _, k := range s.members {
		out = append(out, k)
	}
	return out
}

// SortedKeys returns the members in ascending canonical byte order, the
// order required for deterministic child emission (§3, §4.5).
func (s *Set) SortedKeys() []Key {
	out := s.Keys()
	Sort(out)
	return out
}

// Union adds every member of other into s.
func (s *Set) Union(other *Set) {
	if other == nil {
		return
	}
	for _, k := range other.members {
		s.Add(k)
	}
}

// Clear empties the set without releasing the backing map.
func (s *Set) Clear() {
	for k := range s.members {
		delete(s.members, k)
	}
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	out := &Set{members: make(map[hashKey]Key, len(s.members))}
	for k, v := range s.members {
		out.members[k] = v
	}
	return out
}

// Serialize encodes the set as a tightly packed sequence of length-prefixed
// byte keys (§9 Pending set persistence), suitable for storage under the
// reserved metadata keyspace.
func (s *Set) Serialize() []byte {
	var buf bytes.Buffer
	for _, k := range s.members {
		encodeLenPrefixed(&buf, k)
	}
	return buf.Bytes()
}

// DeserializeSet decodes bytes produced by Serialize. A nil or empty input
// yields an empty, non-nil set so callers never need a nil check.
func DeserializeSet(data []byte) (*Set, error) {
	s := &Set{members: make(map[hashKey]Key)}
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("read key length: %w", err)
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("read key bytes: %w", err)
		}
		s.Add(Key(buf))
	}
	return s, nil
}
