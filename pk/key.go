// Package pk defines the canonical primary-key byte type shared by every
// index, stream record, and denormalized output in the engine.
package pk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/constraints"
)

// Key is the raw key bytes of an input or output record, treated as an
// opaque, comparable, hashable value. It is the identity used by every
// index and by output topics.
type Key []byte

// New copies b into a new Key so callers can safely reuse their buffer.
func New(b []byte) Key {
	if b == nil {
		return nil
	}
	k := make(Key, len(b))
	copy(k, b)
	return k
}

// FromString is a convenience constructor for string-keyed entities.
func FromString(s string) Key {
	return Key(s)
}

// String renders the key for logs and debug output. Not used for encoding.
func (k Key) String() string {
	return fmt.Sprintf("%x", []byte(k))
}

// Compare returns -1, 0, or 1 following canonical byte order, the ordering
// used to sort child sequences under a denormalized record (§3 Denormalized
// record, §4.5 emit).
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Equal reports byte-for-byte equality.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// IsZero reports whether the key carries no bytes, used to represent a null
// join/parent-key value (e.g. a tombstoned or missing field).
func (k Key) IsZero() bool {
	return len(k) == 0
}

// Numeric is a constraint for every numeric type a decoded record value
// might carry.
type Numeric interface {
	constraints.Integer | constraints.Float
}

// FromNumber renders a numeric field value into a canonical Key using a
// fixed decimal format. Plain fmt formatting of a float64 switches to
// scientific notation past a certain magnitude while the same logical
// value decoded as an int64 never does, so a join key computed from a
// JSON-decoded parent ID (float64) would silently fail to match one
// computed from an Avro-decoded copy of the same ID (int64). Routing
// every numeric type through this generic keeps the byte encoding tied
// to the value, not to which decoder happened to produce it.
func FromNumber[T Numeric](v T) Key {
	f := float64(v)
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return Key(strconv.FormatInt(int64(f), 10))
	}
	return Key(strconv.FormatFloat(f, 'f', -1, 64))
}

// FromAny converts a decoded field value into a canonical Key. A nil value
// yields a nil (zero) Key, representing an absent or null field (§3
// Primary key, §4.4: "null if the record is a tombstone"). Recognized
// numeric types are routed through FromNumber; every other value falls
// back to fmt.Sprintf.
func FromAny(v any) Key {
	if v == nil {
		return nil
	}
	switch n := v.(type) {
	case string:
		return Key(n)
	case int:
		return FromNumber(n)
	case int8:
		return FromNumber(n)
	case int16:
		return FromNumber(n)
	case int32:
		return FromNumber(n)
	case int64:
		return FromNumber(n)
	case uint:
		return FromNumber(n)
	case uint8:
		return FromNumber(n)
	case uint16:
		return FromNumber(n)
	case uint32:
		return FromNumber(n)
	case uint64:
		return FromNumber(n)
	case float32:
		return FromNumber(n)
	case float64:
		return FromNumber(n)
	default:
		return Key(fmt.Sprintf("%v", v))
	}
}

// hashKey is used as the comparable map key since a Go slice cannot be used
// directly as a map key.
type hashKey = string

func toHashKey(k Key) hashKey {
	return hashKey(k)
}

// Sort sorts keys ascending by canonical byte order in place.
func Sort(keys []Key) {
	// insertion sort is fine; index fan-outs are small in practice, and
	// avoiding sort.Slice's reflection overhead keeps this on the hot path
	// cheap for the common case of a handful of children per parent.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1].Compare(keys[j]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

// encodeLenPrefixed writes a length-prefixed key to buf, used by Set's
// serialization format (§3 Pending set: "a tightly packed sequence of
// length-prefixed byte keys").
func encodeLenPrefixed(buf *bytes.Buffer, k Key) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(k)))
	buf.Write(lenBuf[:n])
	buf.Write(k)
}
