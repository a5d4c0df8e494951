// Package record defines the opaque record envelope produced by source
// decoders and the transaction metadata carried alongside it (§3 Record,
// §4.3 Merge-by-time scheduler transactions).
package record

// Record is an opaque key/value envelope produced by a source decoder.
// Concrete formats (JSON, Avro, protobuf, ...) implement this interface;
// the engine never depends on a specific wire format.
type Record interface {
	// Get returns the value of the named field, or nil if absent.
	Get(field string) any
	// ToMap converts the record to a flat field-name -> value map, used to
	// build the flat "record" portion of a denormalized output node.
	ToMap() map[string]any
	// IsEmpty reports whether the record carries no data. An empty record
	// is treated the same as a missing one when building denormalized
	// output (§4.5: "If missing or empty, the subtree produces null.").
	IsEmpty() bool
}

// TxnCarrier is optionally implemented by a Record to expose the upstream
// transaction metadata used by the merge-by-time scheduler's tie-break
// rules (§4.3).
type TxnCarrier interface {
	Txn() (Txn, bool)
}

// Txn is the transaction metadata attached to a source record.
type Txn struct {
	// ID identifies the upstream transaction this record belongs to.
	ID string
	// TotalOrder is this record's position within the transaction,
	// assigned by the upstream. The synthetic transactions stream uses
	// TotalOrderBegin for BEGIN and TotalOrderEnd for END so BEGIN sorts
	// before, and END after, every event tagged with the transaction.
	TotalOrder int64
}

// TotalOrderBegin and TotalOrderEnd are the synthetic ordering values
// assigned to a transaction's BEGIN and END envelopes (§4.3 rule 3).
const (
	TotalOrderBegin int64 = -1
	TotalOrderEnd   int64 = 1<<63 - 1 // effectively +Inf for int64 total_order
)

// TxnOf extracts transaction metadata from r, if r implements TxnCarrier.
func TxnOf(r Record) (Txn, bool) {
	if r == nil {
		return Txn{}, false
	}
	if tc, ok := r.(TxnCarrier); ok {
		return tc.Txn()
	}
	return Txn{}, false
}

// Map is the simplest concrete Record: a plain field map, used by the
// in-memory stream fixtures and by any decoder that already produces
// map[string]any values (e.g. a JSON decoder).
type Map struct {
	Fields map[string]any
	// TxnMeta is optional transaction metadata attached to this record.
	TxnMeta *Txn
}

var (
	_ Record     = Map{}
	_ TxnCarrier = Map{}
)

// NewMap wraps a flat field map as a Record with no transaction metadata.
func NewMap(fields map[string]any) Map {
	return Map{Fields: fields}
}

// Get implements Record.
func (m Map) Get(field string) any {
	if m.Fields == nil {
		return nil
	}
	return m.Fields[field]
}

// ToMap implements Record.
func (m Map) ToMap() map[string]any {
	out := make(map[string]any, len(m.Fields))
	for k, v := range m.Fields {
		out[k] = v
	}
	return out
}

// IsEmpty implements Record.
func (m Map) IsEmpty() bool {
	return len(m.Fields) == 0
}

// Txn implements TxnCarrier.
func (m Map) Txn() (Txn, bool) {
	if m.TxnMeta == nil {
		return Txn{}, false
	}
	return *m.TxnMeta, true
}
