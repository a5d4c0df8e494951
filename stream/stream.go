// Package stream defines the input/output stream client interfaces the
// engine consumes (§6 Stream client), plus an in-memory test double.
// Concrete backends live in subpackages, e.g. stream/kafkastream.
package stream

import (
	"context"
	"time"

	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/record"
)

// ConsumerRecord is one event read from an input stream. A nil Value
// represents a tombstone (§6: "A null value_record is a tombstone").
type ConsumerRecord struct {
	Key       pk.Key
	Value     record.Record
	Timestamp time.Time
	// Metadata carries transport-specific attributes (e.g. Kafka headers)
	// the scheduler and engine don't interpret directly but may log.
	Metadata map[string]string
}

// IsTombstone reports whether this record represents a deletion.
func (c ConsumerRecord) IsTombstone() bool {
	return c.Value == nil
}

// Source is a per-entity input stream (§6 Stream client (input)).
type Source interface {
	// ReadNext returns the next batch of records since the last call, or
	// an empty batch if none are currently available. It never blocks
	// past the underlying transport's own poll timeout.
	ReadNext(ctx context.Context) ([]ConsumerRecord, error)
	// ReadByPK returns the current record for key, or nil if absent. Used
	// to re-fetch a record the pending set references but that has aged
	// out of any in-process cache.
	ReadByPK(ctx context.Context, key pk.Key) (*ConsumerRecord, error)
	// GetLag returns the number of records behind the stream's head.
	GetLag(ctx context.Context) (int64, error)
	// Commit persists the consumed position up to the latest record
	// yielded by ReadNext.
	Commit(ctx context.Context) error
	// GetTopicName returns the stream's stable physical identifier. The
	// scheduler's data_collections matching does not call it; it matches
	// against the alias each stream is registered under.
	GetTopicName() string
}

// Sink is a per-root output stream (§6 Stream client (output)).
type Sink interface {
	Write(ctx context.Context, key pk.Key, value *record.Denormalized) error
	Flush(ctx context.Context) error
}
