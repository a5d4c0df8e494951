package stream

import (
	"context"
	"sync"
	"time"

	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/record"
)

// MemorySource is an in-memory Source used by tests to drive the
// scheduler and engine through the end-to-end scenarios without a real
// broker. Records are appended with Publish; ReadNext yields everything
// published since the previous ReadNext call. Commit only moves the
// committed position that GetLag measures from.
type MemorySource struct {
	mu        sync.Mutex
	topic     string
	events    []ConsumerRecord
	cursor    int // index of next record to yield
	committed int // index up to which Commit has persisted
	latest    map[string]ConsumerRecord
}

// NewMemorySource constructs an empty MemorySource for the given topic
// name.
func NewMemorySource(topic string) *MemorySource {
	return &MemorySource{
		topic:  topic,
		latest: make(map[string]ConsumerRecord),
	}
}

var _ Source = (*MemorySource)(nil)

// Publish appends a record to the stream, as if produced by an external
// writer. A nil value publishes a tombstone.
func (s *MemorySource) Publish(key pk.Key, value record.Record) {
	s.PublishAt(key, value, time.Time{})
}

// PublishAt is Publish with an explicit record timestamp, used by tests
// that exercise the scheduler's timestamp-ordering rule.
func (s *MemorySource) PublishAt(key pk.Key, value record.Record, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr := ConsumerRecord{Key: key, Value: value, Timestamp: ts}
	s.events = append(s.events, cr)
	if value == nil {
		delete(s.latest, string(key))
	} else {
		s.latest[string(key)] = cr
	}
}

func (s *MemorySource) ReadNext(context.Context) ([]ConsumerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.events) {
		return nil, nil
	}
	batch := append([]ConsumerRecord(nil), s.events[s.cursor:]...)
	s.cursor = len(s.events)
	return batch, nil
}

func (s *MemorySource) ReadByPK(_ context.Context, key pk.Key) (*ConsumerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr, ok := s.latest[string(key)]
	if !ok {
		return nil, nil
	}
	out := cr
	return &out, nil
}

func (s *MemorySource) GetLag(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events) - s.committed), nil
}

func (s *MemorySource) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = s.cursor
	return nil
}

func (s *MemorySource) GetTopicName() string {
	return s.topic
}

// CommittedOffset exposes the committed cursor for test assertions.
func (s *MemorySource) CommittedOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// MemorySink is an in-memory Sink recording every write for test
// assertions, keyed by the last value written per key (later writes
// overwrite earlier ones, matching a compacted output topic's semantics).
type MemorySink struct {
	mu      sync.Mutex
	written []struct {
		Key   pk.Key
		Value *record.Denormalized
	}
	latest  map[string]*record.Denormalized
	flushes int
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{latest: make(map[string]*record.Denormalized)}
}

var _ Sink = (*MemorySink)(nil)

func (s *MemorySink) Write(_ context.Context, key pk.Key, value *record.Denormalized) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, struct {
		Key   pk.Key
		Value *record.Denormalized
	}{Key: key, Value: value})
	s.latest[string(key)] = value
	return nil
}

func (s *MemorySink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Latest returns the most recently written value for key, or nil if never
// written.
func (s *MemorySink) Latest(key pk.Key) *record.Denormalized {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[string(key)]
}

// WriteCount returns the total number of Write calls, including
// overwrites, for tests asserting on emit counts.
func (s *MemorySink) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

// FlushCount returns the number of Flush calls.
func (s *MemorySink) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}
