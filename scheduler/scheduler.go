// Package scheduler implements the merge-by-time scheduler that produces
// the order in which records are processed across input streams (§4.3),
// including the transactions-stream BEGIN/END protocol.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acksell/confluence/record"
	"github.com/acksell/confluence/stream"
)

// TransactionsStreamName is the reserved stream name carrying BEGIN/END
// transaction envelopes (§4.3 Transactions).
const TransactionsStreamName = "transactions"

// ErrProtocolViolation is wrapped by every error the scheduler raises when
// an input stream breaks the transactions-stream protocol (§7 Errors: a
// record claims a transaction that never began, or an END doesn't match
// the open transaction, or a transactions envelope has an unrecognized
// status). Distinct from the ordinary wrapped I/O errors that need no
// sentinel.
var ErrProtocolViolation = errors.New("scheduler: protocol violation")

// ProbeIdleSleep is the delay applied by callers when a probe sweep finds
// no ready records across any stream (§5 Suspension points).
const ProbeIdleSleep = 5 * time.Millisecond

// Popped is one record handed out by Next, alongside the name of the
// stream it came from.
type Popped struct {
	Stream string
	Record stream.ConsumerRecord
	// IsControl is true when Stream == TransactionsStreamName; the caller
	// runs the durability/transaction protocol for these instead of
	// change absorption (§4.4 applies only to non-transaction records).
	IsControl bool
}

// Scheduler merges records from a fixed set of named input streams into a
// single time-ordered sequence (§4.3).
type Scheduler struct {
	holders map[string]*holder
	queue   *pqueue
	toProbe map[string]bool
	alias   func(string) string

	currentTxn *string
	txnCounts  map[string]int // stream alias -> records observed since BEGIN
}

// New constructs a Scheduler over streams, keyed by stream alias. One
// entry must be named TransactionsStreamName for transaction handling to
// apply; a deployment with no transactions stream degrades to plain
// timestamp-ordered merge, since rules 2 and 3 never activate without one.
//
// alias normalizes a physical topic name — as it appears in a
// transactions envelope's data_collections.data_collection field — into
// the stream alias keys used by streams/toProbe/txnCounts (§9's
// topics.prefixed open question: physical topics are commonly prefixed,
// but streams are keyed by the bare entity name). A nil alias is the
// identity function, for a deployment with topics.prefixed disabled or
// no prefix configured at all.
func New(streams map[string]stream.Source, alias func(string) string) *Scheduler {
	if alias == nil {
		alias = func(name string) string { return name }
	}
	s := &Scheduler{
		holders:   make(map[string]*holder, len(streams)),
		toProbe:   make(map[string]bool, len(streams)),
		txnCounts: make(map[string]int),
		alias:     alias,
	}
	s.queue = &pqueue{sched: s}
	for name, src := range streams {
		s.holders[name] = &holder{name: name, source: src}
		s.toProbe[name] = true
	}
	return s
}

// LagPerStream returns each input stream's current consumer lag, keyed by
// stream alias (§4.7 per-input lag gauge).
func (s *Scheduler) LagPerStream(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(s.holders))
	for name, h := range s.holders {
		lag, err := h.source.GetLag(ctx)
		if err != nil {
			return nil, fmt.Errorf("scheduler: lag for %q: %w", name, err)
		}
		out[name] = lag
	}
	return out, nil
}

// CommitAll commits every input stream's consumed position (§4.6 Commit).
func (s *Scheduler) CommitAll(ctx context.Context) error {
	for name, h := range s.holders {
		if err := h.source.Commit(ctx); err != nil {
			return fmt.Errorf("scheduler: commit %q: %w", name, err)
		}
	}
	return nil
}

// InTransaction reports whether a transaction is currently open, meaning
// no emit flush is allowed (§4.4: "Flush is allowed iff current_txn is
// null.").
func (s *Scheduler) InTransaction() bool {
	return s.currentTxn != nil
}

// probe reads the next available batch for every stream with no buffered
// head element and adds it to the merge queue.
func (s *Scheduler) probe(ctx context.Context) error {
	for name := range s.toProbe {
		h := s.holders[name]
		batch, err := h.source.ReadNext(ctx)
		if err != nil {
			return fmt.Errorf("scheduler: read next from %q: %w", name, err)
		}
		if len(batch) == 0 {
			continue
		}
		h.buffer = batch
		delete(s.toProbe, name)
		heap.Push(s.queue, h)
	}
	return nil
}

// Next probes every idle stream and pops the earliest-ordered ready
// record, or returns a nil Popped if nothing is ready yet (the caller
// should sleep ProbeIdleSleep and retry, per §5 Suspension points).
func (s *Scheduler) Next(ctx context.Context) (*Popped, error) {
	if err := s.probe(ctx); err != nil {
		return nil, err
	}
	if s.queue.Len() == 0 {
		return nil, nil
	}

	top := s.queue.items[0]
	rec := top.buffer[0]

	if top.name == TransactionsStreamName {
		return s.popTransactionRecord(top, rec)
	}

	txnID := txnIDOf(rec)
	if txnID != "" && (s.currentTxn == nil || txnID != *s.currentTxn) {
		// The record claims membership in a transaction that hasn't (yet)
		// begun from this scheduler's point of view.
		if s.toProbe[TransactionsStreamName] {
			return nil, nil // the BEGIN may still be in flight; wait for it.
		}
		return nil, fmt.Errorf("%w: record on stream %q references txn %q which never began", ErrProtocolViolation, top.name, txnID)
	}

	s.requeueOrProbe(top)
	if s.currentTxn != nil {
		s.txnCounts[top.name]++
	}
	return &Popped{Stream: top.name, Record: rec}, nil
}

// requeueOrProbe drops h's consumed head and either re-queues it or marks
// it for probing.
func (s *Scheduler) requeueOrProbe(h *holder) {
	if s.queue.requeue(h) {
		s.toProbe[h.name] = true
	}
}

func (s *Scheduler) popTransactionRecord(h *holder, rec stream.ConsumerRecord) (*Popped, error) {
	if rec.Value == nil {
		return nil, fmt.Errorf("%w: tombstone on transactions stream", ErrProtocolViolation)
	}
	status, _ := rec.Value.Get("status").(string)
	id, _ := rec.Value.Get("id").(string)

	switch status {
	case "BEGIN":
		s.requeueOrProbe(h)
		txnID := id
		s.currentTxn = &txnID
		s.txnCounts = make(map[string]int)
		// Rule 2 now applies to every already-queued record, so the heap
		// invariant (built under the old ordering) must be rebuilt.
		heap.Init(s.queue)
		return &Popped{Stream: h.name, Record: rec, IsControl: true}, nil

	case "END":
		if s.currentTxn == nil || id != *s.currentTxn {
			return nil, fmt.Errorf("%w: END for txn %q does not match open txn", ErrProtocolViolation, id)
		}
		for _, dc := range decodeDataCollections(rec.Value) {
			name := s.alias(dc.Name)
			if !s.toProbe[name] {
				// The stream still has buffered data ready to pop, or
				// isn't part of this deployment; no need to wait on it.
				continue
			}
			if s.txnCounts[name] < dc.EventCount {
				return nil, nil // abort popping this END; keep probing.
			}
		}
		s.requeueOrProbe(h)
		s.currentTxn = nil
		s.txnCounts = make(map[string]int)
		heap.Init(s.queue)
		return &Popped{Stream: h.name, Record: rec, IsControl: true}, nil

	default:
		return nil, fmt.Errorf("%w: unknown transactions envelope status %q", ErrProtocolViolation, status)
	}
}

// less implements the composite ordering key of §4.3 rules 1-3.
func (s *Scheduler) less(a, b stream.ConsumerRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if s.currentTxn != nil {
		aCur := txnIDOf(a) == *s.currentTxn
		bCur := txnIDOf(b) == *s.currentTxn
		if aCur != bCur {
			return aCur
		}
	}
	return totalOrderOf(a) < totalOrderOf(b)
}

func txnIDOf(cr stream.ConsumerRecord) string {
	txn, ok := record.TxnOf(cr.Value)
	if !ok {
		return ""
	}
	return txn.ID
}

func totalOrderOf(cr stream.ConsumerRecord) int64 {
	txn, ok := record.TxnOf(cr.Value)
	if !ok {
		return 0
	}
	return txn.TotalOrder
}

// dataCollectionCount is one entry of a transactions-stream END envelope's
// data_collections list.
type dataCollectionCount struct {
	Name       string
	EventCount int
}

func decodeDataCollections(r record.Record) []dataCollectionCount {
	raw, ok := r.Get("data_collections").([]any)
	if !ok {
		return nil
	}
	out := make([]dataCollectionCount, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["data_collection"].(string)
		out = append(out, dataCollectionCount{Name: name, EventCount: toInt(m["event_count"])})
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
