// Package kafkastream implements stream.Source and stream.Sink over Kafka
// using franz-go, grounded on the teacher's sibling repo pattern for a
// franz-go client wrapper
// (malbeclabs-doublezero/telemetry/flow-ingest/internal/kafka/client.go).
package kafkastream

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kversion"

	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/record"
	"github.com/acksell/confluence/stream"
)

// Config configures a Kafka-backed Source or Sink.
type Config struct {
	Brokers []string
	Topic   string
	// GroupID is the consumer group used by a Source. Unused by a Sink.
	GroupID string
	// Codec decodes/encodes a record value to/from Kafka's wire bytes.
	// Concrete deployments plug in whatever serde the topic uses (Avro,
	// protobuf, JSON); confluence itself is serde-agnostic.
	Codec Codec
}

func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafkastream: brokers are required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafkastream: topic is required")
	}
	if c.Codec == nil {
		return fmt.Errorf("kafkastream: codec is required")
	}
	return nil
}

// Codec converts between a stream record.Record and Kafka's raw value
// bytes. Splitting this out of Config keeps kafkastream free of any
// particular serialization format opinion.
type Codec interface {
	Decode(value []byte) (record.Record, error)
	Encode(value *record.Denormalized) ([]byte, error)
}

// Source is a Kafka-backed stream.Source.
type Source struct {
	cfg    Config
	client *kgo.Client
	admin  *kadm.Client
}

// NewSource constructs and connects a Kafka consumer for cfg.Topic in
// consumer group cfg.GroupID.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafkastream: group id is required for a source")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.DisableAutoCommit(),
		kgo.MaxVersions(kversion.V2_8_0()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkastream: create client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafkastream: ping brokers: %w", err)
	}

	return &Source{cfg: cfg, client: client, admin: kadm.NewClient(client)}, nil
}

var _ stream.Source = (*Source)(nil)

// Close releases the underlying Kafka client.
func (s *Source) Close() {
	s.client.Close()
}

// ReadNext implements stream.Source.
func (s *Source) ReadNext(ctx context.Context) ([]stream.ConsumerRecord, error) {
	fetches := s.client.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("kafkastream: poll fetches: %w", errs[0].Err)
	}

	var out []stream.ConsumerRecord
	fetches.EachRecord(func(rec *kgo.Record) {
		cr := stream.ConsumerRecord{
			Key:       pk.New(rec.Key),
			Timestamp: rec.Timestamp,
		}
		if rec.Value == nil {
			out = append(out, cr) // tombstone: nil Value
			return
		}
		decoded, err := s.cfg.Codec.Decode(rec.Value)
		if err != nil {
			// A record this system cannot decode is dropped from the
			// batch rather than failing the whole poll; the offset still
			// advances past it once Commit runs.
			return
		}
		cr.Value = decoded
		out = append(out, cr)
	})
	return out, nil
}

// ReadByPK implements stream.Source with a short-lived, group-less
// consumer of the topic: it polls a single fetch and returns the last
// record for key seen in it, or nil if the key does not appear. Kafka has
// no native point lookup, so this depends on the topic being compacted;
// records outside that one fetch are not searched.
func (s *Source) ReadByPK(ctx context.Context, key pk.Key) (*stream.ConsumerRecord, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(s.cfg.Topic),
		kgo.FetchMaxWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkastream: read by pk client: %w", err)
	}
	defer client.Close()

	var found *stream.ConsumerRecord
	fetches := client.PollFetches(ctx)
	fetches.EachRecord(func(rec *kgo.Record) {
		if !key.Equal(pk.New(rec.Key)) {
			return
		}
		cr := stream.ConsumerRecord{Key: pk.New(rec.Key), Timestamp: rec.Timestamp}
		if rec.Value != nil {
			if decoded, err := s.cfg.Codec.Decode(rec.Value); err == nil {
				cr.Value = decoded
			}
		}
		found = &cr
	})
	return found, nil
}

// GetLag implements stream.Source by comparing the consumer group's
// committed offsets against each partition's current end offset, the
// franz-go kadm pattern for group-lag reporting.
func (s *Source) GetLag(ctx context.Context) (int64, error) {
	committed, err := s.admin.FetchOffsets(ctx, s.cfg.GroupID)
	if err != nil {
		return 0, fmt.Errorf("kafkastream: fetch committed offsets: %w", err)
	}
	ends, err := s.admin.ListEndOffsets(ctx, s.cfg.Topic)
	if err != nil {
		return 0, fmt.Errorf("kafkastream: list end offsets: %w", err)
	}

	var total int64
	ends.Each(func(end kadm.ListedOffset) {
		var committedOffset int64
		if o, ok := committed.Lookup(end.Topic, end.Partition); ok {
			committedOffset = o.Offset.At
		}
		if lag := end.Offset - committedOffset; lag > 0 {
			total += lag
		}
	})
	return total, nil
}

// Commit implements stream.Source.
func (s *Source) Commit(ctx context.Context) error {
	if err := s.client.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("kafkastream: commit offsets: %w", err)
	}
	return nil
}

// GetTopicName implements stream.Source.
func (s *Source) GetTopicName() string {
	return s.cfg.Topic
}

// Sink is a Kafka-backed stream.Sink.
type Sink struct {
	cfg    Config
	client *kgo.Client
}

// NewSink constructs and connects a Kafka producer for cfg.Topic.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.MaxVersions(kversion.V2_8_0()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkastream: create producer: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafkastream: ping brokers: %w", err)
	}
	return &Sink{cfg: cfg, client: client}, nil
}

var _ stream.Sink = (*Sink)(nil)

// Close releases the underlying Kafka client.
func (s *Sink) Close() {
	s.client.Close()
}

// Write implements stream.Sink.
func (s *Sink) Write(ctx context.Context, key pk.Key, value *record.Denormalized) error {
	encoded, err := s.cfg.Codec.Encode(value)
	if err != nil {
		return fmt.Errorf("kafkastream: encode: %w", err)
	}
	rec := &kgo.Record{Topic: s.cfg.Topic, Key: key, Value: encoded}

	errCh := make(chan error, 1)
	s.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		errCh <- err
	})
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("kafkastream: produce: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush implements stream.Sink.
func (s *Sink) Flush(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return fmt.Errorf("kafkastream: flush: %w", err)
	}
	return nil
}
