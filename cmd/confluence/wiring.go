package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acksell/confluence/config"
	"github.com/acksell/confluence/metrics"
	"github.com/acksell/confluence/relation"
	"github.com/acksell/confluence/scheduler"
	"github.com/acksell/confluence/state"
	"github.com/acksell/confluence/stream"
	"github.com/acksell/confluence/stream/kafkastream"
)

// newMetricsRegistry builds an isolated Prometheus registry for one run.
// The CLI doesn't currently expose an HTTP scrape endpoint (out of
// scope), so an isolated registry is preferable to the process-wide
// default: it keeps this run's counters from silently accumulating
// across a long-lived process that also does something else.
func newMetricsRegistry() *metrics.Registry {
	return metrics.New(prometheus.NewRegistry())
}

// entitiesUsed returns every entity name referenced anywhere in roots,
// plus the reserved transactions stream, so the CLI knows which physical
// topics it must connect a Source for.
func entitiesUsed(roots []*relation.Relation) []string {
	seen := map[string]bool{scheduler.TransactionsStreamName: true}
	for _, root := range roots {
		seen[root.Entity] = true
		for _, edge := range relation.Edges(root) {
			seen[edge.Child.Entity] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

// buildStreams connects a kafkastream.Source for every entity roots
// reference (§6 Stream client (input)). It subscribes to the physical
// topic name (topics.<entity>.topic, or the entity name by default) —
// TopicAlias runs the other direction, from physical topic name down to
// the stream alias used to correlate a transaction envelope's
// data_collections, and has no bearing on what a consumer subscribes to.
func buildStreams(ctx context.Context, cfg config.Config, roots []*relation.Relation) (map[string]stream.Source, error) {
	streams := make(map[string]stream.Source)
	for _, entity := range entitiesUsed(roots) {
		tc := cfg.TopicConfig(entity)
		src, err := kafkastream.NewSource(ctx, kafkastream.Config{
			Brokers: tc.Brokers,
			Topic:   tc.Topic,
			GroupID: tc.GroupID,
			Codec:   kafkastream.JSONCodec{},
		})
		if err != nil {
			return nil, fmt.Errorf("connect source for entity %q: %w", entity, err)
		}
		streams[entity] = src
	}
	return streams, nil
}

// buildSinks connects a kafkastream.Sink for every root's output topic
// (§6 Stream client (output)), publishing to the physical topic name.
func buildSinks(ctx context.Context, cfg config.Config, roots []*relation.Relation) (map[string]stream.Sink, error) {
	sinks := make(map[string]stream.Sink)
	for _, root := range roots {
		tc := cfg.TopicConfig(root.DenormalizedName)
		sink, err := kafkastream.NewSink(ctx, kafkastream.Config{
			Brokers: tc.Brokers,
			Topic:   tc.Topic,
			Codec:   kafkastream.JSONCodec{},
		})
		if err != nil {
			return nil, fmt.Errorf("connect sink for root %q: %w", root.DenormalizedName, err)
		}
		sinks[root.DenormalizedName] = sink
	}
	return sinks, nil
}

func buildStore(cfg config.Config) *state.BadgerStore {
	return state.NewBadgerStore(state.BadgerOptions{
		DataDir:   cfg.State.Dir,
		BackupDir: cfg.State.BackupDir,
	})
}
