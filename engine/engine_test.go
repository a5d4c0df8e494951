package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acksell/confluence/metrics"
	"github.com/acksell/confluence/pk"
	"github.com/acksell/confluence/record"
	"github.com/acksell/confluence/relation"
	"github.com/acksell/confluence/scheduler"
	"github.com/acksell/confluence/state"
	"github.com/acksell/confluence/stream"
)

func newTestEngine(t *testing.T, roots []*relation.Relation, streams map[string]stream.Source, sinks map[string]stream.Sink) *Engine {
	t.Helper()
	store := state.NewMemoryStore()
	reg := metrics.New(prometheus.NewRegistry())
	e, err := New(Config{
		CreateRecordsTrigger: 1000,
		TotalLagTrigger:      1_000_000,
	}, roots, streams, sinks, store, reg, slog.Default())
	require.NoError(t, err)
	return e
}

// runFor drives the engine for a bounded window, mirroring the run-time
// budget mode used by --build's non-daemon path (§4.6 runWatch).
func runFor(t *testing.T, e *Engine, d time.Duration) {
	t.Helper()
	e.cfg.RunTime = d
	ctx, cancel := context.WithTimeout(context.Background(), d+5*time.Second)
	defer cancel()
	require.NoError(t, e.Open(ctx))
	require.NoError(t, e.Run(ctx))
}

func mediaCaptionRelation() []*relation.Relation {
	return []*relation.Relation{
		{
			Entity:           "media",
			DenormalizedName: "feed",
			Children: []*relation.Relation{
				{Entity: "caption", JoinKey: "media_id", ParentKey: "id"},
			},
		},
	}
}

func TestEngine_S1_SingleTableRootInsert(t *testing.T) {
	media := stream.NewMemorySource("media")
	sink := stream.NewMemorySink()
	roots := []*relation.Relation{{Entity: "media", DenormalizedName: "feed"}}
	e := newTestEngine(t, roots, map[string]stream.Source{"media": media}, map[string]stream.Sink{"feed": sink})

	media.Publish(pk.FromString("m1"), record.NewMap(map[string]any{"id": "m1", "title": "A"}))

	runFor(t, e, 30*time.Millisecond)

	out := sink.Latest(pk.FromString("m1"))
	require.NotNil(t, out)
	require.Equal(t, "m1", out.Record["id"])
	require.Equal(t, "A", out.Record["title"])
	require.Empty(t, out.Children)
}

func TestEngine_S2_ChildArrivesAfterParent(t *testing.T) {
	media := stream.NewMemorySource("media")
	caption := stream.NewMemorySource("caption")
	sink := stream.NewMemorySink()
	roots := mediaCaptionRelation()
	e := newTestEngine(t, roots, map[string]stream.Source{"media": media, "caption": caption}, map[string]stream.Sink{"feed": sink})

	media.Publish(pk.FromString("m1"), record.NewMap(map[string]any{"id": "m1", "title": "A"}))
	runFor(t, e, 30*time.Millisecond)

	out := sink.Latest(pk.FromString("m1"))
	require.NotNil(t, out)
	require.Empty(t, out.Children["caption"])

	caption.Publish(pk.FromString("c1"), record.NewMap(map[string]any{"id": "c1", "media_id": "m1", "text": "hi"}))
	runFor(t, e, 30*time.Millisecond)

	out = sink.Latest(pk.FromString("m1"))
	require.NotNil(t, out)
	require.Len(t, out.Children["caption"], 1)
	require.Equal(t, "c1", out.Children["caption"][0].Record["id"])
}

func TestEngine_S3_ChildArrivesBeforeParent(t *testing.T) {
	media := stream.NewMemorySource("media")
	caption := stream.NewMemorySource("caption")
	sink := stream.NewMemorySink()
	roots := mediaCaptionRelation()
	e := newTestEngine(t, roots, map[string]stream.Source{"media": media, "caption": caption}, map[string]stream.Sink{"feed": sink})

	caption.Publish(pk.FromString("c1"), record.NewMap(map[string]any{"id": "c1", "media_id": "m1", "text": "hi"}))
	media.Publish(pk.FromString("m1"), record.NewMap(map[string]any{"id": "m1", "title": "A"}))

	runFor(t, e, 30*time.Millisecond)

	out := sink.Latest(pk.FromString("m1"))
	require.NotNil(t, out)
	require.Len(t, out.Children["caption"], 1)
	require.Equal(t, "c1", out.Children["caption"][0].Record["id"])
}

func TestEngine_S4_Reparenting(t *testing.T) {
	media := stream.NewMemorySource("media")
	caption := stream.NewMemorySource("caption")
	sink := stream.NewMemorySink()
	roots := mediaCaptionRelation()
	e := newTestEngine(t, roots, map[string]stream.Source{"media": media, "caption": caption}, map[string]stream.Sink{"feed": sink})

	media.Publish(pk.FromString("m1"), record.NewMap(map[string]any{"id": "m1", "title": "A"}))
	media.Publish(pk.FromString("m2"), record.NewMap(map[string]any{"id": "m2", "title": "B"}))
	caption.Publish(pk.FromString("c1"), record.NewMap(map[string]any{"id": "c1", "media_id": "m1", "text": "hi"}))
	runFor(t, e, 30*time.Millisecond)

	m1 := sink.Latest(pk.FromString("m1"))
	require.Len(t, m1.Children["caption"], 1)
	m2 := sink.Latest(pk.FromString("m2"))
	require.Empty(t, m2.Children["caption"])

	// Reparent c1 from m1 to m2.
	caption.Publish(pk.FromString("c1"), record.NewMap(map[string]any{"id": "c1", "media_id": "m2", "text": "hi"}))
	runFor(t, e, 30*time.Millisecond)

	m1 = sink.Latest(pk.FromString("m1"))
	require.Empty(t, m1.Children["caption"])
	m2 = sink.Latest(pk.FromString("m2"))
	require.Len(t, m2.Children["caption"], 1)
	require.Equal(t, "c1", m2.Children["caption"][0].Record["id"])
}

func TestEngine_S5_RootTombstoneDoesNotResurrect(t *testing.T) {
	media := stream.NewMemorySource("media")
	caption := stream.NewMemorySource("caption")
	sink := stream.NewMemorySink()
	roots := mediaCaptionRelation()
	e := newTestEngine(t, roots, map[string]stream.Source{"media": media, "caption": caption}, map[string]stream.Sink{"feed": sink})

	media.Publish(pk.FromString("m1"), record.NewMap(map[string]any{"id": "m1", "title": "A"}))
	caption.Publish(pk.FromString("c1"), record.NewMap(map[string]any{"id": "c1", "media_id": "m1", "text": "hi"}))
	runFor(t, e, 30*time.Millisecond)
	lastOutput := sink.Latest(pk.FromString("m1"))
	require.NotNil(t, lastOutput)

	writesBefore := sink.WriteCount()

	// Tombstone the root.
	media.Publish(pk.FromString("m1"), nil)
	runFor(t, e, 30*time.Millisecond)

	// Nothing new is written for m1: the sink still holds the output
	// written before the tombstone.
	require.Same(t, lastOutput, sink.Latest(pk.FromString("m1")))
	require.Equal(t, writesBefore, sink.WriteCount(), "a tombstoned root produces no write, only the index scrub")

	// A later, unrelated child change referencing the tombstoned parent
	// must not resurrect it.
	caption.Publish(pk.FromString("c2"), record.NewMap(map[string]any{"id": "c2", "media_id": "m1", "text": "late"}))
	runFor(t, e, 30*time.Millisecond)
	require.Equal(t, writesBefore, sink.WriteCount(), "the tombstoned root must not be re-emitted")
}

func txnRecord(status, id string, dataCollections []map[string]any) record.Map {
	fields := map[string]any{"status": status, "id": id}
	if dataCollections != nil {
		items := make([]any, len(dataCollections))
		for i, dc := range dataCollections {
			items[i] = dc
		}
		fields["data_collections"] = items
	}
	m := record.NewMap(fields)
	totalOrder := record.TotalOrderBegin
	if status == "END" {
		totalOrder = record.TotalOrderEnd
	}
	m.TxnMeta = &record.Txn{ID: id, TotalOrder: totalOrder}
	return m
}

func withTxn(fields map[string]any, txnID string, totalOrder int64) record.Map {
	m := record.NewMap(fields)
	m.TxnMeta = &record.Txn{ID: txnID, TotalOrder: totalOrder}
	return m
}

func TestEngine_S6_TransactionalGroupingDrainsOnce(t *testing.T) {
	txns := stream.NewMemorySource(scheduler.TransactionsStreamName)
	media := stream.NewMemorySource("media")
	caption := stream.NewMemorySource("caption")
	sink := stream.NewMemorySink()
	roots := mediaCaptionRelation()
	streams := map[string]stream.Source{
		scheduler.TransactionsStreamName: txns,
		"media":                          media,
		"caption":                        caption,
	}
	e := newTestEngine(t, roots, streams, map[string]stream.Sink{"feed": sink})

	txns.Publish(pk.FromString("tx1"), txnRecord("BEGIN", "tx1", nil))
	media.Publish(pk.FromString("m1"), withTxn(map[string]any{"id": "m1", "title": "A"}, "tx1", 0))
	caption.Publish(pk.FromString("c1"), withTxn(map[string]any{"id": "c1", "media_id": "m1", "text": "hi"}, "tx1", 1))
	txns.Publish(pk.FromString("tx1"), txnRecord("END", "tx1", []map[string]any{
		{"data_collection": "media", "event_count": 1},
		{"data_collection": "caption", "event_count": 1},
	}))

	runFor(t, e, 30*time.Millisecond)

	out := sink.Latest(pk.FromString("m1"))
	require.NotNil(t, out)
	require.Len(t, out.Children["caption"], 1)
	require.Equal(t, "c1", out.Children["caption"][0].Record["id"])
	// Both member records land in the same pending drain: exactly one
	// write for m1, not one after absorbing media and a second after
	// absorbing caption.
	require.Equal(t, 1, sink.WriteCount())
}

func TestEngine_VerifyStateCleanAfterDrain(t *testing.T) {
	media := stream.NewMemorySource("media")
	caption := stream.NewMemorySource("caption")
	sink := stream.NewMemorySink()
	roots := mediaCaptionRelation()
	e := newTestEngine(t, roots, map[string]stream.Source{"media": media, "caption": caption}, map[string]stream.Sink{"feed": sink})

	media.Publish(pk.FromString("m1"), record.NewMap(map[string]any{"id": "m1", "title": "A"}))
	caption.Publish(pk.FromString("c1"), record.NewMap(map[string]any{"id": "c1", "media_id": "m1", "text": "hi"}))
	runFor(t, e, 30*time.Millisecond)

	violations, err := e.VerifyState(context.Background())
	require.NoError(t, err)
	require.Empty(t, violations)
}
