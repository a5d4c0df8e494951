package kafkastream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acksell/confluence/record"
	"github.com/acksell/confluence/scheduler"
	"github.com/acksell/confluence/stream"
	"github.com/acksell/confluence/stream/kafkastream"
)

func TestJSONCodec_DecodePlainRecordHasNoTxnMeta(t *testing.T) {
	rec, err := kafkastream.JSONCodec{}.Decode([]byte(`{"id":"m1","title":"hello"}`))
	require.NoError(t, err)
	_, ok := record.TxnOf(rec)
	require.False(t, ok)
	require.Equal(t, "hello", rec.Get("title"))
}

func TestJSONCodec_DecodeRecordWithTransactionField(t *testing.T) {
	rec, err := kafkastream.JSONCodec{}.Decode([]byte(`{"id":"m1","transaction":{"id":"txn-1","total_order":3}}`))
	require.NoError(t, err)
	txn, ok := record.TxnOf(rec)
	require.True(t, ok)
	require.Equal(t, "txn-1", txn.ID)
	require.Equal(t, int64(3), txn.TotalOrder)
}

func TestJSONCodec_DecodeBeginEnvelope(t *testing.T) {
	rec, err := kafkastream.JSONCodec{}.Decode([]byte(`{"status":"BEGIN","id":"txn-1"}`))
	require.NoError(t, err)
	txn, ok := record.TxnOf(rec)
	require.True(t, ok)
	require.Equal(t, "txn-1", txn.ID)
	require.Equal(t, record.TotalOrderBegin, txn.TotalOrder)
}

func TestJSONCodec_DecodeEndEnvelope(t *testing.T) {
	rec, err := kafkastream.JSONCodec{}.Decode([]byte(`{"status":"END","id":"txn-1","data_collections":[{"data_collection":"orders","event_count":2}]}`))
	require.NoError(t, err)
	txn, ok := record.TxnOf(rec)
	require.True(t, ok)
	require.Equal(t, "txn-1", txn.ID)
	require.Equal(t, record.TotalOrderEnd, txn.TotalOrder)
	collections, ok := rec.Get("data_collections").([]any)
	require.True(t, ok)
	require.Len(t, collections, 1)
}

func TestJSONCodec_DecodeUnrecognizedStatusHasNoTxnMeta(t *testing.T) {
	rec, err := kafkastream.JSONCodec{}.Decode([]byte(`{"status":"SOMETHING_ELSE","id":"txn-1"}`))
	require.NoError(t, err)
	_, ok := record.TxnOf(rec)
	require.False(t, ok)
}

// TestJSONCodec_DrivesTransactionThroughScheduler exercises the full
// codec-to-scheduler path: envelopes and data records are decoded from
// raw JSON bytes exactly as a Kafka Source would decode them, then fed
// through a real Scheduler to confirm tie-break rules 2 and 3 (§4.3) are
// live off the wire codec, not only off hand-built record.Map fixtures.
func TestJSONCodec_DrivesTransactionThroughScheduler(t *testing.T) {
	ctx := context.Background()
	codec := kafkastream.JSONCodec{}

	decode := func(t *testing.T, raw string) record.Record {
		t.Helper()
		rec, err := codec.Decode([]byte(raw))
		require.NoError(t, err)
		return rec
	}

	txns := stream.NewMemorySource(scheduler.TransactionsStreamName)
	orders := stream.NewMemorySource("orders")
	payments := stream.NewMemorySource("payments")

	txns.Publish([]byte("txn-1"), decode(t, `{"status":"BEGIN","id":"txn-1"}`))
	payments.Publish([]byte("o2"), decode(t, `{"amount":2,"transaction":{"id":"txn-1","total_order":2}}`))
	orders.Publish([]byte("o1"), decode(t, `{"amount":1,"transaction":{"id":"txn-1","total_order":1}}`))
	txns.Publish([]byte("txn-1"), decode(t, `{"status":"END","id":"txn-1","data_collections":[{"data_collection":"orders","event_count":1},{"data_collection":"payments","event_count":1}]}`))

	sched := scheduler.New(map[string]stream.Source{
		scheduler.TransactionsStreamName: txns,
		"orders":                         orders,
		"payments":                       payments,
	}, nil)

	begin, err := sched.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, begin)
	require.True(t, begin.IsControl)
	require.True(t, sched.InTransaction())

	// Within the transaction, heads of different streams with equal
	// timestamps are ordered by total_order, not by publish order.
	first, err := sched.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "o1", string(first.Record.Key))

	second, err := sched.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, "o2", string(second.Record.Key))

	end, err := sched.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, end)
	require.True(t, end.IsControl)
	require.False(t, sched.InTransaction())
}
