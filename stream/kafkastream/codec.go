package kafkastream

import (
	"encoding/json"
	"fmt"

	"github.com/acksell/confluence/record"
)

// JSONCodec is a Codec that (de)serializes records as JSON objects,
// suitable for topics that don't carry a schema registry. Deployments
// with Avro/protobuf-encoded topics supply their own Codec.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Decode implements Codec. It recognizes two Debezium-style shapes: a
// transactions-stream BEGIN/END envelope ({"status": ..., "id": ...}),
// mapped to the synthetic TotalOrderBegin/TotalOrderEnd sentinels (§4.3
// rule 3), and an ordinary data record carrying a nested "transaction":
// {"id", "total_order"} field (§3 Record). Every other record decodes
// with no transaction metadata, degrading gracefully to plain
// timestamp ordering.
func (JSONCodec) Decode(value []byte) (record.Record, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(value, &fields); err != nil {
		return nil, fmt.Errorf("kafkastream: decode json record: %w", err)
	}
	m := record.NewMap(fields)
	if txn := transactionEnvelopeTxn(fields); txn != nil {
		m.TxnMeta = txn
	} else if txn := transactionFieldTxn(fields); txn != nil {
		m.TxnMeta = txn
	}
	return m, nil
}

// transactionEnvelopeTxn recognizes the transactions stream's own BEGIN/
// END records by their "status" field.
func transactionEnvelopeTxn(fields map[string]any) *record.Txn {
	status, ok := fields["status"].(string)
	if !ok {
		return nil
	}
	id, _ := fields["id"].(string)
	switch status {
	case "BEGIN":
		return &record.Txn{ID: id, TotalOrder: record.TotalOrderBegin}
	case "END":
		return &record.Txn{ID: id, TotalOrder: record.TotalOrderEnd}
	default:
		return nil
	}
}

// transactionFieldTxn recognizes a Debezium-style "transaction":
// {"id", "total_order"} field carried by an ordinary data record.
func transactionFieldTxn(fields map[string]any) *record.Txn {
	txn, ok := fields["transaction"].(map[string]any)
	if !ok {
		return nil
	}
	id, _ := txn["id"].(string)
	if id == "" {
		return nil
	}
	return &record.Txn{ID: id, TotalOrder: toInt64(txn["total_order"])}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// Encode implements Codec.
func (JSONCodec) Encode(value *record.Denormalized) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kafkastream: encode json record: %w", err)
	}
	return encoded, nil
}
