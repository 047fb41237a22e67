package types

import (
	"encoding/json"
	"fmt"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderEventRow mirrors the order_events BigQuery schema. Money columns are
// stored in minor units.
type OrderEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	OrderID       string             `bigquery:"order_id"`
	OrderNumber   *string            `bigquery:"order_number"`
	UserID        *string            `bigquery:"user_id"`
	Currency      *string            `bigquery:"currency"`
	SubtotalCents *int64             `bigquery:"subtotal_cents"`
	DiscountCents *int64             `bigquery:"discount_cents"`
	TaxCents      *int64             `bigquery:"tax_cents"`
	ShippingCents *int64             `bigquery:"shipping_cents"`
	GrossCents    *int64             `bigquery:"gross_cents"`
	RefundCents   *int64             `bigquery:"refund_cents"`
	NetCents      *int64             `bigquery:"net_cents"`
	CouponCode    *string            `bigquery:"coupon_code"`
	PaymentID     *string            `bigquery:"payment_id"`
	Provider      *string            `bigquery:"provider"`
	ItemCount     *int64             `bigquery:"item_count"`
	Items         cbigquery.NullJSON `bigquery:"items"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

// OrderEventsSchema is the column layout OrderEventRow saves into. Every
// event has an id, type, time and order; the rest depend on the event.
func OrderEventsSchema() cbigquery.Schema {
	required := func(name string, typ cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: typ, Required: true}
	}
	nullable := func(name string, typ cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: typ}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		required("order_id", cbigquery.StringFieldType),
		nullable("order_number", cbigquery.StringFieldType),
		nullable("user_id", cbigquery.StringFieldType),
		nullable("currency", cbigquery.StringFieldType),
		nullable("subtotal_cents", cbigquery.IntegerFieldType),
		nullable("discount_cents", cbigquery.IntegerFieldType),
		nullable("tax_cents", cbigquery.IntegerFieldType),
		nullable("shipping_cents", cbigquery.IntegerFieldType),
		nullable("gross_cents", cbigquery.IntegerFieldType),
		nullable("refund_cents", cbigquery.IntegerFieldType),
		nullable("net_cents", cbigquery.IntegerFieldType),
		nullable("coupon_code", cbigquery.StringFieldType),
		nullable("payment_id", cbigquery.StringFieldType),
		nullable("provider", cbigquery.StringFieldType),
		nullable("item_count", cbigquery.IntegerFieldType),
		nullable("items", cbigquery.JSONFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}

// Saver keys row by event id so BigQuery drops a re-sent copy.
func (r OrderEventRow) Saver(schema cbigquery.Schema) cbigquery.ValueSaver {
	return &cbigquery.StructSaver{Struct: r, Schema: schema, InsertID: r.EventID}
}

// JSONColumn encodes v for a JSON column. Nil and empty input become NULL;
// raw bytes are taken as already-encoded JSON.
func JSONColumn(v any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := v.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json column: %w", err)
		}
		raw = encoded
	}
	if len(raw) == 0 || string(raw) == "null" {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
