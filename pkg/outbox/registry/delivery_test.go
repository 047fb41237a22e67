package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
)

func deliveryAttrs() map[string]string {
	return map[string]string{
		"event_type":     string(enums.EventOrderShipped),
		"aggregate_type": string(enums.AggregateOrder),
		"aggregate_id":   "ord-1",
		"created_at":     "2026-04-02T09:30:00Z",
	}
}

func encodeEnvelope(t *testing.T, env outbox.PayloadEnvelope) []byte {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestParseDelivery(t *testing.T) {
	id := uuid.New()
	occurred := time.Date(2026, 4, 1, 8, 0, 0, 0, time.FixedZone("EST", -5*3600))
	raw := encodeEnvelope(t, outbox.PayloadEnvelope{EventID: id.String(), OccurredAt: occurred, Data: json.RawMessage(`{"a":1}`)})

	d, err := ParseDelivery(raw, deliveryAttrs())
	if err != nil {
		t.Fatalf("ParseDelivery: %v", err)
	}
	if d.EventID != id || d.EventType != enums.EventOrderShipped || d.AggregateID != "ord-1" {
		t.Fatalf("unexpected delivery %+v", d)
	}
	if !d.OccurredAt.Equal(occurred) || d.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC occurred_at, got %v", d.OccurredAt)
	}
	if d.Version() != 1 {
		t.Fatalf("unversioned envelopes are v1, got %d", d.Version())
	}
	if d.Fields()["event_id"] != id.String() {
		t.Fatalf("unexpected fields %v", d.Fields())
	}
}

func TestParseDeliveryFallsBackToAttributes(t *testing.T) {
	id := uuid.New()
	attrs := deliveryAttrs()
	attrs["event_id"] = id.String()
	raw := encodeEnvelope(t, outbox.PayloadEnvelope{Version: 2, Data: json.RawMessage(`{"a":1}`)})

	d, err := ParseDelivery(raw, attrs)
	if err != nil {
		t.Fatalf("ParseDelivery: %v", err)
	}
	if d.EventID != id {
		t.Fatalf("expected attribute event id, got %s", d.EventID)
	}
	if want := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC); !d.OccurredAt.Equal(want) {
		t.Fatalf("expected created_at fallback, got %v", d.OccurredAt)
	}
	if d.Version() != 2 {
		t.Fatalf("unexpected version %d", d.Version())
	}
}

func TestParseDeliveryRejects(t *testing.T) {
	good := encodeEnvelope(t, outbox.PayloadEnvelope{EventID: uuid.NewString(), Data: json.RawMessage(`{"a":1}`)})
	cases := map[string]struct {
		data  []byte
		patch func(map[string]string)
	}{
		"unknown event type": {data: good, patch: func(a map[string]string) { a["event_type"] = "wishlist_item_added" }},
		"unknown aggregate":  {data: good, patch: func(a map[string]string) { a["aggregate_type"] = "cart" }},
		"missing aggregate":  {data: good, patch: func(a map[string]string) { delete(a, "aggregate_id") }},
		"garbage body":       {data: []byte("not json")},
		"empty data":         {data: encodeEnvelope(t, outbox.PayloadEnvelope{EventID: uuid.NewString()})},
		"non uuid id":        {data: encodeEnvelope(t, outbox.PayloadEnvelope{EventID: "evt-1", Data: json.RawMessage(`{}`)})},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			attrs := deliveryAttrs()
			if tc.patch != nil {
				tc.patch(attrs)
			}
			if _, err := ParseDelivery(tc.data, attrs); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
