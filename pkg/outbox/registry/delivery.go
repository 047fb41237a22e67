package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
)

// Delivery is an outbox event as received from a subscription: the stored
// envelope plus the routing attributes the publisher stamped on the message.
type Delivery struct {
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Envelope      outbox.PayloadEnvelope
}

// Fields returns the log fields every consumer attaches to a delivery.
func (d Delivery) Fields() map[string]any {
	return map[string]any{
		"event_id":       d.EventID.String(),
		"event_type":     string(d.EventType),
		"aggregate_type": string(d.AggregateType),
		"aggregate_id":   d.AggregateID,
		"occurred_at":    d.OccurredAt.Format(time.RFC3339Nano),
	}
}

// Version is the payload version, treating unversioned envelopes as v1.
func (d Delivery) Version() int {
	if d.Envelope.Version <= 0 {
		return 1
	}
	return d.Envelope.Version
}

// ParseDelivery validates a received message. Errors are permanent: the
// message will never parse, so callers ack and drop it.
func ParseDelivery(data []byte, attrs map[string]string) (Delivery, error) {
	attr := func(key string) string { return strings.TrimSpace(attrs[key]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return Delivery{}, fmt.Errorf("event_type attribute: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return Delivery{}, fmt.Errorf("aggregate_type attribute: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return Delivery{}, errors.New("aggregate_id attribute missing")
	}

	envelope, err := DecodeEnvelope(data)
	if err != nil {
		return Delivery{}, err
	}
	rawID := strings.TrimSpace(envelope.EventID)
	if rawID == "" {
		rawID = attr("event_id")
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return Delivery{}, fmt.Errorf("event id %q: %w", rawID, err)
	}

	occurredAt := envelope.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = parsed
		}
	}

	return Delivery{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Envelope:      envelope,
	}, nil
}
