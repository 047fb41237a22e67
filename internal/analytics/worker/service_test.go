package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/modoria-backend/internal/analytics/router"
	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/google/uuid"
)

func TestProcessPassesEnvelopeToHandler(t *testing.T) {
	handler := &stubHandler{}
	svc := newTestServiceWithDeps(t, handler, &stubClaims{})
	eventID := uuid.New()
	payload := outbox.PayloadEnvelope{
		EventID:    eventID.String(),
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"order_id":"ord-1"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "order_paid",
		"aggregate_type": "order",
		"aggregate_id":   "ord-1",
	})

	if !svc.process(context.Background(), msg) {
		t.Fatal("expected ack")
	}
	env := handler.envelope
	if env.EventType != enums.EventOrderPaid {
		t.Fatalf("unexpected event type %v", env.EventType)
	}
	if env.AggregateType != enums.AggregateOrder {
		t.Fatalf("unexpected aggregate type %v", env.AggregateType)
	}
	if env.AggregateID != "ord-1" {
		t.Fatalf("unexpected aggregate id %s", env.AggregateID)
	}
	if env.EventID != eventID.String() {
		t.Fatalf("unexpected event id %s", env.EventID)
	}
	if !env.OccurredAt.Equal(payload.OccurredAt) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
	if string(env.Payload) != `{"order_id":"ord-1"}` {
		t.Fatalf("unexpected payload %s", env.Payload)
	}
}

func TestProcessAlreadyProcessed(t *testing.T) {
	claims := &stubClaims{duplicate: true}
	handler := &stubHandler{}
	svc := newTestServiceWithDeps(t, handler, claims)

	msg := buildAnalyticsMessage(t)
	if !svc.process(context.Background(), msg) {
		t.Fatalf("expected ack, got nack")
	}
	if handler.called {
		t.Fatal("handler should not be invoked when already processed")
	}
	if len(claims.checked) != 1 {
		t.Fatalf("expected check once, got %d", len(claims.checked))
	}
}

func TestProcessHandlerErrorRetries(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestServiceWithDeps(t, handler, claims)

	msg := buildAnalyticsMessage(t)
	if svc.process(context.Background(), msg) {
		t.Fatalf("expected nack on handler error")
	}
	if !handler.called {
		t.Fatal("handler should be invoked")
	}
	if len(claims.released) != 1 {
		t.Fatalf("expected idempotency delete on failure")
	}
}

func TestProcessInvalidEnvelope(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{}
	svc := newTestServiceWithDeps(t, handler, claims)

	msg := &gcppubsub.Message{Data: []byte("invalid json")}
	if !svc.process(context.Background(), msg) {
		t.Fatalf("invalid envelope should ack")
	}
	if handler.called {
		t.Fatal("handler should not be invoked")
	}
	if len(claims.checked) != 0 {
		t.Fatalf("idempotency guard should not be touched")
	}
}

func TestProcessUnsupportedEvent(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{err: router.ErrUnsupportedEventType}
	svc := newTestServiceWithDeps(t, handler, claims)

	msg := buildAnalyticsMessage(t)
	if !svc.process(context.Background(), msg) {
		t.Fatalf("unsupported event should ack")
	}
	if len(claims.released) != 0 {
		t.Fatalf("idempotency delete should not run")
	}
}

func TestProcessSkipsFilteredEventBeforeIdempotency(t *testing.T) {
	claims := &stubClaims{}
	handler := &filteringHandler{}
	svc := newTestServiceWithDeps(t, handler, claims)

	payload := outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"sku":"A"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "inventory_low_stock",
		"aggregate_type": "product",
		"aggregate_id":   uuid.NewString(),
	})

	if !svc.process(context.Background(), msg) {
		t.Fatal("filtered event should ack")
	}
	if len(claims.checked) != 0 {
		t.Fatal("filtered event should not touch idempotency")
	}
	if handler.called {
		t.Fatal("filtered event should not reach the handler")
	}
}

func TestProcessIdempotencyErrorNacks(t *testing.T) {
	claims := &stubClaims{claimErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestServiceWithDeps(t, handler, claims)

	if svc.process(context.Background(), buildAnalyticsMessage(t)) {
		t.Fatal("expected nack when idempotency check fails")
	}
	if handler.called {
		t.Fatal("handler should not run without an idempotency decision")
	}
}

func TestNewServiceValidation(t *testing.T) {
	var nilSub *gcppubsub.Subscriber
	if _, err := NewService(nilSub, &stubHandler{}, &stubClaims{}, logger.Nop()); err == nil {
		t.Fatal("expected error for nil subscriber")
	}
	if _, err := NewService(nil, &stubHandler{}, &stubClaims{}, logger.Nop()); err == nil {
		t.Fatal("expected error for missing subscription")
	}
}

type filteringHandler struct {
	stubHandler
}

func (h *filteringHandler) Supports(eventType enums.OutboxEventType) bool {
	return eventType != enums.EventInventoryLowStock
}

func buildAnalyticsMessage(t *testing.T) *gcppubsub.Message {
	payload := outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"foo":"bar"}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "order_placed",
		"aggregate_type": "order",
		"aggregate_id":   uuid.NewString(),
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestServiceWithDeps(t *testing.T, handler Handler, claims *stubClaims) *Service {
	t.Helper()
	return &Service{
		handler: handler,
		claims:  claims,
		logg:    logger.Nop(),
	}
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(ctx context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubClaims struct {
	duplicate  bool
	claimErr   error
	releaseErr error
	checked    []string
	released   []string
}

func (s *stubClaims) Claim(ctx context.Context, id string) (bool, error) {
	s.checked = append(s.checked, id)
	if s.claimErr != nil {
		return false, s.claimErr
	}
	return !s.duplicate, nil
}

func (s *stubClaims) Release(ctx context.Context, id string) error {
	s.released = append(s.released, id)
	return s.releaseErr
}
