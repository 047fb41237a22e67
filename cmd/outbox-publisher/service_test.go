package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/kafka"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/metrics"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/registry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			newOrderEvent(t, "event-one", 0),
			newOrderEvent(t, "event-two", 0),
		},
	}
	out := &fakeSink{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, nil)
	reg := prometheus.NewRegistry()
	service.metrics = metrics.NewOutboxMetrics(reg)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
	if len(repo.dlq) != 0 {
		t.Fatalf("transient failure should not reach the dlq")
	}
	expected := `
# HELP modoria_outbox_events_total Outbox rows handled by the publisher, by event type and outcome.
# TYPE modoria_outbox_events_total counter
modoria_outbox_events_total{event_type="order_placed",outcome="published"} 1
modoria_outbox_events_total{event_type="order_placed",outcome="retry"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "modoria_outbox_events_total"); err != nil {
		t.Fatalf("unexpected outbox metrics: %v", err)
	}
}

func TestServiceProcessBatchKeysByAggregate(t *testing.T) {
	event := newOrderEvent(t, "keyed", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	out := &fakeSink{}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(out.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(out.sent))
	}
	sent := out.sent[0]
	if sent.topic != "orders-topic" {
		t.Fatalf("unexpected topic %q", sent.topic)
	}
	if sent.msg.Key != event.AggregateID.String() {
		t.Fatalf("expected aggregate key, got %q", sent.msg.Key)
	}
	if sent.msg.Attributes["event_type"] != string(enums.EventOrderPlaced) {
		t.Fatalf("unexpected event_type attribute %q", sent.msg.Attributes["event_type"])
	}
	if string(sent.msg.Data) != string(event.Payload) {
		t.Fatalf("payload should be forwarded unchanged")
	}
}

func TestServiceProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, &fakeRegistry{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("expected empty batch to report not processed")
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := newOrderEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	out := &fakeSink{}
	service := newTestService(t, repo, out, reg, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.dlq); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if repo.dlq[0].id != event.ID {
		t.Fatalf("dlq event mismatch: %s", repo.dlq[0].id)
	}
	if repo.dlq[0].reason != string(enums.OutboxDLQReasonNonRetryable) {
		t.Fatalf("unexpected error reason: %s", repo.dlq[0].reason)
	}
	if len(out.sent) != 0 {
		t.Fatalf("unresolvable rows must not be published")
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := newOrderEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	out := &fakeSink{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, out, &fakeRegistry{resolved: orderResolved()}, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := len(repo.dlq); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if repo.dlq[0].reason != string(enums.OutboxDLQReasonMaxAttempts) {
		t.Fatalf("unexpected error reason: %s", repo.dlq[0].reason)
	}
	if repo.dlq[0].attempts != 2 {
		t.Fatalf("expected dlq row to carry 2 attempts, got %d", repo.dlq[0].attempts)
	}
}

func TestServiceProcessBatchSurfacesFetchError(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("db down")}
	service := newTestService(t, repo, &fakeSink{}, &fakeRegistry{}, nil)
	if _, err := service.processBatch(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestKafkaSinkMapsAttributesToHeaders(t *testing.T) {
	client := &fakeKafka{}
	s := newKafkaSink(client)
	err := s.Publish(context.Background(), "modoria.order-events", outboundMessage{
		Key:        "agg",
		Data:       []byte("{}"),
		Attributes: map[string]string{"event_type": "order_paid"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.last.Topic != "modoria.order-events" || client.last.Key != "agg" {
		t.Fatalf("unexpected kafka message %+v", client.last)
	}
	if client.last.Headers["event_type"] != "order_paid" {
		t.Fatalf("headers not forwarded: %+v", client.last.Headers)
	}
}

func TestNormalizeTransport(t *testing.T) {
	for input, want := range map[string]string{"": transportPubSub, " PubSub ": transportPubSub, "KAFKA": transportKafka} {
		got, err := normalizeTransport(input)
		if err != nil || got != want {
			t.Fatalf("normalizeTransport(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := normalizeTransport("sqs"); err == nil {
		t.Fatal("expected unsupported transport error")
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	if got := nextBackoff(time.Second, time.Second, 3*time.Second); got != 2*time.Second {
		t.Fatalf("expected doubling, got %v", got)
	}
	if got := nextBackoff(2*time.Second, time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, out sink, reg registryResolver, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: outboxCfg},
		Logger:     logg,
		DB:         &fakeDB{},
		Sink:       out,
		Repository: repo,
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func newOrderEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

func orderResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			Topic:         "orders-topic",
		},
		Payload: &payloads.OrderPlacedEvent{},
	}
}

type dlqCall struct {
	id       uuid.UUID
	reason   string
	attempts int
}

type fakeRepo struct {
	events    []models.OutboxEvent
	fetchErr  error
	published []uuid.UUID
	failed    []uuid.UUID
	dlq       []dlqCall
}

func (f *fakeRepo) FetchUnpublished(context.Context, int) ([]models.OutboxEvent, error) {
	return f.events, f.fetchErr
}

func (f *fakeRepo) MarkPublished(_ context.Context, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, _ error) (int, error) {
	f.failed = append(f.failed, id)
	for _, e := range f.events {
		if e.ID == id {
			return e.AttemptCount + 1, nil
		}
	}
	return 1, nil
}

func (f *fakeRepo) MoveToDLQ(_ context.Context, _ *outbox.DLQRepository, event models.OutboxEvent, reason string, _ error) error {
	f.dlq = append(f.dlq, dlqCall{id: event.ID, reason: reason, attempts: event.AttemptCount})
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

type sentMessage struct {
	topic string
	msg   outboundMessage
}

type fakeSink struct {
	errs []error
	sent []sentMessage
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Ping(context.Context) error { return nil }

func (f *fakeSink) Publish(_ context.Context, topic string, msg outboundMessage) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, sentMessage{topic: topic, msg: msg})
	}
	return err
}

type fakeKafka struct {
	last kafka.Message
}

func (f *fakeKafka) Ping(context.Context) error { return nil }

func (f *fakeKafka) Publish(_ context.Context, msg kafka.Message) error {
	f.last = msg
	return nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}
