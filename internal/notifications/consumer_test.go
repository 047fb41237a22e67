package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

type sentNotification struct {
	userID uuid.UUID
	role   enums.UserRole
	msg    Message
}

type fakeInbox struct {
	sent []sentNotification
	err  error
}

func (f *fakeInbox) NotifyUser(_ context.Context, userID uuid.UUID, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{userID: userID, msg: msg})
	return nil
}

func (f *fakeInbox) NotifyRole(_ context.Context, role enums.UserRole, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{role: role, msg: msg})
	return nil
}

type fakeMailer struct {
	confirmations []string
	shipping      []string
	err           error
}

func (f *fakeMailer) SendOrderConfirmation(_ context.Context, event payloads.OrderPlacedEvent) error {
	f.confirmations = append(f.confirmations, event.OrderNumber)
	return f.err
}

func (f *fakeMailer) SendShippingUpdate(_ context.Context, event payloads.OrderShippedEvent) error {
	f.shipping = append(f.shipping, event.TrackingNumber)
	return f.err
}

type fakeGuard struct {
	seen    map[string]bool
	deleted []string
	err     error
}

func (f *fakeGuard) Claim(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeGuard) Release(_ context.Context, id string) error {
	delete(f.seen, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type noopSubscription struct{}

func (noopSubscription) Receive(context.Context, func(context.Context, *pubsub.Message)) error {
	return nil
}

func newTestConsumer(t *testing.T, in *fakeInbox, mail *fakeMailer, guard *fakeGuard) *Consumer {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
	c, err := newConsumer(in, mail, noopSubscription{}, guard, logg)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func message(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data any) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	env, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         "msg-" + eventID.String(),
		Data:       env,
		Attributes: map[string]string{
			"event_type":     string(eventType),
			"aggregate_type": string(enums.AggregateOrder),
			"aggregate_id":   uuid.NewString(),
		},
	}
}

func TestConsumerOrderPlacedNotifiesAndMails(t *testing.T) {
	in, mail, guard := &fakeInbox{}, &fakeMailer{}, &fakeGuard{}
	c := newTestConsumer(t, in, mail, guard)
	userID := uuid.New()
	eventID := uuid.New()

	result := c.process(context.Background(), message(t, enums.EventOrderPlaced, eventID, payloads.OrderPlacedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-20260105-AB12CD",
		UserID:      userID,
		TotalAmount: decimal.RequireFromString("47.5"),
		Currency:    "USD",
	}))
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(in.sent) != 1 || in.sent[0].userID != userID {
		t.Fatalf("expected one user notification, got %+v", in.sent)
	}
	if in.sent[0].msg.Body != "Order ORD-20260105-AB12CD for 47.50 USD has been placed." {
		t.Fatalf("unexpected body %q", in.sent[0].msg.Body)
	}
	if len(mail.confirmations) != 1 {
		t.Fatalf("expected confirmation mail")
	}

	again := c.process(context.Background(), message(t, enums.EventOrderPlaced, eventID, payloads.OrderPlacedEvent{UserID: userID}))
	if !again.ack || len(in.sent) != 1 {
		t.Fatalf("duplicate delivery must be acked without side effects")
	}
}

func TestConsumerMailFailureDoesNotNack(t *testing.T) {
	in, mail := &fakeInbox{}, &fakeMailer{err: errors.New("smtp down")}
	c := newTestConsumer(t, in, mail, &fakeGuard{})

	result := c.process(context.Background(), message(t, enums.EventOrderShipped, uuid.New(), payloads.OrderShippedEvent{
		OrderID:        uuid.New(),
		OrderNumber:    "ORD-20260105-AB12CD",
		UserID:         uuid.New(),
		TrackingNumber: "1Z999",
	}))
	if !result.ack {
		t.Fatalf("mail failures must not nack")
	}
	if len(mail.shipping) != 1 || mail.shipping[0] != "1Z999" {
		t.Fatalf("expected shipping mail attempt, got %v", mail.shipping)
	}
}

func TestConsumerLowStockGoesToAdmins(t *testing.T) {
	in := &fakeInbox{}
	c := newTestConsumer(t, in, &fakeMailer{}, &fakeGuard{})

	result := c.process(context.Background(), message(t, enums.EventInventoryLowStock, uuid.New(), payloads.InventoryLowStockEvent{
		ProductID: uuid.New(),
		SKU:       "TEE-BLK-M",
		Remaining: 2,
		Threshold: 5,
	}))
	if !result.ack {
		t.Fatalf("expected ack")
	}
	if len(in.sent) != 1 || in.sent[0].role != enums.UserRoleAdmin {
		t.Fatalf("expected admin role notification, got %+v", in.sent)
	}
	if in.sent[0].msg.Type != enums.NotificationTypeLowStockAlert {
		t.Fatalf("unexpected type %s", in.sent[0].msg.Type)
	}
}

func TestConsumerSkipsInternalStatusChanges(t *testing.T) {
	in := &fakeInbox{}
	c := newTestConsumer(t, in, &fakeMailer{}, &fakeGuard{})

	result := c.process(context.Background(), message(t, enums.EventOrderStatusChanged, uuid.New(), payloads.OrderStatusChangedEvent{
		OrderID: uuid.New(),
		UserID:  uuid.New(),
		From:    enums.OrderStatusPaid,
		To:      enums.OrderStatusShipped,
	}))
	if !result.ack || len(in.sent) != 0 {
		t.Fatalf("shipped transitions are covered by order_shipped")
	}
}

func TestConsumerStoreFailureReleasesKeyAndNacks(t *testing.T) {
	in := &fakeInbox{err: errors.New("db down")}
	guard := &fakeGuard{}
	c := newTestConsumer(t, in, &fakeMailer{}, guard)
	eventID := uuid.New()

	result := c.process(context.Background(), message(t, enums.EventPaymentFailed, eventID, payloads.PaymentFailedEvent{
		PaymentID: uuid.New(),
		OrderID:   uuid.New(),
		UserID:    uuid.New(),
		Reason:    "card_declined",
	}))
	if !result.nack {
		t.Fatalf("expected nack")
	}
	if len(guard.deleted) != 1 || guard.deleted[0] != eventID.String() {
		t.Fatalf("expected idempotency key released, got %v", guard.deleted)
	}
}

func TestConsumerAcksMalformedMessages(t *testing.T) {
	c := newTestConsumer(t, &fakeInbox{}, &fakeMailer{}, &fakeGuard{})

	unknown := &pubsub.Message{Data: []byte(`{}`), Attributes: map[string]string{"event_type": "wishlist_item_added"}}
	if !c.process(context.Background(), unknown).ack {
		t.Fatalf("unknown event types are acked")
	}
	garbage := &pubsub.Message{Data: []byte(`not json`), Attributes: map[string]string{"event_type": string(enums.EventOrderPaid)}}
	if !c.process(context.Background(), garbage).ack {
		t.Fatalf("undecodable messages are acked")
	}
}

func TestConsumerIdempotencyErrorNacks(t *testing.T) {
	c := newTestConsumer(t, &fakeInbox{}, &fakeMailer{}, &fakeGuard{err: errors.New("redis down")})
	result := c.process(context.Background(), message(t, enums.EventOrderPaid, uuid.New(), payloads.OrderPaidEvent{UserID: uuid.New()}))
	if !result.nack {
		t.Fatalf("expected nack when idempotency store fails")
	}
}
