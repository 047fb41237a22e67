package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/registry"
	"github.com/angelmondragon/modoria-backend/pkg/redis"
	"github.com/google/uuid"
)

const orderNotificationConsumer = "order-notifications"

type subscription interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type inbox interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, msg Message) error
	NotifyRole(ctx context.Context, role enums.UserRole, msg Message) error
}

type processedGuard interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Consumer turns order and inventory events into inbox rows and mail.
type Consumer struct {
	inbox        inbox
	mailer       Mailer
	subscription subscription
	idempotency  processedGuard
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds the order notification consumer.
func NewConsumer(notifier inbox, mailer Mailer, sub subscription, store redis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) (*Consumer, error) {
	guard, err := idempotency.ForConsumer(store, ttl, orderNotificationConsumer)
	if err != nil {
		return nil, err
	}
	return newConsumer(notifier, mailer, sub, guard, logg)
}

func newConsumer(notifier inbox, mailer Mailer, sub subscription, guard processedGuard, logg *logger.Logger) (*Consumer, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if sub == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		inbox:        notifier,
		mailer:       mailer,
		subscription: sub,
		idempotency:  guard,
		decoders:     registry.NewOrderEventDecoders(),
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	delivery, err := registry.ParseDelivery(msg.Data, msg.Attributes)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable message")
		return processResult{ack: true}
	}
	logCtx = c.logg.WithFields(logCtx, delivery.Fields())

	payload, err := c.decoders.Decode(delivery.EventType, delivery.Version(), delivery.Envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}

	id := delivery.EventID.String()
	fresh, err := c.idempotency.Claim(ctx, id)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !fresh {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handlePayload(ctx, logCtx, payload); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		if relErr := c.idempotency.Release(ctx, id); relErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", relErr)
		}
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handlePayload(ctx, logCtx context.Context, payload interface{}) error {
	switch event := payload.(type) {
	case *payloads.OrderPlacedEvent:
		if err := c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypeOrderStatusUpdate,
			Title: "Order received",
			Body:  fmt.Sprintf("Order %s for %s %s has been placed.", event.OrderNumber, event.TotalAmount.StringFixed(2), event.Currency),
			Link:  orderLink(event.OrderID),
			Data:  map[string]any{"order_number": event.OrderNumber},
		}); err != nil {
			return err
		}
		c.sendMail(logCtx, "order confirmation", func() error { return c.mailer.SendOrderConfirmation(ctx, *event) })
	case *payloads.OrderStatusChangedEvent:
		// Paid, shipped, cancelled and refunded carry their own event.
		if event.To != enums.OrderStatusConfirmed && event.To != enums.OrderStatusDelivered {
			return nil
		}
		return c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypeOrderStatusUpdate,
			Title: "Order updated",
			Body:  fmt.Sprintf("Order %s is now %s.", event.OrderNumber, statusLabel(event.To)),
			Link:  orderLink(event.OrderID),
			Data:  map[string]any{"from": event.From, "to": event.To},
		})
	case *payloads.OrderPaidEvent:
		return c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypePayment,
			Title: "Payment received",
			Body:  fmt.Sprintf("We received %s %s for order %s.", event.Amount.StringFixed(2), event.Currency, event.OrderNumber),
			Link:  orderLink(event.OrderID),
		})
	case *payloads.OrderShippedEvent:
		body := fmt.Sprintf("Order %s has shipped.", event.OrderNumber)
		if event.TrackingNumber != "" {
			body = fmt.Sprintf("Order %s has shipped. Tracking number: %s", event.OrderNumber, event.TrackingNumber)
		}
		if err := c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypeOrderStatusUpdate,
			Title: "Order shipped",
			Body:  body,
			Link:  orderLink(event.OrderID),
		}); err != nil {
			return err
		}
		c.sendMail(logCtx, "shipping update", func() error { return c.mailer.SendShippingUpdate(ctx, *event) })
	case *payloads.OrderCancelledEvent:
		return c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypeOrderStatusUpdate,
			Title: "Order cancelled",
			Body:  fmt.Sprintf("Order %s was cancelled.", event.OrderNumber),
			Link:  orderLink(event.OrderID),
			Data:  map[string]any{"reason": event.Reason},
		})
	case *payloads.OrderRefundedEvent:
		return c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypePayment,
			Title: "Refund issued",
			Body:  fmt.Sprintf("%s %s was refunded for order %s.", event.Amount.StringFixed(2), event.Currency, event.OrderNumber),
			Link:  orderLink(event.OrderID),
		})
	case *payloads.PaymentFailedEvent:
		return c.inbox.NotifyUser(ctx, event.UserID, Message{
			Type:  enums.NotificationTypePayment,
			Title: "Payment failed",
			Body:  "Your payment could not be completed. Please try another payment method.",
			Link:  orderLink(event.OrderID),
			Data:  map[string]any{"reason": event.Reason},
		})
	case *payloads.InventoryLowStockEvent:
		return c.inbox.NotifyRole(ctx, enums.UserRoleAdmin, Message{
			Type:  enums.NotificationTypeLowStockAlert,
			Title: "Low stock",
			Body:  fmt.Sprintf("SKU %s has %d units left.", event.SKU, event.Remaining),
			Link:  fmt.Sprintf("/admin/products/%s", event.ProductID),
			Data:  event,
		})
	default:
		return errors.New("unsupported payload")
	}
	return nil
}

// sendMail never fails the message; the inbox row is the durable record.
func (c *Consumer) sendMail(logCtx context.Context, kind string, send func() error) {
	if err := send(); err != nil {
		c.logg.Error(logCtx, kind+" mail failed", err)
	}
}

func orderLink(orderID uuid.UUID) string {
	return fmt.Sprintf("/orders/%s", orderID)
}

func statusLabel(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusConfirmed:
		return "confirmed"
	case enums.OrderStatusDelivered:
		return "delivered"
	default:
		return string(status)
	}
}
