package notifications

import (
	"context"

	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

// Mailer sends transactional e-mail for order milestones.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, event payloads.OrderPlacedEvent) error
	SendShippingUpdate(ctx context.Context, event payloads.OrderShippedEvent) error
}

// LogMailer records outgoing mail in the structured log. It is the default
// until an e-mail provider is configured.
type LogMailer struct {
	logg *logger.Logger
}

func NewLogMailer(logg *logger.Logger) *LogMailer {
	return &LogMailer{logg: logg}
}

func (m *LogMailer) SendOrderConfirmation(ctx context.Context, event payloads.OrderPlacedEvent) error {
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"mail":         "order_confirmation",
		"to":           event.UserEmail,
		"order_number": event.OrderNumber,
		"total":        event.TotalAmount.StringFixed(2),
		"currency":     event.Currency,
	}), "order confirmation queued")
	return nil
}

func (m *LogMailer) SendShippingUpdate(ctx context.Context, event payloads.OrderShippedEvent) error {
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"mail":            "shipping_update",
		"to":              event.UserEmail,
		"order_number":    event.OrderNumber,
		"tracking_number": event.TrackingNumber,
	}), "shipping update queued")
	return nil
}
