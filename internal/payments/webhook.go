package payments

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

// WebhookScope namespaces webhook idempotency claims.
const WebhookScope = "payments-webhook"

// HandleWebhook verifies and applies a provider notification. Redelivered
// events are acknowledged without effect; an event whose handling fails is
// forgotten again so the provider's retry is processed.
func (s *service) HandleWebhook(ctx context.Context, provider enums.PaymentProvider, payload []byte, signature string) error {
	gw, err := s.gateway(provider)
	if err != nil {
		return err
	}
	event, err := gw.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":   string(gw.Provider()),
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	if event.Kind == gateway.WebhookIgnored {
		s.logg.Debug(ctx, "webhook event ignored")
		return nil
	}

	guardKey := string(gw.Provider()) + ":" + event.ID
	if s.guard != nil && event.ID != "" {
		fresh, err := s.guard.Claim(ctx, guardKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
		}
		if !fresh {
			s.logg.Info(ctx, "duplicate webhook event skipped")
			return nil
		}
	}

	if err := s.applyEvent(ctx, event); err != nil {
		if s.guard != nil && event.ID != "" {
			if delErr := s.guard.Release(ctx, guardKey); delErr != nil {
				s.logg.Error(ctx, "release webhook idempotency key", delErr)
			}
		}
		return err
	}
	s.logg.Info(ctx, "webhook event processed")
	return nil
}

func (s *service) applyEvent(ctx context.Context, event *gateway.WebhookEvent) error {
	if event.IntentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event has no payment intent")
	}
	switch event.Kind {
	case gateway.WebhookIntentSucceeded:
		_, err := s.confirm(ctx, event.IntentID)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "webhook for unknown payment intent")
			return nil
		}
		return err
	case gateway.WebhookIntentFailed:
		return s.markFailed(ctx, event.IntentID, event.FailureReason)
	case gateway.WebhookIntentProcessing:
		return s.markProcessing(ctx, event.IntentID)
	default:
		return nil
	}
}

func (s *service) markFailed(ctx context.Context, intentID, reason string) error {
	if reason == "" {
		reason = "payment failed"
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := s.findByIntent(ctx, repo, intentID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				s.logg.Warn(ctx, "webhook for unknown payment intent")
				return nil
			}
			return err
		}
		ok, err := repo.Transition(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}, enums.PaymentStatusFailed, map[string]any{
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
		}
		if !ok {
			return nil
		}

		now := s.now().UTC()
		s.emitBestEffort(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			OccurredAt:    now,
			Data: payloads.PaymentFailedEvent{
				PaymentID: payment.ID,
				OrderID:   payment.OrderID,
				UserID:    payment.UserID,
				Reason:    reason,
				FailedAt:  now,
			},
		})
		s.metrics.IncPaymentOutcome(string(payment.Provider), string(enums.PaymentStatusFailed))
		return nil
	})
}

func (s *service) markProcessing(ctx context.Context, intentID string) error {
	payment, err := s.findByIntent(ctx, s.repo, intentID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if _, err := s.repo.Transition(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusProcessing, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment processing")
	}
	return nil
}
