package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/orders"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

const cancelledOrderRefundReason = "order cancelled before payment settled"

// Refund returns the full amount of a completed payment. A PAID order moves
// to REFUNDED; an order cancelled after payment stays CANCELLED. Both states
// are checked before the gateway is called.
func (s *service) Refund(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error) {
	ctx = s.logg.WithField(ctx, "order_id", orderID.String())
	reason = strings.TrimSpace(reason)

	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "only completed payments can be refunded").
			WithDetails(map[string]any{"payment_status": payment.Status})
	}
	order, err := s.orders.Get(ctx, orderID, orders.SystemActor)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case enums.OrderStatusPaid, enums.OrderStatusCancelled:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order cannot be refunded in its current status").
			WithDetails(orders.Transition{From: order.Status, To: enums.OrderStatusRefunded})
	}

	gw, err := s.gateway(payment.Provider)
	if err != nil {
		return nil, err
	}
	done := s.observe(payment.Provider, "create_refund")
	refund, err := gw.CreateRefund(ctx, gateway.RefundInput{
		IntentID:       payment.ExternalIntentID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Reason:         reason,
		IdempotencyKey: "refund-" + payment.ID.String(),
	})
	done()
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		updates := map[string]any{
			"refunded_at":   now,
			"refund_amount": payment.Amount,
		}
		if reason != "" {
			updates["refund_reason"] = reason
		}
		ok, err := repo.Transition(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusCompleted}, enums.PaymentStatusRefunded, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment was refunded concurrently")
		}
		if _, err := s.orders.MarkRefunded(ctx, tx, orderID); err != nil {
			return err
		}

		amount := payment.Amount
		payment.Status = enums.PaymentStatusRefunded
		payment.RefundedAt = &now
		payment.RefundAmount = &amount
		if reason != "" {
			payment.RefundReason = &reason
		}

		s.emitBestEffort(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{Role: string(enums.UserRoleAdmin)},
			OccurredAt:    now,
			Data: payloads.OrderRefundedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      order.UserID,
				PaymentID:   payment.ID,
				Amount:      amount,
				Currency:    payment.Currency,
				Reason:      reason,
				RefundedAt:  now,
			},
		})
		return nil
	})
	if err != nil {
		// the gateway already refunded; the row needs manual reconciliation
		s.logg.Error(s.logg.WithField(ctx, "refund_id", refund.ID), "refund recorded at gateway but not locally", err)
		return nil, err
	}

	s.metrics.IncPaymentOutcome(string(payment.Provider), string(enums.PaymentStatusRefunded))
	s.logg.Info(s.logg.WithField(ctx, "refund_id", refund.ID), "payment refunded")
	return payment, nil
}
