package payments

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/orders"
	dbpkg "github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

// CreateIntent opens a gateway intent for a PENDING order. An open PENDING
// payment is resumed; any other existing payment is a conflict. The gateway
// is called before anything is written locally.
func (s *service) CreateIntent(ctx context.Context, input IntentInput) (*IntentResult, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":  input.UserID.String(),
		"order_id": input.OrderID.String(),
	})
	order, err := s.orders.Get(ctx, input.OrderID, orders.Actor{UserID: input.UserID, Role: enums.UserRoleCustomer})
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is not awaiting payment").
			WithDetails(orders.Transition{From: order.Status, To: enums.OrderStatusPaid})
	}

	existing, err := s.repo.FindByOrderID(ctx, order.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if existing != nil {
		if existing.Status != enums.PaymentStatusPending {
			return nil, paymentConflict(existing, "order already has a payment")
		}
		return s.resumeIntent(ctx, existing)
	}

	gw, err := s.gateway(input.Provider)
	if err != nil {
		return nil, err
	}

	done := s.observe(gw.Provider(), "create_intent")
	intent, err := gw.CreateIntent(ctx, gateway.CreateIntentInput{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		CustomerEmail:  order.UserEmail,
		IdempotencyKey: "intent-" + order.ID.String(),
		PaymentSource:  input.PaymentSource,
	})
	done()
	if err != nil {
		return nil, err
	}

	payment, err := s.persistIntent(ctx, order, gw.Provider(), intent)
	if err != nil {
		return nil, err
	}
	s.metrics.IncPaymentOutcome(string(payment.Provider), string(payment.Status))
	s.logg.Info(s.logg.WithField(ctx, "intent_id", intent.ID), "payment intent created")
	return &IntentResult{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

// resumeIntent returns the open intent instead of opening a second one. The
// client secret is never stored, so it is read back from the gateway.
func (s *service) resumeIntent(ctx context.Context, payment *models.Payment) (*IntentResult, error) {
	gw, err := s.gateway(payment.Provider)
	if err != nil {
		return nil, err
	}
	done := s.observe(payment.Provider, "retrieve_intent")
	intent, err := gw.RetrieveIntent(ctx, payment.ExternalIntentID)
	done()
	if err != nil {
		return nil, err
	}
	return &IntentResult{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

func (s *service) persistIntent(ctx context.Context, order *models.Order, provider enums.PaymentProvider, intent *gateway.Intent) (*models.Payment, error) {
	payment := &models.Payment{
		OrderID:          order.ID,
		UserID:           order.UserID,
		Provider:         provider,
		ExternalIntentID: intent.ID,
		Amount:           order.TotalAmount,
		Currency:         order.Currency,
		Status:           enums.PaymentStatusPending,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

// Confirm settles an intent. A payment that is already COMPLETED is returned
// as is without asking the gateway, so client confirmation and the success
// webhook may both arrive in any order.
func (s *service) Confirm(ctx context.Context, intentID string) (*models.Payment, error) {
	ctx = s.logg.WithField(ctx, "intent_id", intentID)
	payment, err := s.confirm(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotSuccessful, "payment can no longer be confirmed").
			WithDetails(map[string]any{"payment_status": payment.Status})
	}
	return payment, nil
}

// confirm drives the payment as far as the gateway allows and returns it.
// A REFUNDED payment, or a CANCELLED one whose late capture was refunded,
// comes back without error so webhook deliveries are acknowledged.
func (s *service) confirm(ctx context.Context, intentID string) (*models.Payment, error) {
	payment, err := s.findByIntent(ctx, s.repo, intentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
		return payment, nil
	case enums.PaymentStatusCancelled:
		return s.refundCancelledCapture(ctx, payment)
	}
	if !payment.Status.IsOpen() {
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotSuccessful, "payment can no longer be confirmed").
			WithDetails(map[string]any{"payment_status": payment.Status})
	}

	gw, err := s.gateway(payment.Provider)
	if err != nil {
		return nil, err
	}
	intent, err := s.settle(ctx, gw, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != gateway.IntentSucceeded {
		s.metrics.IncPaymentOutcome(string(payment.Provider), "not_successful")
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotSuccessful, "payment has not succeeded").
			WithDetails(map[string]any{"intent_status": intent.Status})
	}
	return s.complete(ctx, payment, intent)
}

// settle reads the intent and confirms it server-side when the gateway is
// only waiting for that, or when a test payment method is configured.
func (s *service) settle(ctx context.Context, gw gateway.Gateway, intentID string) (*gateway.Intent, error) {
	done := s.observe(gw.Provider(), "retrieve_intent")
	intent, err := gw.RetrieveIntent(ctx, intentID)
	done()
	if err != nil {
		return nil, err
	}

	method := ""
	switch {
	case intent.Status == gateway.IntentRequiresConfirmation:
	case intent.Status == gateway.IntentRequiresPaymentMethod && s.testPaymentMethod != "":
		method = s.testPaymentMethod
		s.logg.Warn(ctx, "auto-confirming intent with the test payment method")
	default:
		return intent, nil
	}

	done = s.observe(gw.Provider(), "confirm_intent")
	intent, err = gw.ConfirmIntent(ctx, intentID, method)
	done()
	return intent, err
}

// complete moves the payment to COMPLETED and the order to PAID in one
// transaction. Losing the conditional update to a concurrent confirmation
// is not an error: the winner already did the work. Losing it to a
// cancellation refunds the capture.
func (s *service) complete(ctx context.Context, payment *models.Payment, intent *gateway.Intent) (*models.Payment, error) {
	var settled *models.Payment
	applied, cancelled := false, false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		updates := map[string]any{"paid_at": now}
		if intent.TransactionID != "" {
			updates["transaction_id"] = intent.TransactionID
		}
		ok, err := repo.Transition(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}, enums.PaymentStatusCompleted, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
		}
		current, err := s.findByIntent(ctx, repo, payment.ExternalIntentID)
		if err != nil {
			return err
		}
		settled = current
		if !ok {
			switch current.Status {
			case enums.PaymentStatusCompleted:
				return nil
			case enums.PaymentStatusCancelled:
				cancelled = true
				return nil
			}
			return pkgerrors.New(pkgerrors.CodePaymentNotSuccessful, "payment can no longer be confirmed").
				WithDetails(map[string]any{"payment_status": current.Status})
		}

		order, err := s.orders.MarkPaid(ctx, tx, payment.OrderID, payment.ID)
		if err != nil {
			if lost, ok := pkgerrors.As(err).Details().(orders.Transition); ok && lost.From == enums.OrderStatusCancelled {
				cancelled = true
			}
			return err
		}
		applied = true

		s.emitBestEffort(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			OccurredAt:    now,
			Data: payloads.OrderPaidEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				UserID:        order.UserID,
				PaymentID:     payment.ID,
				Provider:      payment.Provider,
				Amount:        payment.Amount,
				Currency:      payment.Currency,
				TransactionID: current.TransactionID,
				PaidAt:        now,
			},
		})
		return nil
	})
	if cancelled {
		// the order was cancelled while the intent settled
		unsettled := []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}
		if _, voidErr := s.repo.Transition(ctx, payment.ID, unsettled, enums.PaymentStatusCancelled, nil); voidErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, voidErr, "void payment")
		}
		current, findErr := s.findByIntent(ctx, s.repo, payment.ExternalIntentID)
		if findErr != nil {
			return nil, findErr
		}
		if current.Status == enums.PaymentStatusCancelled {
			return s.refundCancelledCapture(ctx, current)
		}
	}
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.IncPaymentOutcome(string(settled.Provider), string(enums.PaymentStatusCompleted))
		s.logg.Info(s.logg.WithField(ctx, "order_id", settled.OrderID.String()), "payment completed")
	}
	return settled, nil
}

// refundCancelledCapture returns money captured after the order was cancelled
// and its payment voided. The order stays CANCELLED; the payment moves from
// CANCELLED to REFUNDED. Nothing is refunded unless the intent succeeded.
func (s *service) refundCancelledCapture(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	ctx = s.logg.WithField(ctx, "order_id", payment.OrderID.String())
	gw, err := s.gateway(payment.Provider)
	if err != nil {
		return nil, err
	}
	done := s.observe(payment.Provider, "retrieve_intent")
	intent, err := gw.RetrieveIntent(ctx, payment.ExternalIntentID)
	done()
	if err != nil {
		return nil, err
	}
	if intent.Status != gateway.IntentSucceeded {
		return payment, nil
	}

	done = s.observe(payment.Provider, "create_refund")
	refund, err := gw.CreateRefund(ctx, gateway.RefundInput{
		IntentID:       payment.ExternalIntentID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Reason:         cancelledOrderRefundReason,
		IdempotencyKey: "refund-" + payment.ID.String(),
	})
	done()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reason := cancelledOrderRefundReason
	updates := map[string]any{
		"paid_at":       now,
		"refunded_at":   now,
		"refund_amount": payment.Amount,
		"refund_reason": reason,
	}
	if intent.TransactionID != "" {
		updates["transaction_id"] = intent.TransactionID
	}
	ok, err := s.repo.Transition(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusCancelled}, enums.PaymentStatusRefunded, updates)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "refund_id", refund.ID), "refund recorded at gateway but not locally", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
	}
	if !ok {
		return s.findByIntent(ctx, s.repo, payment.ExternalIntentID)
	}

	amount := payment.Amount
	payment.Status = enums.PaymentStatusRefunded
	payment.PaidAt = &now
	payment.RefundedAt = &now
	payment.RefundAmount = &amount
	payment.RefundReason = &reason
	if intent.TransactionID != "" {
		txID := intent.TransactionID
		payment.TransactionID = &txID
	}
	s.metrics.IncPaymentOutcome(string(payment.Provider), string(enums.PaymentStatusRefunded))
	s.logg.Warn(s.logg.WithField(ctx, "refund_id", refund.ID), "capture on cancelled order refunded")
	return payment, nil
}
