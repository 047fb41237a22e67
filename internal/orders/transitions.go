package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

// allowedTransitions lists every legal edge. CONFIRMED only appears on legacy
// rows and may only be cancelled.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusPaid, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed: {enums.OrderStatusCancelled},
	enums.OrderStatusPaid:      {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:   {enums.OrderStatusDelivered},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "cannot move order from "+string(from)+" to "+string(to)).
		WithDetails(Transition{From: from, To: to})
}

// MarkPaid links a completed payment to a PENDING order inside the caller's
// transaction.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, orderID, paymentID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	order, err := s.load(ctx, s.repo.WithTx(tx), orderID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, tx, order, enums.OrderStatusPaid, map[string]any{"payment_id": paymentID}, nil); err != nil {
		return nil, err
	}
	order.PaymentID = &paymentID
	return order, nil
}

// MarkRefunded moves a PAID order to REFUNDED inside the caller's transaction.
// A CANCELLED order stays CANCELLED; only its payment records the refund.
func (s *service) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	order, err := s.load(ctx, s.repo.WithTx(tx), orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		return order, nil
	}
	if err := s.transition(ctx, tx, order, enums.OrderStatusRefunded, nil, nil); err != nil {
		if lost, ok := pkgerrors.As(err).Details().(Transition); ok && lost.From == enums.OrderStatusCancelled {
			order.Status = enums.OrderStatusCancelled
			return order, nil
		}
		return nil, err
	}
	return order, nil
}

func (s *service) MarkShipped(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*models.Order, error) {
	tracking := strings.TrimSpace(trackingNumber)
	if tracking == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.load(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		updates := map[string]any{"tracking_number": tracking, "shipped_at": now}
		if err := s.transition(ctx, tx, order, enums.OrderStatusShipped, updates, nil); err != nil {
			return err
		}
		order.TrackingNumber = &tracking
		order.ShippedAt = &now

		s.emitBestEffort(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    now,
			Data: payloads.OrderShippedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				UserID:         order.UserID,
				UserEmail:      order.UserEmail,
				TrackingNumber: tracking,
				ShippedAt:      now,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.load(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.transition(ctx, tx, order, enums.OrderStatusDelivered, map[string]any{"delivered_at": now}, nil); err != nil {
			return err
		}
		order.DeliveredAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel moves an order to CANCELLED, restocks every line and voids a pending
// payment in one transaction. Paid orders are not refunded here.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && order.UserID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}

		from := order.Status
		switch from {
		case enums.OrderStatusShipped, enums.OrderStatusDelivered:
			return pkgerrors.New(pkgerrors.CodeCannotCancelShipped, "order has already been shipped").
				WithDetails(Transition{From: from, To: enums.OrderStatusCancelled})
		}

		now := s.now().UTC()
		if err := s.transition(ctx, tx, order, enums.OrderStatusCancelled, map[string]any{"cancelled_at": now}, &actor); err != nil {
			return err
		}
		order.CancelledAt = &now

		for _, line := range order.Lines {
			sku := inventory.SKU{ProductID: line.ProductID, VariantID: line.VariantID}
			if err := s.stock.Release(ctx, tx, sku, line.Quantity); err != nil {
				return err
			}
		}
		if err := repo.CancelOpenPayment(ctx, order.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending payment")
		}

		s.emitBestEffort(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			OccurredAt:    now,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      order.UserID,
				From:        from,
				TotalAmount: order.TotalAmount,
				Currency:    order.Currency,
				CancelledAt: now,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"restocked":    len(order.Lines),
	})
	s.logg.Info(ctx, "order cancelled")
	return order, nil
}

// UpdateStatus is the admin entry point. PAID and REFUNDED are owned by the
// payment flow and rejected here.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, update StatusUpdate) (*models.Order, error) {
	switch update.Status {
	case enums.OrderStatusShipped:
		tracking := ""
		if update.TrackingNumber != nil {
			tracking = *update.TrackingNumber
		}
		return s.MarkShipped(ctx, orderID, tracking)
	case enums.OrderStatusDelivered:
		return s.MarkDelivered(ctx, orderID)
	case enums.OrderStatusCancelled:
		return s.Cancel(ctx, orderID, SystemActor)
	case enums.OrderStatusPaid, enums.OrderStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status "+string(update.Status)+" is set by the payment flow")
	default:
		if !update.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
		}
		order, err := s.load(ctx, s.repo, orderID)
		if err != nil {
			return nil, err
		}
		return nil, invalidTransition(order.Status, update.Status)
	}
}

// ExpirePending cancels PENDING orders older than the cutoff and returns how
// many were cancelled. Orders that moved on meanwhile are skipped.
func (s *service) ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.repo.FindPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending orders")
	}

	cancelled := 0
	for _, order := range stale {
		if _, err := s.Cancel(ctx, order.ID, SystemActor); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// transition performs the conditional status write and queues the
// status-changed event. A lost race surfaces as INVALID_TRANSITION with the
// status that won.
func (s *service) transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, updates map[string]any, actor *Actor) error {
	from := order.Status
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.UpdateStatus(ctx, order.ID, from, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		current, err := s.load(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		return invalidTransition(current.Status, to)
	}
	order.Status = to
	s.metrics.IncTransition(string(from), string(to))

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		OccurredAt:    s.now().UTC(),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			From:        from,
			To:          to,
			ChangedAt:   s.now().UTC(),
		},
	}
	if actor != nil {
		event.Actor = actorRef(*actor)
	}
	s.emitBestEffort(ctx, tx, event)
	return nil
}
