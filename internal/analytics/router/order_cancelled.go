package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
	"github.com/shopspring/decimal"
)

type orderCancelledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderCancelledHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderCancelledHandler{writer: writer, logg: logg}
}

// Cancelled orders never booked revenue, so the row carries zero amounts and
// the order total only in the payload.
func (h *orderCancelledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCancelledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_cancelled")
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"order_id":   event.OrderID,
		"from":       event.From,
	})

	row, err := buildAmountRow(
		envelope,
		event.OrderID,
		event.OrderNumber,
		event.UserID,
		decimal.Zero,
		decimal.Zero,
		event.Currency,
		event.CancelledAt,
		event,
	)
	if err != nil {
		h.logg.Error(logCtx, "failed to build termination row", err)
		return err
	}

	if err := h.writer.InsertOrderEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order event row", err)
		return err
	}

	h.logg.Info(logCtx, "order_cancelled handler inserted order event row")
	return nil
}
