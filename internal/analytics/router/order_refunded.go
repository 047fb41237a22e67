package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
	"github.com/shopspring/decimal"
)

type orderRefundedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderRefundedHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderRefundedHandler{writer: writer, logg: logg}
}

func (h *orderRefundedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderRefundedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_refunded")
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"order_id":   event.OrderID,
		"amount":     event.Amount.String(),
	})

	row, err := buildAmountRow(
		envelope,
		event.OrderID,
		event.OrderNumber,
		event.UserID,
		decimal.Zero,
		event.Amount,
		event.Currency,
		event.RefundedAt,
		event,
	)
	if err != nil {
		h.logg.Error(logCtx, "failed to build refund row", err)
		return err
	}
	row.PaymentID = uuidPtr(event.PaymentID)

	if err := h.writer.InsertOrderEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order event row", err)
		return err
	}

	h.logg.Info(logCtx, "order_refunded handler inserted order event row")
	return nil
}
