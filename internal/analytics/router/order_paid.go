package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
	"github.com/shopspring/decimal"
)

type orderPaidHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderPaidHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderPaidHandler{writer: writer, logg: logg}
}

func (h *orderPaidHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderPaidEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_paid")
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"order_id":   event.OrderID,
		"amount":     event.Amount.String(),
		"provider":   event.Provider,
	})

	row, err := buildAmountRow(
		envelope,
		event.OrderID,
		event.OrderNumber,
		event.UserID,
		event.Amount,
		decimal.Zero,
		event.Currency,
		event.PaidAt,
		event,
	)
	if err != nil {
		h.logg.Error(logCtx, "failed to build revenue row", err)
		return err
	}
	row.PaymentID = uuidPtr(event.PaymentID)
	row.Provider = stringPtr(string(event.Provider))

	if err := h.writer.InsertOrderEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order event row", err)
		return err
	}

	h.logg.Info(logCtx, "order_paid handler inserted order event row")
	return nil
}
