package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/payloads"
)

type orderPlacedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderPlacedHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderPlacedHandler{writer: writer, logg: logg}
}

func (h *orderPlacedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderPlacedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_placed")
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"order_id":     event.OrderID,
		"order_number": event.OrderNumber,
	})

	row, err := buildOrderPlacedRow(envelope, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build order event row", err)
		return err
	}

	if err := h.writer.InsertOrderEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order event row", err)
		return err
	}

	h.logg.Info(logCtx, "order_placed handler inserted order event row")
	return nil
}

func buildOrderPlacedRow(envelope types.Envelope, event *payloads.OrderPlacedEvent) (types.OrderEventRow, error) {
	itemsJSON, err := types.JSONColumn(event.Lines)
	if err != nil {
		return types.OrderEventRow{}, fmt.Errorf("encode items json: %w", err)
	}
	payloadJSON, err := types.JSONColumn(event)
	if err != nil {
		return types.OrderEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	occurred := event.PlacedAt
	if occurred.IsZero() {
		occurred = envelope.OccurredAt
	}

	var items int64
	for _, line := range event.Lines {
		items += int64(line.Quantity)
	}

	row := types.OrderEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		OccurredAt:    occurred.UTC(),
		OrderID:       event.OrderID.String(),
		OrderNumber:   stringPtr(event.OrderNumber),
		UserID:        uuidPtr(event.UserID),
		Currency:      stringPtr(event.Currency),
		SubtotalCents: centsPtr(event.Subtotal),
		DiscountCents: centsPtr(event.DiscountAmount),
		TaxCents:      centsPtr(event.TaxAmount),
		ShippingCents: centsPtr(event.ShippingAmount),
		GrossCents:    centsPtr(event.TotalAmount),
		RefundCents:   int64Ptr(0),
		NetCents:      centsPtr(event.TotalAmount),
		ItemCount:     int64Ptr(items),
		Items:         itemsJSON,
		Payload:       payloadJSON,
	}
	if event.CouponCode != nil {
		row.CouponCode = stringPtr(*event.CouponCode)
	}
	return row, nil
}
