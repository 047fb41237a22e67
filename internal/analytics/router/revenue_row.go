package router

import (
	"fmt"
	"time"

	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// buildAmountRow covers paid, cancelled and refunded events. A positive gross
// books revenue; a refund books the amount as negative net.
func buildAmountRow(envelope types.Envelope, orderID uuid.UUID, orderNumber string, userID uuid.UUID, gross, refund decimal.Decimal, currency string, occurred time.Time, payload any) (types.OrderEventRow, error) {
	if occurred.IsZero() {
		occurred = envelope.OccurredAt
	}

	payloadJSON, err := types.JSONColumn(payload)
	if err != nil {
		return types.OrderEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	return types.OrderEventRow{
		EventID:     envelope.EventID,
		EventType:   string(envelope.EventType),
		OccurredAt:  occurred.UTC(),
		OrderID:     orderID.String(),
		OrderNumber: stringPtr(orderNumber),
		UserID:      uuidPtr(userID),
		Currency:    stringPtr(currency),
		GrossCents:  centsPtr(gross),
		RefundCents: centsPtr(refund),
		NetCents:    centsPtr(gross.Sub(refund)),
		Payload:     payloadJSON,
	}, nil
}
