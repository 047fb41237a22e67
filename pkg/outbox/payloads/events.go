package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

// OrderLineSummary is the line detail carried on order events.
type OrderLineSummary struct {
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	VariantName *string         `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderPlacedEvent is emitted once an order and its lines are committed.
type OrderPlacedEvent struct {
	OrderID        uuid.UUID          `json:"order_id"`
	OrderNumber    string             `json:"order_number"`
	UserID         uuid.UUID          `json:"user_id"`
	UserEmail      string             `json:"user_email"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	TaxAmount      decimal.Decimal    `json:"tax_amount"`
	ShippingAmount decimal.Decimal    `json:"shipping_amount"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	Currency       string             `json:"currency"`
	CouponCode     *string            `json:"coupon_code,omitempty"`
	Lines          []OrderLineSummary `json:"lines"`
	PlacedAt       time.Time          `json:"placed_at"`
}

// OrderStatusChangedEvent is emitted for every customer-visible transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	UserID      uuid.UUID         `json:"user_id"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// OrderPaidEvent is emitted when the payment for an order completes.
type OrderPaidEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	OrderNumber   string                `json:"order_number"`
	UserID        uuid.UUID             `json:"user_id"`
	PaymentID     uuid.UUID             `json:"payment_id"`
	Provider      enums.PaymentProvider `json:"provider"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency"`
	TransactionID *string               `json:"transaction_id,omitempty"`
	PaidAt        time.Time             `json:"paid_at"`
}

// OrderShippedEvent drives the shipping update e-mail.
type OrderShippedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	UserID         uuid.UUID `json:"user_id"`
	UserEmail      string    `json:"user_email"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedAt      time.Time `json:"shipped_at"`
}

// OrderCancelledEvent is emitted after a cancellation restocked the order.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	UserID      uuid.UUID         `json:"user_id"`
	From        enums.OrderStatus `json:"from"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Currency    string            `json:"currency"`
	Reason      string            `json:"reason,omitempty"`
	CancelledAt time.Time         `json:"cancelled_at"`
}

// OrderRefundedEvent is emitted when a paid order is refunded in full.
type OrderRefundedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      uuid.UUID       `json:"user_id"`
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reason      string          `json:"reason,omitempty"`
	RefundedAt  time.Time       `json:"refunded_at"`
}

// PaymentFailedEvent reports a gateway-declined payment.
type PaymentFailedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// InventoryLowStockEvent fires when stock for a SKU drops under the alert threshold.
type InventoryLowStockEvent struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	SKU       string     `json:"sku"`
	Remaining int        `json:"remaining"`
	Threshold int        `json:"threshold"`
}
