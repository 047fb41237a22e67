package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

// Order is the immutable record produced from a cart. Only the status, the
// shipping progress fields and the payment link change after creation.
type Order struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       string                `gorm:"column:order_number;not null;uniqueIndex"`
	UserID            uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	UserEmail         string                `gorm:"column:user_email;not null"`
	Status            enums.OrderStatus     `gorm:"column:status;type:varchar(32);not null"`
	Subtotal          decimal.Decimal       `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountAmount    decimal.Decimal       `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	TaxAmount         decimal.Decimal       `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	ShippingAmount    decimal.Decimal       `gorm:"column:shipping_amount;type:numeric(12,2);not null"`
	TotalAmount       decimal.Decimal       `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency          string                `gorm:"column:currency;type:varchar(3);not null"`
	AppliedCouponCode *string               `gorm:"column:applied_coupon_code"`
	CustomerNotes     *string               `gorm:"column:customer_notes"`
	ShippingAddress   types.ShippingAddress `gorm:"embedded;embeddedPrefix:ship_"`
	PaymentID         *uuid.UUID            `gorm:"column:payment_id;type:uuid"`
	TrackingNumber    *string               `gorm:"column:tracking_number"`
	ShippedAt         *time.Time            `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time            `gorm:"column:delivered_at"`
	CancelledAt       *time.Time            `gorm:"column:cancelled_at"`
	Lines             []OrderLine           `gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// ComputeTotal applies total = subtotal + tax + shipping - discount.
func ComputeTotal(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(shipping).Sub(discount)
}

// TotalsConsistent reports whether the stored total matches its components.
func (o Order) TotalsConsistent() bool {
	return o.TotalAmount.Equal(ComputeTotal(o.Subtotal, o.TaxAmount, o.ShippingAmount, o.DiscountAmount))
}

// OrderLine is the price and name snapshot of one purchased SKU.
type OrderLine struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID   *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	SKU         string          `gorm:"column:sku;not null"`
	ProductName string          `gorm:"column:product_name;not null"`
	VariantName *string         `gorm:"column:variant_name"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	Subtotal    decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
