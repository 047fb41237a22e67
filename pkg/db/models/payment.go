package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

// Payment is the local record of a gateway intent for exactly one order.
type Payment struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	UserID           uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	Provider         enums.PaymentProvider `gorm:"column:provider;type:varchar(16);not null"`
	ExternalIntentID string                `gorm:"column:external_intent_id;not null;uniqueIndex"`
	Amount           decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string                `gorm:"column:currency;type:varchar(3);not null"`
	Status           enums.PaymentStatus   `gorm:"column:status;type:varchar(32);not null"`
	TransactionID    *string               `gorm:"column:transaction_id"`
	FailureReason    *string               `gorm:"column:failure_reason"`
	PaidAt           *time.Time            `gorm:"column:paid_at"`
	RefundedAt       *time.Time            `gorm:"column:refunded_at"`
	RefundAmount     *decimal.Decimal      `gorm:"column:refund_amount;type:numeric(12,2)"`
	RefundReason     *string               `gorm:"column:refund_reason"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
