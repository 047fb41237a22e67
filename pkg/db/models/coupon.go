package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

// Coupon is a discount rule redeemable at checkout.
type Coupon struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code           string             `gorm:"column:code;type:varchar(50);not null;uniqueIndex"`
	DiscountType   enums.DiscountType `gorm:"column:discount_type;type:varchar(16);not null"`
	DiscountValue  decimal.Decimal    `gorm:"column:discount_value;type:numeric(10,2);not null"`
	MinOrderAmount *decimal.Decimal   `gorm:"column:min_order_amount;type:numeric(10,2)"`
	ExpiryDate     *time.Time         `gorm:"column:expiry_date"`
	UsageLimit     *int               `gorm:"column:usage_limit"`
	UsageCount     int                `gorm:"column:usage_count;not null"`
	IsActive       bool               `gorm:"column:is_active;not null"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
