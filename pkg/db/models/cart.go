package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Cart is the single mutable basket owned by a user.
type Cart struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Currency  string     `gorm:"column:currency;type:varchar(3);not null"`
	Lines     []CartLine `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Subtotal sums the price snapshots of every line.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// CartLine holds a SKU, a quantity and the price captured when it was added.
type CartLine struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CartID          uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:idx_cart_lines_cart_sku"`
	ProductID       uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	VariantID       *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	SKUKey          string          `gorm:"column:sku_key;not null;uniqueIndex:idx_cart_lines_cart_sku"`
	Quantity        int             `gorm:"column:quantity;not null"`
	PriceAtAddition decimal.Decimal `gorm:"column:price_at_addition;type:numeric(12,2);not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *CartLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return l.BeforeSave(nil)
}

// BeforeSave clamps quantity so a stored line always holds at least one unit.
func (l *CartLine) BeforeSave(*gorm.DB) error {
	if l.Quantity < 1 {
		l.Quantity = 1
	}
	return nil
}

// LineTotal is quantity times the captured price.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.PriceAtAddition.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SKUKeyFor returns the per-cart uniqueness key for a product/variant pair.
func SKUKeyFor(productID uuid.UUID, variantID *uuid.UUID) string {
	if variantID != nil && *variantID != uuid.Nil {
		return "v:" + variantID.String()
	}
	return "p:" + productID.String()
}
