package cartdto

import (
	"time"

	"github.com/google/uuid"
)

type AddItemRequest struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Quantity  int        `json:"quantity" validate:"required,min=1,max=1000"`
}

type UpdateItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=1000"`
}

// CartLine echoes the price captured when the line was added.
type CartLine struct {
	ID              uuid.UUID  `json:"id"`
	ProductID       uuid.UUID  `json:"product_id"`
	VariantID       *uuid.UUID `json:"variant_id,omitempty"`
	Quantity        int        `json:"quantity"`
	PriceAtAddition string     `json:"price_at_addition"`
	LineTotal       string     `json:"line_total"`
}

type Cart struct {
	ID        uuid.UUID  `json:"id"`
	Currency  string     `json:"currency"`
	Lines     []CartLine `json:"lines"`
	ItemCount int        `json:"item_count"`
	Subtotal  string     `json:"subtotal"`
	UpdatedAt time.Time  `json:"updated_at"`
}
