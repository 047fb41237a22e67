package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

// PlaceOrderInput is everything the builder needs to turn a cart into an order.
type PlaceOrderInput struct {
	UserID        uuid.UUID
	UserEmail     string
	CartID        *uuid.UUID
	Shipping      ShippingSelection
	CouponCode    *string
	CustomerNotes *string
}

// ShippingSelection picks a saved address or carries inline fields. A saved
// address wins when both are set.
type ShippingSelection struct {
	SavedAddressID *uuid.UUID
	Address        *types.ShippingAddress
}

// Actor identifies who requested a transition.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{Role: enums.UserRoleAdmin}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

// Pricing holds the checkout tax and shipping rules.
type Pricing struct {
	TaxRate               decimal.Decimal
	ShippingFlatRate      decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// Tax is round2((subtotal - discount) * rate).
func (p Pricing) Tax(subtotal, discount decimal.Decimal) decimal.Decimal {
	taxable := subtotal.Sub(discount)
	if !taxable.IsPositive() || !p.TaxRate.IsPositive() {
		return decimal.Zero
	}
	return taxable.Mul(p.TaxRate).Round(2)
}

// Shipping charges the flat rate unless the subtotal reaches a positive
// free-shipping threshold.
func (p Pricing) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFlatRate
}

// Transition is attached to INVALID_TRANSITION and CANNOT_CANCEL_SHIPPED errors.
type Transition struct {
	From enums.OrderStatus `json:"from"`
	To   enums.OrderStatus `json:"to"`
}

// StatusUpdate is the admin request to move an order.
type StatusUpdate struct {
	Status         enums.OrderStatus
	TrackingNumber *string
}
