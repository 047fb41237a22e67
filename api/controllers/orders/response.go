package orders

import (
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

type OrderLineResponse struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	VariantID   *string `json:"variant_id,omitempty"`
	SKU         string  `json:"sku"`
	ProductName string  `json:"product_name"`
	VariantName *string `json:"variant_name,omitempty"`
	UnitPrice   string  `json:"unit_price"`
	Quantity    int     `json:"quantity"`
	Subtotal    string  `json:"subtotal"`
}

type OrderResponse struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	Subtotal        string                `json:"subtotal"`
	DiscountAmount  string                `json:"discount_amount"`
	TaxAmount       string                `json:"tax_amount"`
	ShippingAmount  string                `json:"shipping_amount"`
	TotalAmount     string                `json:"total_amount"`
	Currency        string                `json:"currency"`
	CouponCode      *string               `json:"coupon_code,omitempty"`
	CustomerNotes   *string               `json:"customer_notes,omitempty"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	PaymentID       *string               `json:"payment_id,omitempty"`
	TrackingNumber  *string               `json:"tracking_number,omitempty"`
	ShippedAt       *time.Time            `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	Lines           []OrderLineResponse   `json:"lines"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func NewOrderResponse(order *models.Order) OrderResponse {
	resp := OrderResponse{
		ID:              order.ID.String(),
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID.String(),
		Status:          string(order.Status),
		Subtotal:        order.Subtotal.StringFixed(2),
		DiscountAmount:  order.DiscountAmount.StringFixed(2),
		TaxAmount:       order.TaxAmount.StringFixed(2),
		ShippingAmount:  order.ShippingAmount.StringFixed(2),
		TotalAmount:     order.TotalAmount.StringFixed(2),
		Currency:        order.Currency,
		CouponCode:      order.AppliedCouponCode,
		CustomerNotes:   order.CustomerNotes,
		ShippingAddress: order.ShippingAddress,
		TrackingNumber:  order.TrackingNumber,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		Lines:           make([]OrderLineResponse, 0, len(order.Lines)),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if order.PaymentID != nil {
		id := order.PaymentID.String()
		resp.PaymentID = &id
	}
	for _, line := range order.Lines {
		item := OrderLineResponse{
			ID:          line.ID.String(),
			ProductID:   line.ProductID.String(),
			SKU:         line.SKU,
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal.StringFixed(2),
		}
		if line.VariantID != nil {
			id := line.VariantID.String()
			item.VariantID = &id
		}
		resp.Lines = append(resp.Lines, item)
	}
	return resp
}

func newOrderList(list *types.ListResult[models.Order]) types.ListResult[OrderResponse] {
	out := types.ListResult[OrderResponse]{Items: make([]OrderResponse, 0, len(list.Items))}
	for i := range list.Items {
		out.Items = append(out.Items, NewOrderResponse(&list.Items[i]))
	}
	out.NextCursor = list.NextCursor
	return out
}
