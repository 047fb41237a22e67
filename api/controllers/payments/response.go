package payments

import (
	"time"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
)

type PaymentResponse struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"order_id"`
	Provider         string     `json:"provider"`
	ExternalIntentID string     `json:"external_intent_id"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	TransactionID    *string    `json:"transaction_id,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
	RefundAmount     *string    `json:"refund_amount,omitempty"`
	RefundReason     *string    `json:"refund_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type IntentResponse struct {
	Payment      PaymentResponse `json:"payment"`
	ClientSecret string          `json:"client_secret"`
}

func NewPaymentResponse(p *models.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:               p.ID.String(),
		OrderID:          p.OrderID.String(),
		Provider:         string(p.Provider),
		ExternalIntentID: p.ExternalIntentID,
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Status:           string(p.Status),
		TransactionID:    p.TransactionID,
		FailureReason:    p.FailureReason,
		PaidAt:           p.PaidAt,
		RefundedAt:       p.RefundedAt,
		RefundReason:     p.RefundReason,
		CreatedAt:        p.CreatedAt,
	}
	if p.RefundAmount != nil {
		amount := p.RefundAmount.StringFixed(2)
		resp.RefundAmount = &amount
	}
	return resp
}
