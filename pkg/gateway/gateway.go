// Package gateway defines the provider-neutral payment surface the payment
// coordinator talks to. Stripe and Square adapters implement it.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

// IntentStatus mirrors the lifecycle of a provider payment intent.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
	IntentFailed                IntentStatus = "failed"
)

// Intent is the gateway-side view of a payment.
type Intent struct {
	ID            string
	ClientSecret  string
	Status        IntentStatus
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	FailureReason string
}

// CreateIntentInput carries everything needed to open an intent for one order.
type CreateIntentInput struct {
	OrderID        uuid.UUID
	OrderNumber    string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	IdempotencyKey string
	// PaymentSource is a provider token collected by the client. Square
	// requires one; Stripe ignores it and returns a client secret instead.
	PaymentSource string
}

// RefundInput requests a refund against a settled intent.
type RefundInput struct {
	IntentID       string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Refund is the gateway acknowledgement of a refund.
type Refund struct {
	ID     string
	Status string
}

// WebhookKind classifies provider events into the transitions the coordinator acts on.
type WebhookKind string

const (
	WebhookIntentSucceeded  WebhookKind = "intent_succeeded"
	WebhookIntentFailed     WebhookKind = "intent_failed"
	WebhookIntentProcessing WebhookKind = "intent_processing"
	WebhookIgnored          WebhookKind = "ignored"
)

// WebhookEvent is a verified, decoded provider notification.
type WebhookEvent struct {
	ID            string
	Type          string
	Kind          WebhookKind
	IntentID      string
	FailureReason string
}

// Gateway is implemented once per payment provider. Adapters return
// PAYMENT_GATEWAY_ERROR for transport and provider failures and
// SIGNATURE_INVALID from ParseWebhook when verification fails.
type Gateway interface {
	Provider() enums.PaymentProvider
	CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*Intent, error)
	CreateRefund(ctx context.Context, input RefundInput) (*Refund, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// MinorUnits converts a two-decimal amount to the integer minor units
// providers expect.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}
