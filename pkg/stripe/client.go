package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultTimeout = 15 * time.Second
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client adapts Stripe PaymentIntents to gateway.Gateway.
type Client struct {
	api           *client.API
	environment   string
	signingSecret string
	returnURL     string
	logg          *logger.Logger
}

// NewClient validates the configured keys and builds an API client whose
// HTTP calls are bounded by timeout.
func NewClient(ctx context.Context, cfg config.StripeConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backends := stripe.NewBackends(&http.Client{Timeout: timeout})

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		api:           client.New(apiKey, backends),
		environment:   env,
		signingSecret: signingSecret,
		returnURL:     strings.TrimSpace(cfg.ReturnURL),
		logg:          logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func (c *Client) Provider() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (c *Client) CreateIntent(ctx context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(gateway.MinorUnits(input.Amount)),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.AddMetadata("order_id", input.OrderID.String())
	params.AddMetadata("order_number", input.OrderNumber)
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, c.mapError(ctx, err, "create payment intent")
	}
	return toIntent(pi), nil
}

func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, c.mapError(ctx, err, "retrieve payment intent")
	}
	return toIntent(pi), nil
}

// ConfirmIntent confirms server-side. An empty paymentMethod confirms with
// whatever method the client already attached.
func (c *Client) ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*gateway.Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if paymentMethod != "" {
		params.PaymentMethod = stripe.String(paymentMethod)
	}
	if c.returnURL != "" {
		params.ReturnURL = stripe.String(c.returnURL)
	}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, c.mapError(ctx, err, "confirm payment intent")
	}
	return toIntent(pi), nil
}

func (c *Client) CreateRefund(ctx context.Context, input gateway.RefundInput) (*gateway.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.IntentID),
		Amount:        stripe.Int64(gateway.MinorUnits(input.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		params.AddMetadata("reason", reason)
	}
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	refund, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, c.mapError(ctx, err, "create refund")
	}
	return &gateway.Refund{ID: refund.ID, Status: string(refund.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and classifies the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify stripe signature")
	}
	return classifyEvent(event)
}

func classifyEvent(event stripe.Event) (*gateway.WebhookEvent, error) {
	out := &gateway.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: gateway.WebhookIgnored,
	}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		out.Kind = gateway.WebhookIntentSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		out.Kind = gateway.WebhookIntentFailed
	case stripe.EventTypePaymentIntentProcessing:
		out.Kind = gateway.WebhookIntentProcessing
	default:
		return out, nil
	}

	if event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	out.IntentID = pi.ID
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *gateway.Intent {
	intent := &gateway.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
		Amount:       gateway.FromMinorUnits(pi.Amount),
		Currency:     strings.ToUpper(string(pi.Currency)),
	}
	if pi.LatestCharge != nil {
		intent.TransactionID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		intent.FailureReason = pi.LastPaymentError.Msg
	}
	return intent
}

func intentStatus(status stripe.PaymentIntentStatus) gateway.IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.IntentSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return gateway.IntentProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return gateway.IntentRequiresPaymentMethod
	case stripe.PaymentIntentStatusRequiresConfirmation:
		return gateway.IntentRequiresConfirmation
	case stripe.PaymentIntentStatusRequiresAction:
		return gateway.IntentRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		return gateway.IntentCanceled
	default:
		return gateway.IntentStatus(status)
	}
}

// mapError turns card declines into PAYMENT_NOT_SUCCESSFUL and everything
// else into a retryable gateway error.
func (c *Client) mapError(ctx context.Context, err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return pkgerrors.Wrap(pkgerrors.CodePaymentNotSuccessful, err, op).
			WithDetails(map[string]any{"decline_code": string(stripeErr.DeclineCode)})
	}
	if c.logg != nil {
		c.logg.Error(c.logg.WithField(ctx, "operation", op), "stripe call failed", err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}

var _ gateway.Gateway = (*Client)(nil)
