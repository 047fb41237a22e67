package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultTimeout = 15 * time.Second
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errLocationRequired      = errors.New("square location id is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client adapts Square delayed-capture payments to gateway.Gateway. An
// approved payment plays the role of an unconfirmed intent; completing it
// captures the funds.
type Client struct {
	sdk             *sqclient.Client
	environment     string
	locationID      string
	webhookSecret   string
	notificationURL string
	logger          *logger.Logger
}

// NewClient initializes the Square wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
		sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
	)

	c := &Client{
		sdk:             sdk,
		environment:     env,
		locationID:      locationID,
		webhookSecret:   webhookSecret,
		notificationURL: strings.TrimSpace(cfg.NotificationURL),
		logger:          logg,
	}

	logg.Info(ctx, "square client initialized")
	return c, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// NewIdempotencyKey returns a unique key for Square operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "modoria"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

func (c *Client) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (c *Client) CreateIntent(ctx context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error) {
	source := strings.TrimSpace(input.PaymentSource)
	if source == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square payments require a payment source")
	}
	params := PaymentCreateParams{
		AmountCents:    gateway.MinorUnits(input.Amount),
		Currency:       input.Currency,
		LocationID:     c.locationID,
		SourceID:       source,
		IdempotencyKey: input.IdempotencyKey,
		BuyerEmail:     input.CustomerEmail,
		Note:           "Order " + input.OrderNumber,
		ReferenceID:    input.OrderID.String(),
	}
	req := params.toSquareRequest(c.ensureIdempotencyKey("payment.create", params.IdempotencyKey))
	c.log(ctx, "request", "create_payment", map[string]any{
		"location_id": params.LocationID,
		"amount":      params.AmountCents,
		"source_id":   params.SourceID,
	})

	resp, err := c.sdk.Payments.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "create payment")
	}

	payment := resp.GetPayment()
	c.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": stringValue(payment.GetID()),
		"status":     stringValue(payment.GetStatus()),
	})
	return toIntent(payment), nil
}

func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": intentID})
	resp, err := c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: intentID})
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "get payment")
	}
	return toIntent(resp.GetPayment()), nil
}

// ConfirmIntent captures an APPROVED payment. Square has no notion of a
// late-bound payment method so paymentMethod is ignored.
func (c *Client) ConfirmIntent(ctx context.Context, intentID, _ string) (*gateway.Intent, error) {
	c.log(ctx, "request", "complete_payment", map[string]any{"payment_id": intentID})
	resp, err := c.sdk.Payments.Complete(ctx, &sq.CompletePaymentRequest{PaymentID: intentID})
	if err != nil {
		c.log(ctx, "error", "complete_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "complete payment")
	}
	payment := resp.GetPayment()
	c.log(ctx, "response", "complete_payment", map[string]any{
		"payment_id": stringValue(payment.GetID()),
		"status":     stringValue(payment.GetStatus()),
	})
	return toIntent(payment), nil
}

func (c *Client) CreateRefund(ctx context.Context, input gateway.RefundInput) (*gateway.Refund, error) {
	params := RefundCreateParams{
		PaymentID:      input.IntentID,
		AmountCents:    gateway.MinorUnits(input.Amount),
		Currency:       input.Currency,
		Reason:         input.Reason,
		IdempotencyKey: input.IdempotencyKey,
	}
	req := params.toSquareRequest(c.ensureIdempotencyKey("refund.create", params.IdempotencyKey))
	c.log(ctx, "request", "refund_payment", map[string]any{
		"payment_id": params.PaymentID,
		"amount":     params.AmountCents,
	})

	resp, err := c.sdk.Refunds.RefundPayment(ctx, req)
	if err != nil {
		c.log(ctx, "error", "refund_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "refund payment")
	}
	refund := resp.GetRefund()
	out := &gateway.Refund{}
	if refund != nil {
		out.ID = text(refund.GetID())
		out.Status = text(refund.GetStatus())
	}
	c.log(ctx, "response", "refund_payment", map[string]any{"refund_id": out.ID, "status": out.Status})
	return out, nil
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		ID     string `json:"id"`
		Object struct {
			Payment *struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhook verifies the HMAC signature (notification URL + body, base64)
// and classifies payment.updated notifications by payment status.
func (c *Client) ParseWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if !c.validSignature(payload, signature) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid square signature")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		eventID = envelope.Data.ID
	}

	out := &gateway.WebhookEvent{
		ID:   eventID,
		Type: envelope.Type,
		Kind: gateway.WebhookIgnored,
	}
	payment := envelope.Data.Object.Payment
	if envelope.Type != "payment.updated" || payment == nil {
		return out, nil
	}
	out.IntentID = payment.ID
	switch payment.Status {
	case "COMPLETED":
		out.Kind = gateway.WebhookIntentSucceeded
	case "FAILED", "CANCELED":
		out.Kind = gateway.WebhookIntentFailed
		out.FailureReason = "square payment " + strings.ToLower(payment.Status)
	case "PENDING":
		out.Kind = gateway.WebhookIntentProcessing
	}
	return out, nil
}

func (c *Client) validSignature(payload []byte, header string) bool {
	if header == "" || c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(c.notificationURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func toIntent(payment *sq.Payment) *gateway.Intent {
	if payment == nil {
		return &gateway.Intent{Status: gateway.IntentFailed}
	}
	intent := &gateway.Intent{
		ID:     stringValue(payment.GetID()),
		Status: intentStatus(stringValue(payment.GetStatus())),
	}
	intent.TransactionID = intent.ID
	if money := payment.GetAmountMoney(); money != nil {
		if amount := money.GetAmount(); amount != nil {
			intent.Amount = gateway.FromMinorUnits(*amount)
		}
		if currency := money.GetCurrency(); currency != nil {
			intent.Currency = string(*currency)
		}
	}
	if intent.Status == gateway.IntentFailed {
		intent.FailureReason = "square payment " + strings.ToLower(stringValue(payment.GetStatus()))
	}
	return intent
}

func intentStatus(status string) gateway.IntentStatus {
	switch status {
	case "APPROVED":
		return gateway.IntentRequiresConfirmation
	case "PENDING":
		return gateway.IntentProcessing
	case "COMPLETED":
		return gateway.IntentSucceeded
	case "CANCELED":
		return gateway.IntentCanceled
	default:
		return gateway.IntentFailed
	}
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "source", "cvv", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// mapSquareError maps declines to PAYMENT_NOT_SUCCESSFUL, credential and
// request problems to their domain codes and the rest to a gateway error.
func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range c.extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryPaymentMethodError {
				code = pkgerrors.CodePaymentNotSuccessful
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("square %s failed", op))
}

func (c *Client) extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusPaymentRequired:
		return pkgerrors.CodePaymentNotSuccessful
	default:
		return pkgerrors.CodeGateway
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

// text reads SDK fields that are plain strings on some models and pointers on others.
func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case *string:
		return stringValue(s)
	default:
		return ""
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}

var _ gateway.Gateway = (*Client)(nil)
