package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v80"

	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
)

const testSecret = "whsec_test"

func TestParseWebhookClassifiesPaymentEvents(t *testing.T) {
	c := &Client{signingSecret: testSecret}
	tests := []struct {
		name       string
		eventType  string
		wantKind   gateway.WebhookKind
		wantReason string
	}{
		{"succeeded", "payment_intent.succeeded", gateway.WebhookIntentSucceeded, ""},
		{"failed", "payment_intent.payment_failed", gateway.WebhookIntentFailed, "Your card was declined."},
		{"processing", "payment_intent.processing", gateway.WebhookIntentProcessing, ""},
		{"ignored", "charge.refunded", gateway.WebhookIgnored, ""},
	}
	for _, tt := range tests {
		payload := eventPayload(tt.eventType, "pi_123")
		event, err := c.ParseWebhook(payload, signatureHeader(payload, testSecret, time.Now().Unix()))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if event.Kind != tt.wantKind {
			t.Fatalf("%s: expected kind %s got %s", tt.name, tt.wantKind, event.Kind)
		}
		if event.ID != "evt_1" {
			t.Fatalf("%s: unexpected event id %q", tt.name, event.ID)
		}
		if tt.wantKind != gateway.WebhookIgnored && event.IntentID != "pi_123" {
			t.Fatalf("%s: expected intent pi_123 got %q", tt.name, event.IntentID)
		}
		if tt.wantReason != "" && event.FailureReason != tt.wantReason {
			t.Fatalf("%s: expected reason %q got %q", tt.name, tt.wantReason, event.FailureReason)
		}
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	c := &Client{signingSecret: testSecret}
	payload := eventPayload("payment_intent.succeeded", "pi_123")

	_, err := c.ParseWebhook(payload, signatureHeader(payload, "whsec_other", time.Now().Unix()))
	if !pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid) {
		t.Fatalf("expected SIGNATURE_INVALID, got %v", err)
	}

	_, err = c.ParseWebhook(payload, "")
	if !pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid) {
		t.Fatalf("expected SIGNATURE_INVALID for missing header, got %v", err)
	}
}

func TestToIntent(t *testing.T) {
	pi := &stripe.PaymentIntent{
		ID:           "pi_9",
		ClientSecret: "pi_9_secret",
		Status:       stripe.PaymentIntentStatusSucceeded,
		Amount:       4487,
		Currency:     "usd",
		LatestCharge: &stripe.Charge{ID: "ch_1"},
	}
	intent := toIntent(pi)
	if intent.Status != gateway.IntentSucceeded {
		t.Fatalf("unexpected status %s", intent.Status)
	}
	if intent.Amount.String() != "44.87" || intent.Currency != "USD" {
		t.Fatalf("unexpected amount %s %s", intent.Amount, intent.Currency)
	}
	if intent.TransactionID != "ch_1" {
		t.Fatalf("expected charge id, got %q", intent.TransactionID)
	}
}

func TestMapErrorSeparatesDeclines(t *testing.T) {
	c := &Client{}
	declined := &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "declined"}
	if err := c.mapError(context.Background(), declined, "confirm"); !pkgerrors.IsCode(err, pkgerrors.CodePaymentNotSuccessful) {
		t.Fatalf("expected PAYMENT_NOT_SUCCESSFUL, got %v", err)
	}
	outage := &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "boom"}
	err := c.mapError(context.Background(), outage, "create")
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected PAYMENT_GATEWAY_ERROR, got %v", err)
	}
	if !pkgerrors.Retryable(err) {
		t.Fatal("gateway errors should be retryable")
	}
}

func TestValidateAPIKey(t *testing.T) {
	if err := validateAPIKey(testEnv, "sk_test_123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validateAPIKey(testEnv, "sk_live_123"); err == nil {
		t.Fatal("expected live key to be rejected in test env")
	}
	if err := validateAPIKey(liveEnv, "rk_live_123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := normalizeEnv("staging"); err == nil {
		t.Fatal("expected unknown env to be rejected")
	}
}

func eventPayload(eventType, intentID string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "api_version": "2024-06-20",
  "type": %q,
  "data": {
    "object": {
      "id": %q,
      "object": "payment_intent",
      "status": "requires_payment_method",
      "amount": 3600,
      "currency": "usd",
      "last_payment_error": {"message": "Your card was declined.", "type": "card_error"}
    }
  }
}`, eventType, intentID))
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
