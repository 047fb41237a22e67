package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/modoria-backend/api/middleware"
	internalpayments "github.com/angelmondragon/modoria-backend/internal/payments"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/types"
)

type stubPaymentService struct {
	internalpayments.Service

	payment *models.Payment
	secret  string
	err     error

	lastIntent   internalpayments.IntentInput
	lastIntentID string
	lastOrderID  uuid.UUID
	lastReason   string
}

func (s *stubPaymentService) CreateIntent(ctx context.Context, input internalpayments.IntentInput) (*internalpayments.IntentResult, error) {
	s.lastIntent = input
	if s.err != nil {
		return nil, s.err
	}
	return &internalpayments.IntentResult{Payment: s.payment, ClientSecret: s.secret}, nil
}

func (s *stubPaymentService) Confirm(ctx context.Context, intentID string) (*models.Payment, error) {
	s.lastIntentID = intentID
	return s.payment, s.err
}

func (s *stubPaymentService) Refund(ctx context.Context, orderID uuid.UUID, reason string) (*models.Payment, error) {
	s.lastOrderID = orderID
	s.lastReason = reason
	return s.payment, s.err
}

func samplePayment(status enums.PaymentStatus) *models.Payment {
	return &models.Payment{
		ID:               uuid.New(),
		OrderID:          uuid.New(),
		UserID:           uuid.New(),
		Provider:         enums.PaymentProviderStripe,
		ExternalIntentID: "pi_123",
		Amount:           decimal.RequireFromString("47.5"),
		Currency:         "USD",
		Status:           status,
	}
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateIntentWithoutBody(t *testing.T) {
	svc := &stubPaymentService{payment: samplePayment(enums.PaymentStatusPending), secret: "pi_123_secret"}
	userID := uuid.New()
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/orders/"+orderID.String()+"/create-intent", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{UserID: userID, Role: enums.UserRoleCustomer}))
	req = withParam(req, "orderId", orderID.String())

	resp := httptest.NewRecorder()
	CreateIntent(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastIntent.UserID != userID || svc.lastIntent.OrderID != orderID {
		t.Fatalf("unexpected intent input %+v", svc.lastIntent)
	}
	if svc.lastIntent.Provider != "" {
		t.Fatalf("expected default provider, got %q", svc.lastIntent.Provider)
	}

	var envelope struct {
		Data IntentResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ClientSecret != "pi_123_secret" || envelope.Data.Payment.Amount != "47.50" {
		t.Fatalf("unexpected intent response %+v", envelope.Data)
	}
}

func TestCreateIntentProviderOverride(t *testing.T) {
	svc := &stubPaymentService{payment: samplePayment(enums.PaymentStatusPending)}
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"provider":"square","payment_source":"cnon:card-nonce-ok"}`))
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{UserID: uuid.New(), Role: enums.UserRoleCustomer}))
	req = withParam(req, "orderId", orderID.String())

	resp := httptest.NewRecorder()
	CreateIntent(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastIntent.Provider != enums.PaymentProviderSquare || svc.lastIntent.PaymentSource != "cnon:card-nonce-ok" {
		t.Fatalf("unexpected intent input %+v", svc.lastIntent)
	}
}

func TestCreateIntentRejectsUnknownProvider(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"provider":"paypal"}`))
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{UserID: uuid.New(), Role: enums.UserRoleCustomer}))
	req = withParam(req, "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	CreateIntent(&stubPaymentService{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCreateIntentRequiresPrincipal(t *testing.T) {
	req := withParam(httptest.NewRequest(http.MethodPost, "/", nil), "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	CreateIntent(&stubPaymentService{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestConfirmUnsettledIntent(t *testing.T) {
	svc := &stubPaymentService{err: pkgerrors.New(pkgerrors.CodePaymentNotSuccessful, "payment has not succeeded").
		WithDetails(map[string]any{"intent_status": "requires_payment_method"})}

	req := withParam(httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm/pi_123", nil), "intentId", "pi_123")
	resp := httptest.NewRecorder()
	Confirm(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", resp.Code)
	}
	if svc.lastIntentID != "pi_123" {
		t.Fatalf("unexpected intent id %q", svc.lastIntentID)
	}

	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodePaymentNotSuccessful) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
}

func TestConfirmSuccess(t *testing.T) {
	svc := &stubPaymentService{payment: samplePayment(enums.PaymentStatusCompleted)}

	req := withParam(httptest.NewRequest(http.MethodPost, "/", nil), "intentId", "pi_123")
	resp := httptest.NewRecorder()
	Confirm(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestRefundForwardsReason(t *testing.T) {
	payment := samplePayment(enums.PaymentStatusRefunded)
	refunded := decimal.RequireFromString("47.5")
	payment.RefundAmount = &refunded
	svc := &stubPaymentService{payment: payment}
	orderID := uuid.New()

	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"damaged"}`)), "orderId", orderID.String())
	resp := httptest.NewRecorder()
	Refund(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastOrderID != orderID || svc.lastReason != "damaged" {
		t.Fatalf("unexpected refund args %s %q", svc.lastOrderID, svc.lastReason)
	}

	var envelope struct {
		Data PaymentResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.RefundAmount == nil || *envelope.Data.RefundAmount != "47.50" {
		t.Fatalf("unexpected refund amount %v", envelope.Data.RefundAmount)
	}
}

func TestRefundGatewayFailureHidesDetail(t *testing.T) {
	svc := &stubPaymentService{err: pkgerrors.New(pkgerrors.CodeGateway, "stripe: card_declined internal trace")}

	req := withParam(httptest.NewRequest(http.MethodPost, "/", nil), "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	Refund(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "internal trace") {
		t.Fatalf("gateway detail leaked: %s", resp.Body.String())
	}
}
