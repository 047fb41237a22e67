package payments

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/modoria-backend/api/middleware"
	"github.com/angelmondragon/modoria-backend/api/responses"
	"github.com/angelmondragon/modoria-backend/api/validators"
	internalpayments "github.com/angelmondragon/modoria-backend/internal/payments"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

type createIntentRequest struct {
	Provider      string `json:"provider" validate:"omitempty,oneof=STRIPE SQUARE stripe square"`
	PaymentSource string `json:"payment_source" validate:"omitempty,max=255"`
}

type refundRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// CreateIntent opens, or resumes, the gateway intent for a PENDING order.
func CreateIntent(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createIntentRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateIntent(r.Context(), internalpayments.IntentInput{
			UserID:        principal.UserID,
			OrderID:       orderID,
			Provider:      enums.PaymentProvider(strings.ToUpper(req.Provider)),
			PaymentSource: strings.TrimSpace(req.PaymentSource),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, IntentResponse{
			Payment:      NewPaymentResponse(result.Payment),
			ClientSecret: result.ClientSecret,
		})
	}
}

// Confirm settles the payment once the gateway reports the intent succeeded.
func Confirm(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
		if intentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "intentId is required"))
			return
		}

		payment, err := svc.Confirm(r.Context(), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewPaymentResponse(payment))
	}
}

func Refund(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Refund(r.Context(), orderID, req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewPaymentResponse(payment))
	}
}
