package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/modoria-backend/api/responses"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/modoria-backend/pkg/errors"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
)

const (
	StripeSignatureHeader = "Stripe-Signature"
	SquareSignatureHeader = "X-Square-Hmacsha256-Signature"

	maxPayloadBytes = 1 << 20
)

// WebhookService verifies, deduplicates and applies gateway events.
type WebhookService interface {
	HandleWebhook(ctx context.Context, provider enums.PaymentProvider, payload []byte, signature string) error
}

// StripeWebhook receives payment_intent.* events.
func StripeWebhook(svc WebhookService, logg *logger.Logger) http.HandlerFunc {
	return providerWebhook(enums.PaymentProviderStripe, StripeSignatureHeader, svc, logg)
}

// SquareWebhook receives payment.updated and refund.* notifications.
func SquareWebhook(svc WebhookService, logg *logger.Logger) http.HandlerFunc {
	return providerWebhook(enums.PaymentProviderSquare, SquareSignatureHeader, svc, logg)
}

func providerWebhook(provider enums.PaymentProvider, header string, svc WebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		signature := r.Header.Get(header)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature missing"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		if logg != nil {
			ctx = logg.WithField(ctx, "provider", string(provider))
		}
		if err := svc.HandleWebhook(ctx, provider, payload, signature); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
