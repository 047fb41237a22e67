package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/modoria-backend/api/controllers"
	addresscontrollers "github.com/angelmondragon/modoria-backend/api/controllers/addresses"
	cartcontrollers "github.com/angelmondragon/modoria-backend/api/controllers/cart"
	couponcontrollers "github.com/angelmondragon/modoria-backend/api/controllers/coupons"
	notificationcontrollers "github.com/angelmondragon/modoria-backend/api/controllers/notifications"
	ordercontrollers "github.com/angelmondragon/modoria-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/modoria-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/modoria-backend/api/controllers/webhooks"
	"github.com/angelmondragon/modoria-backend/api/middleware"
	"github.com/angelmondragon/modoria-backend/internal/address"
	"github.com/angelmondragon/modoria-backend/internal/cart"
	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/notifications"
	"github.com/angelmondragon/modoria-backend/internal/orders"
	"github.com/angelmondragon/modoria-backend/internal/payments"
	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/redis"
)

// redisStore is the slice of the redis client the router needs.
type redisStore interface {
	redis.Pinger
	middleware.ReplayStore
	redis.RateLimiter
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	metricsHandler http.Handler,
	cartService cart.Service,
	addressService address.Service,
	couponService coupons.Service,
	ordersService orders.Service,
	paymentsService payments.Service,
	notificationsService notifications.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	// Gateway callbacks authenticate by signature, not bearer token.
	r.Route("/api/v1/payments/webhook", func(r chi.Router) {
		r.Post("/", webhookcontrollers.StripeWebhook(paymentsService, logg))
		r.Post("/square", webhookcontrollers.SquareWebhook(paymentsService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))

		// Mutations replay their first response for the same Idempotency-Key.
		replay := middleware.Idempotency(redisClient, cfg.Eventing.APIIdempotencyTTL, logg)
		replayMoney := middleware.Idempotency(redisClient, cfg.Eventing.APIMoneyIdempotencyTTL, logg)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(cartService, logg))
			r.Delete("/", cartcontrollers.CartClear(cartService, logg))
			r.With(replay).Post("/items", cartcontrollers.CartAddItem(cartService, logg))
			r.Patch("/items/{lineId}", cartcontrollers.CartUpdateItem(cartService, logg))
			r.Delete("/items/{lineId}", cartcontrollers.CartRemoveItem(cartService, logg))
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Get("/", addresscontrollers.List(addressService, logg))
			r.With(replay).Post("/", addresscontrollers.Create(addressService, logg))
			r.Delete("/{addressId}", addresscontrollers.Delete(addressService, logg))
		})

		couponLimit := middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "coupon-validate",
			Limit:  cfg.RateLimit.CouponValidate,
			Window: cfg.RateLimit.Window,
		}, redisClient, logg)
		checkoutLimit := middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "checkout",
			Limit:  cfg.RateLimit.Checkout,
			Window: cfg.RateLimit.Window,
		}, redisClient, logg)

		r.With(couponLimit).Post("/coupons/validate", couponcontrollers.Validate(couponService, cartService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(replayMoney, checkoutLimit).Post("/", ordercontrollers.Place(ordersService, logg))
			r.Get("/", ordercontrollers.List(ordersService, logg))
			r.Get("/number/{orderNumber}", ordercontrollers.DetailByNumber(ordersService, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersService, logg))
			r.With(replayMoney).Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersService, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationcontrollers.List(notificationsService, logg))
			r.Post("/read-all", notificationcontrollers.MarkAllRead(notificationsService, logg))
			r.Post("/{notificationId}/read", notificationcontrollers.MarkRead(notificationsService, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(replay).Post("/orders/{orderId}/create-intent", paymentcontrollers.CreateIntent(paymentsService, logg))
			r.Post("/confirm/{intentId}", paymentcontrollers.Confirm(paymentsService, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))

			r.With(replay).Put("/orders/{orderId}/status", ordercontrollers.UpdateStatus(ordersService, logg))
			r.With(replayMoney).Post("/payments/orders/{orderId}/refund", paymentcontrollers.Refund(paymentsService, logg))
			r.Route("/coupons", func(r chi.Router) {
				r.Get("/", couponcontrollers.List(couponService, logg))
				r.With(replay).Post("/", couponcontrollers.Create(couponService, logg))
				r.Post("/{couponId}/deactivate", couponcontrollers.Deactivate(couponService, logg))
			})
		})
	})

	return r
}
