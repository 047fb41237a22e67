package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/modoria-backend/api"
	"github.com/angelmondragon/modoria-backend/api/routes"
	"github.com/angelmondragon/modoria-backend/internal/address"
	"github.com/angelmondragon/modoria-backend/internal/cart"
	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/internal/notifications"
	"github.com/angelmondragon/modoria-backend/internal/orders"
	"github.com/angelmondragon/modoria-backend/internal/payments"
	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/gateway"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/metrics"
	"github.com/angelmondragon/modoria-backend/pkg/migrate"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/modoria-backend/pkg/redis"
	"github.com/angelmondragon/modoria-backend/pkg/square"
	"github.com/angelmondragon/modoria-backend/pkg/stripe"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger := inventory.NewLedger(conn, emitter, cfg.Inventory.LowStockThreshold, logg)

	cartService, err := cart.NewService(cart.NewRepository(conn), dbClient, ledger, cfg.Checkout.Currency, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}
	couponService, err := coupons.NewService(coupons.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon service", err)
		os.Exit(1)
	}
	addressService, err := address.NewService(conn, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create address service", err)
		os.Exit(1)
	}
	ordersService, err := orders.NewService(
		orders.NewRepository(conn),
		dbClient,
		cartService,
		ledger,
		couponService,
		addressService,
		emitter,
		orders.Options{
			Pricing: orders.Pricing{
				TaxRate:               cfg.Checkout.TaxRate,
				ShippingFlatRate:      cfg.Checkout.ShippingFlatRate,
				FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
			},
			Metrics:  checkoutMetrics,
			Logger:   logg,
			Currency: cfg.Checkout.Currency,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	gateways, err := buildGateways(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to configure payment gateways", err)
		os.Exit(1)
	}
	defaultProvider, err := enums.ParsePaymentProvider(cfg.Payments.Provider)
	if err != nil {
		logg.Error(context.Background(), "invalid default payment provider", err)
		os.Exit(1)
	}
	guard, err := idempotency.New(redisClient, cfg.Eventing.WebhookIdempotencyTTL, payments.WebhookScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	testPaymentMethod := ""
	if cfg.Stripe.Environment() == "test" {
		testPaymentMethod = cfg.Stripe.TestPaymentMethod
	}
	paymentsService, err := payments.NewService(
		payments.NewRepository(conn),
		dbClient,
		ordersService,
		emitter,
		gateways,
		payments.Options{
			DefaultProvider:   defaultProvider,
			TestPaymentMethod: testPaymentMethod,
			Guard:             guard,
			Metrics:           checkoutMetrics,
			Logger:            logg,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		cartService,
		addressService,
		couponService,
		ordersService,
		paymentsService,
		notificationsService,
	)
	server := api.NewServer(cfg, handler)

	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": id,
	})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

// buildGateways registers every provider that has credentials. At least one
// must be configured.
func buildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger) ([]gateway.Gateway, error) {
	var gateways []gateway.Gateway
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		client, err := stripe.NewClient(ctx, cfg.Stripe, cfg.Payments.GatewayTimeout, logg)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, client)
	}
	if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		client, err := square.NewClient(ctx, cfg.Square, cfg.Payments.GatewayTimeout, logg)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, client)
	}
	if len(gateways) == 0 {
		return nil, errors.New("no payment gateway configured")
	}
	return gateways, nil
}
