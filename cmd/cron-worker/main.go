package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/modoria-backend/internal/address"
	"github.com/angelmondragon/modoria-backend/internal/cart"
	"github.com/angelmondragon/modoria-backend/internal/coupons"
	"github.com/angelmondragon/modoria-backend/internal/cron"
	"github.com/angelmondragon/modoria-backend/internal/inventory"
	"github.com/angelmondragon/modoria-backend/internal/notifications"
	"github.com/angelmondragon/modoria-backend/internal/orders"
	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/metrics"
	"github.com/angelmondragon/modoria-backend/pkg/migrate"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsRegistry := prometheus.NewRegistry()
	ordersService, err := buildOrdersService(cfg, dbClient, metrics.NewCheckoutMetrics(metricsRegistry), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	orderTTLJob, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger: logg,
		Orders: ordersService,
		TTL:    cfg.Cron.PendingOrderTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order ttl job", err)
		os.Exit(1)
	}
	outboxRetentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "outbox-retention",
		Logger:    logg,
		DB:        dbClient,
		Purge:     outbox.NewRepository(dbClient.DB()).DeletePublishedBefore,
		Retention: cfg.Cron.OutboxRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	notificationCleanupJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "notification-cleanup",
		Logger:    logg,
		DB:        dbClient,
		Purge:     notifications.NewRetentionRepository(dbClient.DB()).DeleteOlderThan,
		Retention: cfg.Cron.NotificationRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification cleanup job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(metricsRegistry)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     []cron.Job{orderTTLJob, outboxRetentionJob, notificationCleanupJob},
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	defer metrics.Serve(ctx, cfg.App.MetricsPort, metricsRegistry, logg)()

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildOrdersService wires the order state machine with the same collaborators
// the API uses, so expiry restocks and emits events exactly like a manual cancel.
func buildOrdersService(cfg *config.Config, dbClient *db.Client, checkoutMetrics *metrics.CheckoutMetrics, logg *logger.Logger) (orders.Service, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger := inventory.NewLedger(conn, emitter, cfg.Inventory.LowStockThreshold, logg)

	cartService, err := cart.NewService(cart.NewRepository(conn), dbClient, ledger, cfg.Checkout.Currency, logg)
	if err != nil {
		return nil, err
	}
	couponService, err := coupons.NewService(coupons.NewRepository(conn), logg)
	if err != nil {
		return nil, err
	}
	addressService, err := address.NewService(conn, dbClient)
	if err != nil {
		return nil, err
	}
	return orders.NewService(
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
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
