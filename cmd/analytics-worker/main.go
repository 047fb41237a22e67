package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/modoria-backend/internal/analytics/router"
	"github.com/angelmondragon/modoria-backend/internal/analytics/worker"
	"github.com/angelmondragon/modoria-backend/internal/analytics/writer"
	"github.com/angelmondragon/modoria-backend/pkg/bigquery"
	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/modoria-backend/pkg/pubsub"
	"github.com/angelmondragon/modoria-backend/pkg/redis"
)

const (
	serviceName     = "analytics-worker"
	flushOnShutdown = 10 * time.Second
)

// shutdown runs cleanup in reverse order, the way deferred calls would.
// main exits through it on both paths because os.Exit skips defers.
type shutdown struct {
	logg  *logger.Logger
	steps []func()
}

func (s *shutdown) add(step func()) { s.steps = append(s.steps, step) }

func (s *shutdown) close(name string, closeFn func() error) {
	s.add(func() {
		if err := closeFn(); err != nil {
			s.logg.Error(context.Background(), "failed to close "+name, err)
		}
	})
}

func (s *shutdown) run() {
	for i := len(s.steps) - 1; i >= 0; i-- {
		s.steps[i]()
	}
}

func (s *shutdown) check(ctx context.Context, resource string, err error) {
	if err == nil {
		return
	}
	s.logg.Error(ctx, "resource not working: "+resource, err)
	s.run()
	os.Exit(1)
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}
	down := &shutdown{logg: logg}

	cfg, err := config.Load()
	down.check(ctx, "config", err)
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	down.logg = logg

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	down.check(ctx, "redis", err)
	down.close("redis client", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.AnalyticsSubscription)
	down.check(ctx, "pubsub", err)
	down.close("pubsub client", pubsubClient.Close)
	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		down.check(ctx, "analytics subscription", errors.New("subscription not configured"))
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	down.check(ctx, "bigquery client", err)
	down.close("bigquery client", bqClient.Close)
	down.check(ctx, "order events table", bqClient.EnsureTable(ctx, writer.Table(cfg.BigQuery.OrderEventsTable)))

	rows, err := writer.New(bqClient, writer.Config{
		OrderEventsTable: cfg.BigQuery.OrderEventsTable,
		BatchSize:        cfg.BigQuery.BatchSize,
	})
	down.check(ctx, "analytics bigquery writer", err)
	down.add(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushOnShutdown)
		defer cancel()
		if err := rows.Flush(flushCtx); err != nil {
			logg.Error(ctx, "failed to flush analytics rows", err)
		}
	})

	claims, err := idempotency.ForConsumer(redisClient, cfg.Eventing.OutboxIdempotencyTTL, worker.ConsumerName)
	down.check(ctx, "idempotency guard", err)
	handler, err := router.NewRouter(rows, logg, nil)
	down.check(ctx, "analytics router", err)
	service, err := worker.NewService(subscription, handler, claims, logg)
	down.check(ctx, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"table":       cfg.BigQuery.OrderEventsTable,
	})
	logg.Info(runCtx, "analytics worker ready")
	runErr := service.Run(runCtx)
	stop()
	down.run()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", runErr)
		os.Exit(1)
	}
}
