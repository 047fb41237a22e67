package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db"
	"github.com/angelmondragon/modoria-backend/pkg/kafka"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/metrics"
	"github.com/angelmondragon/modoria-backend/pkg/migrate"
	"github.com/angelmondragon/modoria-backend/pkg/outbox"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/registry"
	"github.com/angelmondragon/modoria-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	bootCtx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(bootCtx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	must(bootCtx, logg, "load config", err)
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	transport, err := normalizeTransport(cfg.Eventing.Transport)
	must(bootCtx, logg, "resolve events transport", err)

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	must(bootCtx, logg, "bootstrap database", err)
	defer closeQuietly(logg, "database", dbClient.Close)
	must(bootCtx, logg, "run dev migrations", migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient))

	eventSink, topics, closeSink := openSink(bootCtx, cfg, transport, logg)
	defer closeSink()

	eventRegistry, err := registry.NewEventRegistry(topics.orders, topics.inventory)
	must(bootCtx, logg, "build event registry", err)

	metricsRegistry := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Sink:          eventSink,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(metricsRegistry),
	})
	must(bootCtx, logg, "create outbox publisher", err)

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"transport":   transport,
	})
	defer metrics.Serve(ctx, cfg.App.MetricsPort, metricsRegistry, logg)()

	logg.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

type topicNames struct {
	orders    string
	inventory string
}

// openSink connects the configured broker. The returned func flushes and
// closes it.
func openSink(ctx context.Context, cfg *config.Config, transport string, logg *logger.Logger) (sink, topicNames, func()) {
	if transport == transportKafka {
		client, err := kafka.NewClient(cfg.Kafka, logg)
		must(ctx, logg, "bootstrap kafka", err)
		return newKafkaSink(client),
			topicNames{orders: cfg.Kafka.OrdersTopic, inventory: cfg.Kafka.InventoryTopic},
			func() { closeQuietly(logg, "kafka writer", client.Close) }
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	must(ctx, logg, "bootstrap pubsub", err)
	ps := newPubSubSink(client)
	return ps,
		topicNames{orders: cfg.PubSub.OrdersTopic, inventory: cfg.PubSub.InventoryTopic},
		func() {
			ps.Stop()
			closeQuietly(logg, "pubsub client", client.Close)
		}
}

func must(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to "+step, err)
	os.Exit(1)
}

func closeQuietly(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
