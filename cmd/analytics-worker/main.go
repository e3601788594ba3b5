package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/settlement-engine/internal/analytics/router"
	"github.com/angelmondragon/settlement-engine/internal/analytics/worker"
	"github.com/angelmondragon/settlement-engine/internal/analytics/writer"
	"github.com/angelmondragon/settlement-engine/pkg/bigquery"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/idempotency"
	"github.com/angelmondragon/settlement-engine/pkg/pubsub"
	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

const serviceName = "analytics-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"subscription": cfg.PubSub.AnalyticsSubscription,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker failed", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "analytics worker stopped")
}

// run wires the settlement event subscription to the BigQuery facts table
// and blocks until ctx ends or the subscription fails.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	closeQuietly := func(name string, closeFn func() error) {
		if err := closeFn(); err != nil {
			logg.Error(context.WithoutCancel(ctx), "failed to close "+name, err)
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeQuietly("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	defer closeQuietly("pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.PubSub.ProjectID, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bigquery facts table: %w", err)
	}
	defer closeQuietly("bigquery", bqClient.Close)

	subscription := pubsubClient.Subscriber(cfg.PubSub.AnalyticsSubscription)
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	ledger, err := idempotency.NewLedger(redisClient, worker.ConsumerName, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("processed event ledger: %w", err)
	}
	facts, err := writer.New(bqClient, writer.Config{
		FactsTable: cfg.BigQuery.FactsTable,
		BatchSize:  cfg.BigQuery.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("settlement facts writer: %w", err)
	}
	routes, err := router.NewRouter(facts, logg, nil)
	if err != nil {
		return fmt.Errorf("analytics router: %w", err)
	}
	service, err := worker.NewService(subscription, routes, ledger, facts, logg)
	if err != nil {
		return fmt.Errorf("analytics worker: %w", err)
	}

	logg.Info(ctx, "analytics worker ready")
	return service.Run(ctx)
}
