package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/watermetrics/kcwater-usage-worker/internal/config"
	"github.com/watermetrics/kcwater-usage-worker/internal/db"
	"github.com/watermetrics/kcwater-usage-worker/internal/kcwater"
	"github.com/watermetrics/kcwater-usage-worker/internal/mq"
	"github.com/watermetrics/kcwater-usage-worker/internal/quality"
	"github.com/watermetrics/kcwater-usage-worker/internal/repository"
	"github.com/watermetrics/kcwater-usage-worker/internal/scheduler"
	"github.com/watermetrics/kcwater-usage-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	repo *repository.StatisticsRepository,
	sched *scheduler.Scheduler,
) (*mq.Consumer, error) {
	// Create context for scheduler and consumer that is cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.RefreshQueue,
		DLQQueue:      cfg.RabbitMQ.RefreshDLQQueue,
		Exchange:      cfg.RabbitMQ.RefreshExchange,
		RoutingKey:    cfg.RabbitMQ.RefreshRoutingKey,
		PrefetchCount: cfg.RabbitMQ.RefreshPrefetch,
		Logger:        logger,
		MessageProcessor: func(msgCtx context.Context, body []byte) error {
			var req mq.RefreshRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return fmt.Errorf("failed to unmarshal refresh request: %w", err)
			}
			logger.Info("refresh requested",
				zap.String("request_id", req.RequestID),
				zap.String("reason", req.Reason),
			)
			sched.TriggerNow()
			return nil
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	schedulerDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := repo.EnsureSchema(startCtx); err != nil {
				return err
			}
			logger.Info("starting worker",
				zap.Duration("poll_interval", cfg.Polling.Interval),
				zap.String("refresh_queue", cfg.RabbitMQ.RefreshQueue),
			)
			go func() {
				defer close(schedulerDone)
				sched.Start(ctx)
			}()
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-schedulerDone:
			case <-stopCtx.Done():
				logger.Warn("scheduler did not stop before shutdown deadline")
			}
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideStatisticsRepository creates a new statistics repository instance
func ProvideStatisticsRepository(pool *db.Pool) *repository.StatisticsRepository {
	return repository.NewStatisticsRepository(pool)
}

// ProvideUsageClient creates a new KC Water API client instance
func ProvideUsageClient(cfg *config.Config, logger *zap.Logger) (*kcwater.Client, error) {
	return kcwater.NewClient(cfg.KCWater, logger)
}

// ProvideQualityChecker creates a new reading quality checker instance
func ProvideQualityChecker(cfg *config.Config) *quality.Checker {
	return quality.NewChecker(cfg.Quality.SpikeThreshold, cfg.Quality.MinDataPointsForDetection)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
}

// ProvideReconcilerService creates a new reconciler service instance
func ProvideReconcilerService(
	client *kcwater.Client,
	repo *repository.StatisticsRepository,
	publisher *mq.Publisher,
	checker *quality.Checker,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ReconcilerService {
	return service.NewReconcilerService(client, repo, publisher, checker, cfg, logger)
}

// ProvideScheduler creates a new scheduler instance
func ProvideScheduler(cfg *config.Config, reconciler *service.ReconcilerService, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(cfg.Polling.Interval, reconciler.Run, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
