package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/config"
	"github.com/ecitko/watermeter-ocr-service/internal/db"
	"github.com/ecitko/watermeter-ocr-service/internal/extract"
	"github.com/ecitko/watermeter-ocr-service/internal/mq"
	"github.com/ecitko/watermeter-ocr-service/internal/ocr"
	"github.com/ecitko/watermeter-ocr-service/internal/repository"
	"github.com/ecitko/watermeter-ocr-service/internal/taskstate"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *extract.Processor,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.OCRQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.OCRExchange,
		RoutingKey:    cfg.RabbitMQ.OCRRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		SoftTimeout:   cfg.RabbitMQ.TaskSoftTimeout,
		HardTimeout:   cfg.RabbitMQ.TaskTimeLimit,
		Logger:        logger,
		Handler:       processor.ProcessJob,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting extraction worker",
				zap.String("queue", cfg.RabbitMQ.OCRQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
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

// ProvideDBPool creates the database pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates the repository
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates the RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideRedisClient creates the task-state redis client
func ProvideRedisClient(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) *redis.Client {
	return taskstate.NewClient(lc, logger, cfg.Redis.Addr, cfg.Redis.Password)
}

// ProvideTaskStateStore creates the task-state store
func ProvideTaskStateStore(client *redis.Client, cfg *config.Config, logger *zap.Logger) *taskstate.Store {
	return taskstate.NewStore(client, cfg.Redis.TaskStateTTL, logger)
}

// ProvideOCREngine creates the tesseract-backed recognition engine
func ProvideOCREngine(cfg *config.Config, logger *zap.Logger) ocr.Engine {
	return ocr.NewTesseract(cfg.OCR, logger)
}

// ProvideProcessor creates the extraction processor
func ProvideProcessor(
	repo *repository.Repository,
	engine ocr.Engine,
	states *taskstate.Store,
	logger *zap.Logger,
) *extract.Processor {
	return extract.NewProcessor(repo, engine, states, logger)
}
