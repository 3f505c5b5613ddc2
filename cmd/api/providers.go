package main

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/config"
	"github.com/ecitko/watermeter-ocr-service/internal/db"
	"github.com/ecitko/watermeter-ocr-service/internal/httpapi"
	"github.com/ecitko/watermeter-ocr-service/internal/ingest"
	"github.com/ecitko/watermeter-ocr-service/internal/mq"
	"github.com/ecitko/watermeter-ocr-service/internal/repository"
	"github.com/ecitko/watermeter-ocr-service/internal/taskstate"
)

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

// ProvidePublisher creates the extraction job publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.OCRExchange, cfg.RabbitMQ.OCRRoutingKey, logger)
}

// ProvideRedisClient creates the task-state redis client
func ProvideRedisClient(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) *redis.Client {
	return taskstate.NewClient(lc, logger, cfg.Redis.Addr, cfg.Redis.Password)
}

// ProvideTaskStateStore creates the task-state store
func ProvideTaskStateStore(client *redis.Client, cfg *config.Config, logger *zap.Logger) *taskstate.Store {
	return taskstate.NewStore(client, cfg.Redis.TaskStateTTL, logger)
}

// ProvideIngestService creates the upload ingestion pipeline
func ProvideIngestService(
	repo *repository.Repository,
	publisher *mq.Publisher,
	states *taskstate.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *ingest.Service {
	return ingest.NewService(repo, publisher, states, cfg.Upload, logger)
}

// ProvideHandler creates the HTTP handler
func ProvideHandler(
	svc *ingest.Service,
	states *taskstate.Store,
	repo *repository.Repository,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
) *httpapi.Handler {
	return httpapi.NewHandler(svc, states, repo, conn, cfg.Upload.Dir, logger)
}

// ProvideRouter creates the gin engine with optional JWT auth
func ProvideRouter(handler *httpapi.Handler, cfg *config.Config) *gin.Engine {
	return httpapi.NewRouter(handler, httpapi.Auth(cfg.Auth.JWTSecret))
}

func startServer(lc fx.Lifecycle, router *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	httpapi.NewServer(lc, router, cfg.ServicePort, logger)
}
