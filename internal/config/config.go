package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	Upload      UploadConfig
	OCR         OCRConfig
	Auth        AuthConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL             string
	OCRExchange     string
	OCRQueue        string
	OCRRoutingKey   string
	DLQQueue        string
	PrefetchCount   int
	TaskTimeLimit   time.Duration
	TaskSoftTimeout time.Duration
}

// RedisConfig holds the task-state backend settings
type RedisConfig struct {
	Addr         string
	Password     string
	TaskStateTTL time.Duration
}

// UploadConfig holds upload pipeline settings
type UploadConfig struct {
	Dir        string
	MaxBytes   int64
	ChunkBytes int
}

// OCRConfig holds recognition engine settings
type OCRConfig struct {
	TesseractPath string
	Language      string
	PSM           int
	OEM           int
}

// AuthConfig holds upload endpoint auth settings. An empty secret disables
// token verification.
type AuthConfig struct {
	JWTSecret string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "watermeter-ocr-service"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			OCRExchange:     getEnv("RABBITMQ_OCR_EXCHANGE", "watermeter.ocr.exchange"),
			OCRQueue:        getEnv("RABBITMQ_OCR_QUEUE", "watermeter.ocr.queue"),
			OCRRoutingKey:   getEnv("RABBITMQ_OCR_ROUTING_KEY", "meter.image.uploaded"),
			DLQQueue:        getEnv("RABBITMQ_DLQ_QUEUE", "watermeter.ocr.dlq"),
			PrefetchCount:   getEnvAsInt("RABBITMQ_PREFETCH", 10),
			TaskTimeLimit:   getEnvAsDuration("TASK_TIME_LIMIT", 5*time.Minute),
			TaskSoftTimeout: getEnvAsDuration("TASK_SOFT_TIME_LIMIT", 4*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			TaskStateTTL: getEnvAsDuration("TASK_STATE_TTL", 24*time.Hour),
		},
		Upload: UploadConfig{
			Dir:        getEnv("UPLOAD_DIR", "/srv/ecitko/uploads"),
			MaxBytes:   getEnvAsInt64("UPLOAD_MAX_BYTES", 5*1024*1024),
			ChunkBytes: getEnvAsInt("UPLOAD_CHUNK_BYTES", 64*1024),
		},
		OCR: OCRConfig{
			TesseractPath: getEnv("OCR_TESSERACT_PATH", "tesseract"),
			Language:      getEnv("OCR_LANG", "srp"),
			PSM:           getEnvAsInt("OCR_PSM", 0),
			OEM:           getEnvAsInt("OCR_OEM", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_ACCESS_SECRET", ""),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return nil, fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if cfg.Upload.ChunkBytes <= 0 {
		return nil, fmt.Errorf("UPLOAD_CHUNK_BYTES must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
