package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS consumers (
		id BIGSERIAL PRIMARY KEY,
		customer_code VARCHAR(50) UNIQUE NOT NULL,
		name VARCHAR(100) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS water_meters (
		id BIGSERIAL PRIMARY KEY,
		consumer_id BIGINT NOT NULL REFERENCES consumers(id),
		meter_code VARCHAR(50) UNIQUE NOT NULL,
		location VARCHAR(200),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS images (
		id BIGSERIAL PRIMARY KEY,
		water_meter_id BIGINT NOT NULL REFERENCES water_meters(id),
		image_url VARCHAR(255) NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS ocr_results (
		id BIGSERIAL PRIMARY KEY,
		image_id BIGINT NOT NULL REFERENCES images(id),
		task_id VARCHAR(50) UNIQUE NOT NULL,
		value VARCHAR(50),
		raw_text TEXT,
		confidence DOUBLE PRECISION,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_images_water_meter_id ON images(water_meter_id);`,
	`CREATE INDEX IF NOT EXISTS idx_ocr_results_image_id ON ocr_results(image_id);`,
}

// RunMigrations applies the schema statements in order. Statements are
// idempotent so this is safe to run on every startup.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for i, stmt := range migrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}
	logger.Info("database migrations applied", zap.Int("statements", len(migrationStatements)))
	return nil
}
