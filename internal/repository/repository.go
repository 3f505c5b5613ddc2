package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecitko/watermeter-ocr-service/internal/db"
)

// Repository handles database operations. Existence checks and the writes
// that follow them are deliberately not wrapped in a transaction: every
// upload creates a brand-new row, so the worst case under a concurrent
// meter deactivation is one image accepted against a meter that went
// inactive mid-request.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ConsumerExists reports whether a consumer row exists
func (r *Repository) ConsumerExists(ctx context.Context, consumerID int64) (bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM consumers WHERE id = $1`, consumerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query consumer: %w", err)
	}
	return true, nil
}

// GetWaterMeter retrieves a meter by id. Returns (nil, nil) when the meter
// does not exist.
func (r *Repository) GetWaterMeter(ctx context.Context, meterID int64) (*db.WaterMeter, error) {
	query := `
		SELECT id, consumer_id, meter_code, location, is_active, created_at
		FROM water_meters
		WHERE id = $1
	`

	var meter db.WaterMeter
	err := r.pool.QueryRow(ctx, query, meterID).Scan(
		&meter.ID,
		&meter.ConsumerID,
		&meter.MeterCode,
		&meter.Location,
		&meter.IsActive,
		&meter.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query water meter: %w", err)
	}
	return &meter, nil
}

// InsertImage inserts an image row and returns its id
func (r *Repository) InsertImage(ctx context.Context, waterMeterID int64, imageURL string) (int64, error) {
	query := `
		INSERT INTO images (water_meter_id, image_url, processed, created_at)
		VALUES ($1, $2, FALSE, $3)
		RETURNING id
	`

	var id int64
	if err := r.pool.QueryRow(ctx, query, waterMeterID, imageURL, time.Now()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}
	return id, nil
}

// GetImageByID retrieves an image by id. Returns (nil, nil) when the image
// does not exist.
func (r *Repository) GetImageByID(ctx context.Context, imageID int64) (*db.Image, error) {
	query := `
		SELECT id, water_meter_id, image_url, processed, created_at
		FROM images
		WHERE id = $1
	`

	var img db.Image
	err := r.pool.QueryRow(ctx, query, imageID).Scan(
		&img.ID,
		&img.WaterMeterID,
		&img.ImageURL,
		&img.Processed,
		&img.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	return &img, nil
}

// InsertOCRResult records one extraction attempt. The insert is keyed on
// task_id so a redelivered job that already wrote its row becomes a no-op
// instead of a duplicate.
func (r *Repository) InsertOCRResult(ctx context.Context, result *db.OCRResult) (int64, error) {
	query := `
		INSERT INTO ocr_results (image_id, task_id, value, raw_text, confidence, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		result.ImageID,
		result.TaskID,
		result.Value,
		result.RawText,
		result.Confidence,
		result.Status,
		result.ErrorMessage,
		time.Now(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: the row for this task_id already exists.
		return r.getOCRResultID(ctx, result.TaskID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert ocr result: %w", err)
	}
	return id, nil
}

func (r *Repository) getOCRResultID(ctx context.Context, taskID string) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, `SELECT id FROM ocr_results WHERE task_id = $1`, taskID).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query existing ocr result: %w", err)
	}
	return id, nil
}

// GetOCRResultByTaskID retrieves a recorded result for a task. Returns
// (nil, nil) when no attempt with this task id has been recorded.
func (r *Repository) GetOCRResultByTaskID(ctx context.Context, taskID string) (*db.OCRResult, error) {
	query := `
		SELECT id, image_id, task_id, value, raw_text, confidence, status, error_message, created_at
		FROM ocr_results
		WHERE task_id = $1
	`

	var res db.OCRResult
	err := r.pool.QueryRow(ctx, query, taskID).Scan(
		&res.ID,
		&res.ImageID,
		&res.TaskID,
		&res.Value,
		&res.RawText,
		&res.Confidence,
		&res.Status,
		&res.ErrorMessage,
		&res.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ocr result: %w", err)
	}
	return &res, nil
}

// MarkImageProcessed flips the processed flag. Returns false when the image
// does not exist or was already processed.
func (r *Repository) MarkImageProcessed(ctx context.Context, imageID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE images SET processed = TRUE WHERE id = $1 AND processed = FALSE`, imageID)
	if err != nil {
		return false, fmt.Errorf("failed to mark image processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping verifies database connectivity for health probes
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
