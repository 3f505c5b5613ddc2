package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/db"
	"github.com/ecitko/watermeter-ocr-service/internal/logging"
	"github.com/ecitko/watermeter-ocr-service/internal/mq"
	"github.com/ecitko/watermeter-ocr-service/internal/ocr"
)

// ImageStore is the slice of the repository the worker needs
type ImageStore interface {
	GetImageByID(ctx context.Context, imageID int64) (*db.Image, error)
	InsertOCRResult(ctx context.Context, result *db.OCRResult) (int64, error)
}

// TaskStateRecorder mirrors terminal job states to the status backend
type TaskStateRecorder interface {
	MarkSuccess(ctx context.Context, taskID string, result any) error
	MarkFailure(ctx context.Context, taskID string, errText string) error
}

// recordTimeout bounds the outcome writes after the job context is gone.
const recordTimeout = 15 * time.Second

// ResultPayload is the task result exposed to status polling
type ResultPayload struct {
	Status      string  `json:"status"`
	ImageID     int64   `json:"image_id"`
	Value       string  `json:"value"`
	RawText     string  `json:"raw_text"`
	Confidence  float64 `json:"confidence"`
	OCRResultID int64   `json:"ocr_result_id,omitempty"`
}

// Processor consumes extraction jobs and always records an outcome: a
// success row, or an error row carrying the failure message. One job's
// failure never crashes the worker or blocks the next delivery.
type Processor struct {
	repo   ImageStore
	engine ocr.Engine
	states TaskStateRecorder
	logger *zap.Logger
}

// NewProcessor creates a new extraction processor
func NewProcessor(repo ImageStore, engine ocr.Engine, states TaskStateRecorder, logger *zap.Logger) *Processor {
	return &Processor{
		repo:   repo,
		engine: engine,
		states: states,
		logger: logger,
	}
}

// ProcessJob is the queue handler. A malformed body is the only case that
// errors out to the DLQ; every decodable job completes by recording a
// result.
func (p *Processor) ProcessJob(ctx context.Context, body []byte) error {
	var job mq.ExtractionJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("failed to unmarshal extraction job: %w", err)
	}
	p.Process(ctx, job.ImageID, job.TaskID)
	return nil
}

// Process runs one extraction attempt for an image and returns the
// recorded result.
func (p *Processor) Process(ctx context.Context, imageID int64, taskID string) *db.OCRResult {
	logger := logging.WithTaskID(p.logger, taskID)
	logger.Info("starting ocr extraction", zap.Int64("image_id", imageID))

	result, err := p.extract(ctx, imageID, taskID, logger)

	// Recording must outlive the job context: when the soft time limit
	// expires mid-recognition, the failure row still has to be written.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err != nil {
		logger.Error("ocr extraction failed", zap.Int64("image_id", imageID), zap.Error(err))
		return p.recordFailure(recordCtx, imageID, taskID, err.Error(), logger)
	}

	p.recordSuccess(recordCtx, result, logger)
	return result
}

// extract runs steps that can fail: lookup, file check, recognition,
// scoring. A panic anywhere in here is converted into the returned error
// so the attempt still ends in a recorded row.
func (p *Processor) extract(ctx context.Context, imageID int64, taskID string, logger *zap.Logger) (result *db.OCRResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic during extraction: %v", r)
		}
	}()

	img, err := p.repo.GetImageByID(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load image record: %w", err)
	}
	if img == nil {
		return nil, fmt.Errorf("image with ID %d not found", imageID)
	}

	if _, statErr := os.Stat(img.ImageURL); statErr != nil {
		return nil, fmt.Errorf("image file not found: %s", img.ImageURL)
	}

	recognition, err := p.engine.Recognize(ctx, img.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}

	rawText := strings.TrimSpace(recognition.RawText)
	value := ocr.ExtractReading(rawText)
	confidence := round2(ocr.AggregateConfidence(recognition.TokenConfidences))

	logger.Info("ocr extraction completed",
		zap.Int64("image_id", imageID),
		zap.String("value", value),
		zap.Float64("confidence", confidence),
	)

	return &db.OCRResult{
		ImageID:    imageID,
		TaskID:     taskID,
		Value:      &value,
		RawText:    &rawText,
		Confidence: confidence,
		Status:     db.OCRStatusSuccess,
	}, nil
}

// recordSuccess persists the success row and mirrors the payload to the
// status backend. A failed persist is logged but does not turn the job
// into a retry: a second attempt would write a second row under a fresh
// task id instead of repairing the missing one.
func (p *Processor) recordSuccess(ctx context.Context, result *db.OCRResult, logger *zap.Logger) {
	payload := ResultPayload{
		Status:     db.OCRStatusSuccess,
		ImageID:    result.ImageID,
		Confidence: result.Confidence,
	}
	if result.Value != nil {
		payload.Value = *result.Value
	}
	if result.RawText != nil {
		payload.RawText = *result.RawText
	}

	id, err := p.repo.InsertOCRResult(ctx, result)
	if err != nil {
		logger.Error("failed to persist ocr result",
			zap.Int64("image_id", result.ImageID),
			zap.Error(err),
		)
	} else {
		result.ID = id
		payload.OCRResultID = id
	}

	if err := p.states.MarkSuccess(ctx, result.TaskID, payload); err != nil {
		logger.Warn("failed to record task success state", zap.Error(err))
	}
}

func (p *Processor) recordFailure(ctx context.Context, imageID int64, taskID, message string, logger *zap.Logger) *db.OCRResult {
	errMsg := message
	result := &db.OCRResult{
		ImageID:      imageID,
		TaskID:       taskID,
		Status:       db.OCRStatusError,
		ErrorMessage: &errMsg,
	}

	id, err := p.repo.InsertOCRResult(ctx, result)
	if err != nil {
		logger.Error("failed to persist error result",
			zap.Int64("image_id", imageID),
			zap.Error(err),
		)
	} else {
		result.ID = id
	}

	if err := p.states.MarkFailure(ctx, taskID, message); err != nil {
		logger.Warn("failed to record task failure state", zap.Error(err))
	}

	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
