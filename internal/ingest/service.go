package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/config"
	"github.com/ecitko/watermeter-ocr-service/internal/content"
	"github.com/ecitko/watermeter-ocr-service/internal/db"
	"github.com/ecitko/watermeter-ocr-service/internal/mq"
)

// OCR dispatch outcome reported to the client
const (
	OCRStatusQueued      = "queued"
	OCRStatusUnavailable = "unavailable"
)

// MeterStore is the slice of the repository the pipeline needs
type MeterStore interface {
	GetWaterMeter(ctx context.Context, meterID int64) (*db.WaterMeter, error)
	InsertImage(ctx context.Context, waterMeterID int64, imageURL string) (int64, error)
}

// JobPublisher enqueues extraction jobs
type JobPublisher interface {
	PublishExtractionJob(ctx context.Context, job mq.ExtractionJob) error
}

// TaskStateMarker records that a task has been queued
type TaskStateMarker interface {
	MarkPending(ctx context.Context, taskID string) error
}

// Result is what a successful upload returns to the caller
type Result struct {
	ImageID    int64
	StoredPath string
	TaskID     string
	OCRStatus  string
}

// Service turns an incoming byte stream into a durably stored file plus an
// image row, then enqueues the extraction job. Every failure path removes
// whatever was written, so a file exists on disk iff its row was created.
type Service struct {
	repo      MeterStore
	publisher JobPublisher
	states    TaskStateMarker
	cfg       config.UploadConfig
	logger    *zap.Logger
}

// NewService creates a new ingestion service
func NewService(repo MeterStore, publisher JobPublisher, states TaskStateMarker, cfg config.UploadConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		states:    states,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ingest validates, streams and commits one uploaded meter photo
func (s *Service) Ingest(ctx context.Context, meterID int64, filename string, r io.Reader) (*Result, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: no file provided", ErrValidation)
	}

	safeName := content.SanitizeFilename(filename)
	if safeName == "" || !content.HasAllowedExtension(safeName) {
		return nil, fmt.Errorf("%w: invalid file format, allowed formats: %s",
			ErrValidation, strings.ToUpper(strings.Join(content.AllowedExtensions(), ", ")))
	}

	meter, err := s.repo.GetWaterMeter(ctx, meterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if meter == nil {
		return nil, fmt.Errorf("%w: water meter with ID %d not found", ErrNotFound, meterID)
	}
	if !meter.IsActive {
		return nil, fmt.Errorf("%w: water meter with ID %d is not active", ErrNotFound, meterID)
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create upload directory: %v", ErrPersistence, err)
	}

	storedName := StoredFilename(meterID, time.Now(), content.Ext(safeName))
	storedPath := filepath.Join(s.cfg.Dir, storedName)

	head, err := s.streamToFile(storedPath, r)
	if err != nil {
		return nil, err
	}

	// Second gate, independent of the extension: a disguised payload that
	// made it past the name check is rejected here.
	if !content.SniffSignature(head) {
		s.removeStored(storedPath)
		return nil, fmt.Errorf("%w: file content does not match an allowed image format", ErrInvalidContent)
	}

	imageID, err := s.repo.InsertImage(ctx, meterID, storedPath)
	if err != nil {
		s.removeStored(storedPath)
		return nil, fmt.Errorf("%w: failed to insert image record: %v", ErrPersistence, err)
	}

	res := &Result{
		ImageID:    imageID,
		StoredPath: storedPath,
		OCRStatus:  OCRStatusUnavailable,
	}

	// Enqueue is best-effort: an image without a completed extraction is a
	// valid, recoverable state, so the row is never rolled back here.
	taskID := uuid.NewString()
	job := mq.ExtractionJob{TaskID: taskID, ImageID: imageID, EnqueuedAt: time.Now()}
	if err := s.publisher.PublishExtractionJob(ctx, job); err != nil {
		s.logger.Error("failed to enqueue extraction job",
			zap.Error(err),
			zap.Int64("image_id", imageID),
			zap.String("task_id", taskID),
		)
		return res, nil
	}

	if err := s.states.MarkPending(ctx, taskID); err != nil {
		s.logger.Warn("failed to mark task pending",
			zap.Error(err),
			zap.String("task_id", taskID),
		)
	}

	res.TaskID = taskID
	res.OCRStatus = OCRStatusQueued

	s.logger.Info("image ingested",
		zap.Int64("water_meter_id", meterID),
		zap.Int64("image_id", imageID),
		zap.String("stored_path", storedPath),
		zap.String("task_id", taskID),
	)

	return res, nil
}

// streamToFile copies the body to storedPath in chunks, returning the
// retained leading bytes for signature sniffing. The cumulative size check
// runs before each chunk hits disk, which bounds disk use at MaxBytes even
// for a stream that never terminates. Any error removes the partial file.
func (s *Service) streamToFile(storedPath string, r io.Reader) ([]byte, error) {
	f, err := os.OpenFile(storedPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create file: %v", ErrPersistence, err)
	}

	fail := func(cause error) ([]byte, error) {
		f.Close()
		s.removeStored(storedPath)
		return nil, cause
	}

	buf := make([]byte, s.cfg.ChunkBytes)
	head := make([]byte, 0, content.SniffLen)
	var written int64

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if written+int64(n) > s.cfg.MaxBytes {
				return fail(fmt.Errorf("%w: file exceeds maximum size of %d bytes",
					ErrPayloadTooLarge, s.cfg.MaxBytes))
			}
			if len(head) < content.SniffLen {
				take := content.SniffLen - len(head)
				if take > n {
					take = n
				}
				head = append(head, buf[:take]...)
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fail(fmt.Errorf("%w: failed to write file: %v", ErrPersistence, werr))
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("%w: failed to read upload body: %v", ErrValidation, rerr))
		}
	}

	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("%w: failed to sync file: %v", ErrPersistence, err))
	}
	if err := f.Close(); err != nil {
		s.removeStored(storedPath)
		return nil, fmt.Errorf("%w: failed to close file: %v", ErrPersistence, err)
	}

	return head, nil
}

func (s *Service) removeStored(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove stored file", zap.String("path", path), zap.Error(err))
	}
}

// StoredFilename builds the on-disk name {meterId}_{YYYYMMDD_HHMMSS}_{token}.{ext}.
// The 32-char random token keeps concurrent uploads for the same meter in
// the same second from colliding without any locking.
func StoredFilename(meterID int64, now time.Time, ext string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d_%s_%s.%s", meterID, now.Format("20060102_150405"), token, ext)
}
