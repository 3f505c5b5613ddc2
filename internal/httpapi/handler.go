package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/db"
	"github.com/ecitko/watermeter-ocr-service/internal/ingest"
	"github.com/ecitko/watermeter-ocr-service/internal/logging"
	"github.com/ecitko/watermeter-ocr-service/internal/taskstate"
)

// Uploader runs the ingestion pipeline for one upload
type Uploader interface {
	Ingest(ctx context.Context, meterID int64, filename string, r io.Reader) (*ingest.Result, error)
}

// StatusReader reads task bookkeeping for status polling
type StatusReader interface {
	Get(ctx context.Context, taskID string) (taskstate.State, error)
}

// ImageStore is the slice of the repository the confirmation and health
// endpoints need
type ImageStore interface {
	GetImageByID(ctx context.Context, imageID int64) (*db.Image, error)
	GetOCRResultByTaskID(ctx context.Context, taskID string) (*db.OCRResult, error)
	MarkImageProcessed(ctx context.Context, imageID int64) (bool, error)
	Ping(ctx context.Context) error
}

// BrokerProbe reports queue connectivity for the health endpoint
type BrokerProbe interface {
	IsClosed() bool
}

// Handler wires the upload, status and confirmation endpoints
type Handler struct {
	uploader  Uploader
	statuses  StatusReader
	images    ImageStore
	broker    BrokerProbe
	uploadDir string
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(uploader Uploader, statuses StatusReader, images ImageStore, broker BrokerProbe, uploadDir string, logger *zap.Logger) *Handler {
	return &Handler{
		uploader:  uploader,
		statuses:  statuses,
		images:    images,
		broker:    broker,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// Register mounts the API routes
func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := r.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}

	protected.POST("/upload", h.upload)
	protected.POST("/images/:id/confirm", h.confirmImage)

	r.GET("/task-status/:task_id", h.taskStatus)
	r.GET("/health", h.health)
}

func (h *Handler) requestLogger(c *gin.Context) *zap.Logger {
	return logging.WithRequestID(h.logger, c.GetString(requestIDKey))
}

// upload reads the multipart body part by part so the file bytes stream
// straight into the pipeline without being spooled to a temp file first.
// The waterMeterId field must precede the file part for that to work.
func (h *Handler) upload(c *gin.Context) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("expected a multipart/form-data body"))
		return
	}

	var meterID int64
	var haveMeterID bool

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("malformed multipart body"))
			return
		}

		switch part.FormName() {
		case "waterMeterId":
			raw, err := io.ReadAll(io.LimitReader(part, 64))
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse("failed to read waterMeterId field"))
				return
			}
			meterID, err = strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse("waterMeterId must be an integer"))
				return
			}
			haveMeterID = true
		case "file":
			if !haveMeterID {
				c.JSON(http.StatusBadRequest, errorResponse("waterMeterId field must precede the file part"))
				return
			}

			result, err := h.uploader.Ingest(c.Request.Context(), meterID, part.FileName(), part)
			if err != nil {
				h.handleError(c, err)
				return
			}

			c.JSON(http.StatusOK, gin.H{
				"message":     "Image uploaded successfully",
				"image_id":    result.ImageID,
				"image_url":   result.StoredPath,
				"ocr_task_id": result.TaskID,
				"ocr_status":  result.OCRStatus,
			})
			return
		default:
			// Unknown fields are skipped, not rejected.
			if _, err := io.Copy(io.Discard, part); err != nil {
				c.JSON(http.StatusBadRequest, errorResponse("malformed multipart body"))
				return
			}
		}
	}

	c.JSON(http.StatusBadRequest, errorResponse("no file provided"))
}

func (h *Handler) taskStatus(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		c.JSON(http.StatusBadRequest, errorResponse("invalid task id"))
		return
	}

	state, err := h.statuses.Get(c.Request.Context(), taskID)
	if err != nil {
		h.requestLogger(c).Error("failed to read task state", zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("failed to read task status"))
		return
	}

	switch state.Status {
	case taskstate.StatusPending:
		c.JSON(http.StatusOK, gin.H{
			"task_id": taskID,
			"status":  string(taskstate.StatusPending),
			"message": "Task is waiting in queue or being processed",
		})
	case taskstate.StatusSuccess:
		c.JSON(http.StatusOK, gin.H{
			"task_id": taskID,
			"status":  string(taskstate.StatusSuccess),
			"result":  state.Result,
		})
	case taskstate.StatusFailure:
		c.JSON(http.StatusOK, gin.H{
			"task_id": taskID,
			"status":  string(taskstate.StatusFailure),
			"error":   state.Error,
		})
	default:
		// The redis record expires; a terminal outcome survives in the
		// durable result row, so check there before reporting unknown.
		res, err := h.images.GetOCRResultByTaskID(c.Request.Context(), taskID)
		if err != nil {
			h.requestLogger(c).Warn("failed to query stored ocr result", zap.String("task_id", taskID), zap.Error(err))
		}
		if res != nil {
			c.JSON(http.StatusOK, storedResultResponse(taskID, res))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"task_id": taskID,
			"status":  string(taskstate.StatusUnknown),
		})
	}
}

func storedResultResponse(taskID string, res *db.OCRResult) gin.H {
	if res.Status == db.OCRStatusError {
		errText := ""
		if res.ErrorMessage != nil {
			errText = *res.ErrorMessage
		}
		return gin.H{
			"task_id": taskID,
			"status":  string(taskstate.StatusFailure),
			"error":   errText,
		}
	}

	result := gin.H{
		"status":        db.OCRStatusSuccess,
		"image_id":      res.ImageID,
		"confidence":    res.Confidence,
		"ocr_result_id": res.ID,
	}
	if res.Value != nil {
		result["value"] = *res.Value
	}
	if res.RawText != nil {
		result["raw_text"] = *res.RawText
	}
	return gin.H{
		"task_id": taskID,
		"status":  string(taskstate.StatusSuccess),
		"result":  result,
	}
}

// confirmImage verifies a stored image belongs to the expected meter and
// optionally flips its processed flag.
func (h *Handler) confirmImage(c *gin.Context) {
	imageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid image id"))
		return
	}

	var req struct {
		WaterMeterID  int64 `json:"water_meter_id" binding:"required"`
		MarkProcessed bool  `json:"mark_processed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	img, err := h.images.GetImageByID(c.Request.Context(), imageID)
	if err != nil {
		h.requestLogger(c).Error("failed to load image", zap.Int64("image_id", imageID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	if img == nil || img.WaterMeterID != req.WaterMeterID {
		c.JSON(http.StatusNotFound, errorResponse("image not found for this water meter"))
		return
	}

	processed := img.Processed
	if req.MarkProcessed && !processed {
		flipped, err := h.images.MarkImageProcessed(c.Request.Context(), imageID)
		if err != nil {
			h.requestLogger(c).Error("failed to mark image processed", zap.Int64("image_id", imageID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
			return
		}
		processed = processed || flipped
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Image confirmed",
		"image_id":  imageID,
		"processed": processed,
	})
}

// health probes database connectivity, broker connectivity and upload
// directory writability.
func (h *Handler) health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.images.Ping(c.Request.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if h.broker != nil && h.broker.IsClosed() {
		checks["queue"] = "connection closed"
		healthy = false
	} else {
		checks["queue"] = "ok"
	}

	if err := probeUploadDir(h.uploadDir); err != nil {
		checks["upload_dir"] = err.Error()
		healthy = false
	} else {
		checks["upload_dir"] = "ok"
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

// probeUploadDir verifies the directory is actually writable, not merely
// present.
func probeUploadDir(dir string) error {
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("upload dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, ingest.ErrValidation),
		errors.Is(err, ingest.ErrInvalidContent),
		errors.Is(err, ingest.ErrPayloadTooLarge):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	default:
		h.requestLogger(c).Error("upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func errorResponse(detail string) gin.H {
	return gin.H{
		"detail": detail,
	}
}
