package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/db"
	"github.com/ecitko/watermeter-ocr-service/internal/httpapi"
	"github.com/ecitko/watermeter-ocr-service/internal/ingest"
	"github.com/ecitko/watermeter-ocr-service/internal/taskstate"
)

type fakeUploader struct {
	res *ingest.Result
	err error

	gotMeterID  int64
	gotFilename string
	gotBytes    int64
}

func (f *fakeUploader) Ingest(_ context.Context, meterID int64, filename string, r io.Reader) (*ingest.Result, error) {
	f.gotMeterID = meterID
	f.gotFilename = filename
	n, _ := io.Copy(io.Discard, r)
	f.gotBytes = n
	return f.res, f.err
}

type fakeStatuses struct {
	state taskstate.State
}

func (f *fakeStatuses) Get(_ context.Context, _ string) (taskstate.State, error) {
	return f.state, nil
}

type fakeImages struct {
	image   *db.Image
	result  *db.OCRResult
	flipped bool
}

func (f *fakeImages) GetImageByID(_ context.Context, _ int64) (*db.Image, error) {
	return f.image, nil
}

func (f *fakeImages) GetOCRResultByTaskID(_ context.Context, _ string) (*db.OCRResult, error) {
	return f.result, nil
}

func (f *fakeImages) MarkImageProcessed(_ context.Context, _ int64) (bool, error) {
	f.flipped = true
	return true, nil
}

func (f *fakeImages) Ping(_ context.Context) error { return nil }

type openBroker struct{}

func (openBroker) IsClosed() bool { return false }

func newTestRouter(t *testing.T, uploader *fakeUploader, statuses *fakeStatuses, images *fakeImages) http.Handler {
	t.Helper()
	return newTestRouterWithDir(uploader, statuses, images, t.TempDir())
}

func newTestRouterWithDir(uploader *fakeUploader, statuses *fakeStatuses, images *fakeImages, uploadDir string) http.Handler {
	handler := httpapi.NewHandler(uploader, statuses, images, openBroker{}, uploadDir, zap.NewNop())
	return httpapi.NewRouter(handler, nil)
}

func multipartUpload(t *testing.T, meterID string, filename string, fileBytes []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if meterID != "" {
		if err := w.WriteField("waterMeterId", meterID); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := fw.Write(fileBytes); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestUpload_Success(t *testing.T) {
	uploader := &fakeUploader{res: &ingest.Result{
		ImageID:    12,
		StoredPath: "/srv/uploads/7_20260831_101500_abc.jpg",
		TaskID:     "task-abc",
		OCRStatus:  ingest.OCRStatusQueued,
	}}
	router := newTestRouter(t, uploader, &fakeStatuses{}, &fakeImages{})

	body, contentType := multipartUpload(t, "7", "meter.jpg", []byte{0xFF, 0xD8, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if uploader.gotMeterID != 7 {
		t.Errorf("uploader saw meter id %d, want 7", uploader.gotMeterID)
	}
	if uploader.gotFilename != "meter.jpg" {
		t.Errorf("uploader saw filename %q", uploader.gotFilename)
	}
	if uploader.gotBytes != 12 {
		t.Errorf("uploader saw %d bytes, want 12", uploader.gotBytes)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["message"] != "Image uploaded successfully" {
		t.Errorf("unexpected message: %v", resp["message"])
	}
	if resp["ocr_task_id"] != "task-abc" || resp["ocr_status"] != "queued" {
		t.Errorf("unexpected task fields: %v", resp)
	}
}

func TestUpload_UnknownMeter(t *testing.T) {
	uploader := &fakeUploader{err: fmt.Errorf("%w: water meter with ID 999 not found", ingest.ErrNotFound)}
	router := newTestRouter(t, uploader, &fakeStatuses{}, &fakeImages{})

	body, contentType := multipartUpload(t, "999", "meter.jpg", []byte{0xFF, 0xD8, 0xFF})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["detail"] == "" {
		t.Error("expected a detail field in the error payload")
	}
}

func TestUpload_PayloadTooLarge(t *testing.T) {
	uploader := &fakeUploader{err: fmt.Errorf("%w: file exceeds maximum size", ingest.ErrPayloadTooLarge)}
	router := newTestRouter(t, uploader, &fakeStatuses{}, &fakeImages{})

	body, contentType := multipartUpload(t, "7", "meter.jpg", make([]byte, 64))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpload_MissingFilePart(t *testing.T) {
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{}, &fakeImages{})

	body, contentType := multipartUpload(t, "7", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpload_NonNumericMeterID(t *testing.T) {
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{}, &fakeImages{})

	body, contentType := multipartUpload(t, "seven", "meter.jpg", []byte{0xFF, 0xD8, 0xFF})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func taskStatusResponse(t *testing.T, state taskstate.State) (int, map[string]any) {
	t.Helper()
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{state: state}, &fakeImages{})

	req := httptest.NewRequest(http.MethodGet, "/task-status/task-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	return rec.Code, resp
}

func TestTaskStatus_Pending(t *testing.T) {
	code, resp := taskStatusResponse(t, taskstate.State{TaskID: "task-1", Status: taskstate.StatusPending})
	if code != http.StatusOK || resp["status"] != "pending" {
		t.Errorf("code=%d resp=%v", code, resp)
	}
}

func TestTaskStatus_Success(t *testing.T) {
	state := taskstate.State{
		TaskID: "task-1",
		Status: taskstate.StatusSuccess,
		Result: json.RawMessage(`{"value":"0123","confidence":85}`),
	}
	code, resp := taskStatusResponse(t, state)
	if code != http.StatusOK || resp["status"] != "success" {
		t.Fatalf("code=%d resp=%v", code, resp)
	}
	result, ok := resp["result"].(map[string]any)
	if !ok || result["value"] != "0123" {
		t.Errorf("unexpected result payload: %v", resp["result"])
	}
}

func TestTaskStatus_Failure(t *testing.T) {
	state := taskstate.State{TaskID: "task-1", Status: taskstate.StatusFailure, Error: "image file not found"}
	code, resp := taskStatusResponse(t, state)
	if code != http.StatusOK || resp["status"] != "failure" {
		t.Fatalf("code=%d resp=%v", code, resp)
	}
	if resp["error"] != "image file not found" {
		t.Errorf("unexpected error field: %v", resp["error"])
	}
}

func TestTaskStatus_ExpiredStateFallsBackToStoredResult(t *testing.T) {
	value := "0123"
	images := &fakeImages{result: &db.OCRResult{
		ID:         3,
		ImageID:    12,
		TaskID:     "task-1",
		Value:      &value,
		Confidence: 85,
		Status:     db.OCRStatusSuccess,
	}}
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{state: taskstate.State{TaskID: "task-1", Status: taskstate.StatusUnknown}}, images)

	req := httptest.NewRequest(http.MethodGet, "/task-status/task-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if rec.Code != http.StatusOK || resp["status"] != "success" {
		t.Fatalf("code=%d resp=%v", rec.Code, resp)
	}
	result, ok := resp["result"].(map[string]any)
	if !ok || result["value"] != "0123" {
		t.Errorf("unexpected result payload: %v", resp["result"])
	}
}

func TestTaskStatus_Unknown(t *testing.T) {
	code, resp := taskStatusResponse(t, taskstate.State{TaskID: "task-1", Status: taskstate.StatusUnknown})
	if code != http.StatusOK || resp["status"] != "unknown" {
		t.Errorf("code=%d resp=%v", code, resp)
	}
}

func TestHealth_OK(t *testing.T) {
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{}, &fakeImages{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealth_UploadDirNotWritable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	router := newTestRouterWithDir(&fakeUploader{}, &fakeStatuses{}, &fakeImages{}, missing)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when upload dir cannot take writes", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	checks, ok := resp["checks"].(map[string]any)
	if !ok || checks["upload_dir"] == "ok" {
		t.Errorf("expected upload_dir check to fail, got %v", resp["checks"])
	}
}

func TestConfirmImage_MeterMismatch(t *testing.T) {
	images := &fakeImages{image: &db.Image{ID: 5, WaterMeterID: 7, ImageURL: "/srv/u/x.jpg"}}
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{}, images)

	req := httptest.NewRequest(http.MethodPost, "/images/5/confirm",
		bytes.NewBufferString(`{"water_meter_id": 8}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for meter mismatch", rec.Code)
	}
}

func TestConfirmImage_MarkProcessed(t *testing.T) {
	images := &fakeImages{image: &db.Image{ID: 5, WaterMeterID: 7, ImageURL: "/srv/u/x.jpg"}}
	router := newTestRouter(t, &fakeUploader{}, &fakeStatuses{}, images)

	req := httptest.NewRequest(http.MethodPost, "/images/5/confirm",
		bytes.NewBufferString(`{"water_meter_id": 7, "mark_processed": true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !images.flipped {
		t.Error("expected the processed flag to be flipped")
	}
}
