package ocr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/config"
)

type stubRunner struct {
	textOut []byte
	tsvOut  []byte
	textErr error
	tsvErr  error
}

func (s *stubRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	if args[len(args)-1] == "tsv" {
		return s.tsvOut, nil, s.tsvErr
	}
	return s.textOut, nil, s.textErr
}

func tsvLine(conf, word string) string {
	// level page block par line word left top width height conf text
	return strings.Join([]string{"5", "1", "1", "1", "1", "1", "10", "10", "40", "20", conf, word}, "\t")
}

func TestRecognize_ParsesTSVConfidences(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		tsvLine("90", "0123"),
		tsvLine("-1", ""),
		tsvLine("80", "m3"),
		"",
	}, "\n")

	tess := NewTesseract(config.OCRConfig{Language: "srp"}, zap.NewNop())
	tess.runner = &stubRunner{textOut: []byte("0123 m3\n"), tsvOut: []byte(tsv)}

	rec, err := tess.Recognize(context.Background(), "/tmp/img.jpg")
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}

	if rec.RawText != "0123 m3\n" {
		t.Errorf("RawText = %q", rec.RawText)
	}
	if len(rec.TokenConfidences) != 2 {
		t.Fatalf("expected 2 confidences (the -1 row skipped), got %d", len(rec.TokenConfidences))
	}
	if rec.TokenConfidences[0] != 90 || rec.TokenConfidences[1] != 80 {
		t.Errorf("unexpected confidences: %v", rec.TokenConfidences)
	}
}

func TestRecognize_TSVFailureDegradesToNoConfidence(t *testing.T) {
	tess := NewTesseract(config.OCRConfig{}, zap.NewNop())
	tess.runner = &stubRunner{textOut: []byte("42"), tsvErr: errors.New("tsv mode unavailable")}

	rec, err := tess.Recognize(context.Background(), "/tmp/img.jpg")
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	if len(rec.TokenConfidences) != 0 {
		t.Errorf("expected no confidences after failed TSV pass, got %v", rec.TokenConfidences)
	}
}

func TestRecognize_TextFailure(t *testing.T) {
	tess := NewTesseract(config.OCRConfig{}, zap.NewNop())
	tess.runner = &stubRunner{textErr: errors.New("binary not found")}

	if _, err := tess.Recognize(context.Background(), "/tmp/img.jpg"); err == nil {
		t.Fatal("expected error when the text pass fails")
	}
}
