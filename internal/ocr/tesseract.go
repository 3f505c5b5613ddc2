package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/config"
)

// Tesseract drives the tesseract binary as a black-box recognition engine:
// one plain-text pass for the decoded text and one TSV pass for per-word
// confidence values.
type Tesseract struct {
	cfg    config.OCRConfig
	runner Runner
	logger *zap.Logger
}

// NewTesseract creates a tesseract-backed Engine
func NewTesseract(cfg config.OCRConfig, logger *zap.Logger) *Tesseract {
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "srp"
	}
	return &Tesseract{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// Recognize runs OCR on the image at path
func (t *Tesseract) Recognize(ctx context.Context, path string) (Recognition, error) {
	text, err := t.recognizeText(ctx, path)
	if err != nil {
		return Recognition{}, err
	}

	confs, err := t.wordConfidences(ctx, path)
	if err != nil {
		// Text came back fine; a failed confidence pass degrades the
		// result to confidence 0 instead of failing the job.
		t.logger.Warn("tesseract tsv pass failed", zap.String("path", path), zap.Error(err))
		confs = nil
	}

	return Recognition{RawText: text, TokenConfidences: confs}, nil
}

func (t *Tesseract) recognizeText(ctx context.Context, path string) (string, error) {
	out, _, err := t.runner.Run(ctx, t.cfg.TesseractPath, t.args(path)...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil
}

// wordConfidences runs tesseract in TSV mode and collects the conf column.
// Rows without a real confidence (empty or -1) are skipped.
func (t *Tesseract) wordConfidences(ctx context.Context, path string) ([]float64, error) {
	args := append(t.args(path), "tsv")
	out, _, err := t.runner.Run(ctx, t.cfg.TesseractPath, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract tsv: %w", err)
	}

	var confs []float64
	lines := strings.Split(string(out), "\n")
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[len(cols)-2]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			confs = append(confs, v)
		}
	}
	return confs, nil
}

func (t *Tesseract) args(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.Language}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	return args
}
