package ocr_test

import (
	"testing"

	"github.com/ecitko/watermeter-ocr-service/internal/ocr"
)

func TestExtractReading_DigitRuns(t *testing.T) {
	cases := []struct {
		raw      string
		expected string
	}{
		{"Reading: 0123", "0123"},
		{"Reading: 0123 m3", "01233"},
		{"12 34\n56", "123456"},
		{"00042", "00042"},
		{"m3", "3"},
	}

	for _, tc := range cases {
		if got := ocr.ExtractReading(tc.raw); got != tc.expected {
			t.Errorf("ExtractReading(%q) = %q, want %q", tc.raw, got, tc.expected)
		}
	}
}

func TestExtractReading_NoDigitsFallsBackToRawText(t *testing.T) {
	if got := ocr.ExtractReading("---"); got != "---" {
		t.Errorf("ExtractReading(---) = %q, want raw text fallback", got)
	}
	if got := ocr.ExtractReading("  blurry  "); got != "blurry" {
		t.Errorf("ExtractReading returned %q, want trimmed fallback", got)
	}
}

func TestAggregateConfidence_ExcludesZeroTokens(t *testing.T) {
	got := ocr.AggregateConfidence([]float64{90, 0, 80})
	if got != 85.0 {
		t.Errorf("AggregateConfidence([90 0 80]) = %f, want 85.0", got)
	}
}

func TestAggregateConfidence_Empty(t *testing.T) {
	if got := ocr.AggregateConfidence(nil); got != 0 {
		t.Errorf("AggregateConfidence(nil) = %f, want 0", got)
	}
}

func TestAggregateConfidence_AllZero(t *testing.T) {
	if got := ocr.AggregateConfidence([]float64{0, 0, 0}); got != 0 {
		t.Errorf("AggregateConfidence(all zero) = %f, want 0", got)
	}
}
