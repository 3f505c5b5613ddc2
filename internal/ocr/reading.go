package ocr

import (
	"regexp"
	"strings"
)

var reDigits = regexp.MustCompile(`\d+`)

// ExtractReading derives the numeric meter reading from recognized text by
// concatenating every run of decimal digits in order of appearance. Text
// with no digits falls back to the trimmed raw text, so a degraded
// recognition still yields a non-null value for review.
func ExtractReading(rawText string) string {
	runs := reDigits.FindAllString(rawText, -1)
	if len(runs) == 0 {
		return strings.TrimSpace(rawText)
	}
	return strings.Join(runs, "")
}

// AggregateConfidence summarizes per-token confidences (0-100) as the
// arithmetic mean of the strictly positive values. Tokens the engine marks
// with zero or negative confidence carry no signal and are excluded; with
// no positive token at all the aggregate is 0.
func AggregateConfidence(tokenConfidences []float64) float64 {
	var sum float64
	var n int
	for _, c := range tokenConfidences {
		if c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
