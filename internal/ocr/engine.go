package ocr

import (
	"context"
)

// Recognition is the raw output of one recognition pass: the decoded text
// and the per-token confidence values (0-100) reported by the engine.
type Recognition struct {
	RawText          string
	TokenConfidences []float64
}

// Engine recognizes text in a stored meter photograph. Implementations
// must honour ctx cancellation so a job can self-terminate inside its soft
// time limit.
type Engine interface {
	Recognize(ctx context.Context, path string) (Recognition, error)
}
