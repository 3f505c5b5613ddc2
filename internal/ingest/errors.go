package ingest

import (
	"errors"
)

// Error taxonomy for the upload pipeline. ErrValidation, ErrNotFound,
// ErrPayloadTooLarge and ErrInvalidContent are client-attributable and
// never retried; ErrPersistence is server-attributable and always leaves
// the upload directory clean.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidContent  = errors.New("invalid content")
	ErrPersistence     = errors.New("persistence failure")
)
