package repository_test

import (
	"github.com/ecitko/watermeter-ocr-service/internal/extract"
	"github.com/ecitko/watermeter-ocr-service/internal/httpapi"
	"github.com/ecitko/watermeter-ocr-service/internal/ingest"
	"github.com/ecitko/watermeter-ocr-service/internal/repository"
)

// The repository is consumed through narrow per-package interfaces. These
// guards pin the full surface, including the existence checks that only
// out-of-process provisioning calls.
var (
	_ ingest.MeterStore  = (*repository.Repository)(nil)
	_ extract.ImageStore = (*repository.Repository)(nil)
	_ httpapi.ImageStore = (*repository.Repository)(nil)

	_ = (*repository.Repository).ConsumerExists
)
