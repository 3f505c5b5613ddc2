package main

import (
	"go.uber.org/zap"

	"github.com/ecitko/watermeter-ocr-service/internal/config"
	"github.com/ecitko/watermeter-ocr-service/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName + "-worker")
}
