package main

import (
	"github.com/watermetrics/kcwater-usage-worker/internal/config"
	"github.com/watermetrics/kcwater-usage-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
