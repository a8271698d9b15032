package app

import (
	"log/slog"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"payup/internal/config"
)

// NewNewRelic starts the New Relic agent when it is enabled and licensed.
// It returns nil when disabled or when the agent fails to start.
func NewNewRelic(cfg config.NewRelicConfig, logger *slog.Logger) *newrelic.Application {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil
	}

	nrApp, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		logger.Warn("failed to initialize New Relic", slog.Any("error", err))
		return nil
	}

	logger.Info("New Relic enabled", slog.String("app", cfg.AppName))
	return nrApp
}

const defaultShutdownTimeout = 5 * time.Second
