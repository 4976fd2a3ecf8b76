package bootstrap

import (
	"finmesh/internal/adapters/config"
	errnoop "finmesh/internal/adapters/errors/noop"
	"finmesh/internal/adapters/errors/sentry"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Name)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}
