// Package server exposes the operational HTTP surface: liveness, readiness
// and a host load snapshot.
package server

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/taisearch/internal/sysload"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Pinger checks a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Sampler    sysload.Sampler
	Thresholds sysload.Thresholds
	// Database is checked by the readiness endpoint when set.
	Database Pinger
	Logger   logrus.FieldLogger
}

// LoadSnapshot is the body of GET /health/load.
type LoadSnapshot struct {
	sysload.Usage
	AvailableMB uint64 `json:"available_mb"`
	Overloaded  bool   `json:"overloaded"`
	Reason      string `json:"reason,omitempty"`
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(sentryHandler.Handle)
	r.Use(AccessLog(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Database != nil {
			if err := cfg.Database.Ping(r.Context()); err != nil {
				cfg.Logger.WithError(err).Warn("readiness check failed")
				failure(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		success(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/health/load", func(w http.ResponseWriter, r *http.Request) {
		usage, err := cfg.Sampler.Sample(r.Context())
		if err != nil {
			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.CaptureException(err)
			}
			cfg.Logger.WithError(err).Error("failed to sample host load")
			failure(w, http.StatusInternalServerError, "failed to sample host load")
			return
		}
		reason := cfg.Thresholds.Exceeded(usage)
		success(w, http.StatusOK, LoadSnapshot{
			Usage:       usage,
			AvailableMB: usage.AvailableMB(),
			Overloaded:  reason != "",
			Reason:      reason,
		})
	})

	return r
}
