// Package telemetry builds the process logger and wraps Sentry tracing and
// error capture for the indexing pipeline.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

const (
	serverName   = "taisearch"
	flushTimeout = 5 * time.Second
)

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
	Logger           logrus.FieldLogger
}

// Init starts the Sentry client. The returned function flushes buffered
// events and must run before exit. An empty DSN disables Sentry, and so does
// a client that fails to start: telemetry never stops the process.
func Init(cfg Config) (func(), error) {
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = Discard()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serverName,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		logger.WithError(err).Warn("sentry: failed to initialize, continuing without tracing")
		return noop, nil
	}

	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"sample_rate": cfg.TracesSampleRate,
	}).Info("sentry: tracing initialized")
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health check traffic, keeps child spans with their parent and
// samples new transactions at rate.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if isHealthCheck(ctx.Span.Name) {
			return 0
		}
		var root sentry.SpanID
		if ctx.Span.ParentSpanID != root {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

func isHealthCheck(name string) bool {
	return strings.HasPrefix(name, "GET /health")
}

// SpanAttributes tag a pipeline span with what it operates on.
type SpanAttributes struct {
	ClassID    string
	ResourceID string
	Operation  string
}

// Span is a started pipeline span. The zero value is inert.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed and tags it with the error. Capturing the
// error is left to whoever ends up handling it, see CaptureError.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	s.inner.SetData("error", err.Error())
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		s.inner.SetTag("error_code", coded.ErrorCode())
	}
}

// StartSpan opens a child of the span in ctx, or a new transaction when ctx
// carries none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	if attrs.ClassID != "" {
		span.SetTag("class_id", attrs.ClassID)
	}
	if attrs.ResourceID != "" {
		span.SetTag("resource_id", attrs.ResourceID)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}

	return span.Context(), &Span{inner: span}
}

// CaptureError reports err on the hub bound to ctx, falling back to the
// global hub.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
