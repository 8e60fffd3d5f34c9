package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "debug", Output: &buf})

	logger.WithField("resource_id", "r1").Debug("indexed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "indexed", line["msg"])
	assert.Equal(t, "r1", line["resource_id"])
	assert.Contains(t, line, "ts")
}

func TestNewLogger_TextAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "chatty", Format: "text", Output: &buf})

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	logger.Info("ready")
	assert.Contains(t, buf.String(), "msg=ready")
}

func TestInit_WithoutDSN(t *testing.T) {
	shutdown, err := Init(Config{})
	require.NoError(t, err)
	assert.NotPanics(t, shutdown)
}

func TestSampler(t *testing.T) {
	sample := sampler(0.25)

	assert.Equal(t, 0.0, sample(sentry.SamplingContext{Span: &sentry.Span{Name: "GET /health/ready"}}))
	assert.Equal(t, 0.25, sample(sentry.SamplingContext{Span: &sentry.Span{Name: "backend.index_task"}}))

	child := &sentry.Span{Name: "indexer.index", ParentSpanID: sentry.SpanID{1}, Sampled: sentry.SampledTrue}
	assert.Equal(t, 1.0, sample(sentry.SamplingContext{Span: child}))
	child.Sampled = sentry.SampledFalse
	assert.Equal(t, 0.0, sample(sentry.SamplingContext{Span: child}))
}

type codedError struct{}

func (codedError) Error() string     { return "boom" }
func (codedError) ErrorCode() string { return "EXTERNAL_SERVICE" }

func TestSpan_SetError(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "backend.delete", SpanAttributes{ClassID: "c1", ResourceID: "r1", Operation: "delete"})
	require.NotNil(t, sentry.SpanFromContext(ctx))

	span.SetError(codedError{})

	assert.Equal(t, sentry.SpanStatusInternalError, span.inner.Status)
	assert.Equal(t, "EXTERNAL_SERVICE", span.inner.Tags["error_code"])
	assert.Equal(t, "r1", span.inner.Tags["resource_id"])
	span.End()
}

func TestSpan_ChildOfExisting(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "backend.index_task", SpanAttributes{})
	defer parent.End()

	_, child := StartSpan(ctx, "indexer.index", SpanAttributes{})
	defer child.End()

	assert.Equal(t, parent.inner.SpanID, child.inner.ParentSpanID)
}

func TestSpan_ZeroValueIsInert(t *testing.T) {
	var span Span
	assert.NotPanics(t, func() {
		span.SetError(errors.New("x"))
		span.End()
	})
}
