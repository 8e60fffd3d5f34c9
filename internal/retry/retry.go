// Package retry wraps calls to external collaborators in a fixed-delay,
// bounded-attempt policy. It is applied at call sites so each operation opts
// in explicitly.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 5 * time.Second
)

// Policy retries an operation up to Attempts times, sleeping Delay between
// attempts. Errors that domain.IsPermanent recognises are not retried.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Logger   logrus.FieldLogger
}

// NewPolicy returns a policy with the given budget, falling back to the
// defaults for non-positive values.
func NewPolicy(attempts int, delay time.Duration, logger logrus.FieldLogger) Policy {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return Policy{Attempts: attempts, Delay: delay, Logger: logger}
}

// Do runs fn under the policy. The error of the final attempt is returned
// unmodified.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if domain.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		if attempt == attempts {
			logger.WithError(err).WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
			}).Error("attempt failed, retry budget exhausted")
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("attempt failed, retrying")
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotify(operation, b, notify)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
