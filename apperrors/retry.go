package apperrors

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryPolicy configures the exponential backoff workers use (§5 "Workers
// back off exponentially up to a configured ceiling").
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy keeps backoff.v4's 500ms initial interval but caps
// the interval at 30s and the total elapsed time at 5 minutes, tighter
// than the library's own 60s/15min defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// Retry runs op, retrying on Retryable-classified errors according to
// policy, and checking ctx for cancellation between attempts (§5
// "Cancellation is checked between network calls").
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	logger := logrus.WithFields(logrus.Fields{"package": "apperrors", "op": op})

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logger.WithFields(logrus.Fields{"attempt": attempt, "error": err.Error()}).Warn("retrying after transient failure")
		return err
	}, policy.backoff(ctx))

	if err != nil {
		logger.WithError(err).Error("operation failed after retries")
	}
	return err
}
