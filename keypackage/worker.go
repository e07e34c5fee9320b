package keypackage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xmtp-go/libxmtp-core/apperrors"
)

// Worker periodically ensures the installation's key-package pool has an
// active package, rotating on the interval described in §4.3 and §5
// (one background task per worker kind).
type Worker struct {
	store    *Store
	interval time.Duration
	policy   apperrors.RetryPolicy
}

// NewWorker constructs a key-package rotation worker.
func NewWorker(store *Store, interval time.Duration) *Worker {
	return &Worker{store: store, interval: interval, policy: apperrors.DefaultRetryPolicy()}
}

// Run loops until ctx is cancelled, checking for rotation need on each
// tick (§5 "Cancellation is checked between ... iterations").
func (w *Worker) Run(ctx context.Context) {
	logger := logrus.WithFields(logrus.Fields{"package": "keypackage", "component": "worker"})
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("key package worker stopping")
			return
		case <-ticker.C:
			if err := apperrors.Retry(ctx, w.policy, "keypackage.EnsureActive", func(ctx context.Context) error {
				_, err := w.store.EnsureActive(ctx)
				return err
			}); err != nil {
				logger.WithError(err).Warn("key package rotation failed, will retry next tick")
			}
		}
	}
}
