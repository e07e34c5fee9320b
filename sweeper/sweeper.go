// Package sweeper implements the disappearing-message sweep (§4.8, spec
// component G): a periodic pass that deletes group messages whose
// expiry has passed.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

// Message is the minimal shape the sweeper needs from store.Message,
// kept narrow so this package does not import store directly.
type Message struct {
	ID uuid.UUID
}

// Store is the persistence boundary the sweeper reads expired rows from
// and deletes through.
type Store interface {
	ExpiredBefore(ctx context.Context, cutoffNs int64) ([]Message, error)
	DeleteExpired(ctx context.Context, ids []uuid.UUID) error
}

// Sweeper periodically deletes expired disappearing messages.
type Sweeper struct {
	store        Store
	interval     time.Duration
	timeProvider crypto.TimeProvider
	logger       *logrus.Entry

	stopChan chan struct{}
}

// New constructs a Sweeper polling every interval.
func New(store Store, interval time.Duration) *Sweeper {
	return NewWithTimeProvider(store, interval, crypto.GetDefaultTimeProvider())
}

// NewWithTimeProvider allows deterministic tests to control the sweep
// cutoff.
func NewWithTimeProvider(store Store, interval time.Duration, tp crypto.TimeProvider) *Sweeper {
	if tp == nil {
		tp = crypto.GetDefaultTimeProvider()
	}
	return &Sweeper{
		store:        store,
		interval:     interval,
		timeProvider: tp,
		logger:       logrus.WithFields(logrus.Fields{"package": "sweeper"}),
		stopChan:     make(chan struct{}),
	}
}

// Run blocks, sweeping every interval until ctx is cancelled or Stop is
// called.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Warn("disappearing message sweep failed")
			}
		}
	}
}

// Stop terminates Run's loop.
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// SweepOnce deletes every message whose expiry has passed as of now.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.timeProvider.Now().UnixNano()
	expired, err := s.store.ExpiredBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(expired))
	for i, m := range expired {
		ids[i] = m.ID
	}
	if err := s.store.DeleteExpired(ctx, ids); err != nil {
		return err
	}
	s.logger.WithField("count", len(ids)).Debug("swept expired disappearing messages")
	return nil
}
