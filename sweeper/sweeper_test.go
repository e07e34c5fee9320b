package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTimeProvider struct{ now time.Time }

func (f fixedTimeProvider) Now() time.Time                  { return f.now }
func (f fixedTimeProvider) Since(t time.Time) time.Duration { return f.now.Sub(t) }

type fakeStore struct {
	expired    []Message
	expiredErr error
	deleted    []uuid.UUID
	deleteErr  error
	calls      int
	cutoff     int64
}

func (f *fakeStore) ExpiredBefore(ctx context.Context, cutoffNs int64) ([]Message, error) {
	f.calls++
	f.cutoff = cutoffNs
	if f.expiredErr != nil {
		return nil, f.expiredErr
	}
	return f.expired, nil
}

func (f *fakeStore) DeleteExpired(ctx context.Context, ids []uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

func TestSweepOnceDeletesExpiredMessages(t *testing.T) {
	want := []uuid.UUID{uuid.New(), uuid.New()}
	store := &fakeStore{expired: []Message{{ID: want[0]}, {ID: want[1]}}}
	s := NewWithTimeProvider(store, time.Minute, fixedTimeProvider{now: time.Unix(1000, 0)})

	err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, want, store.deleted)
}

func TestSweepOnceSkipsDeleteWhenNothingExpired(t *testing.T) {
	store := &fakeStore{}
	s := NewWithTimeProvider(store, time.Minute, fixedTimeProvider{now: time.Unix(1000, 0)})

	err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, store.deleted)
}

func TestSweepOncePropagatesExpiredBeforeError(t *testing.T) {
	store := &fakeStore{expiredErr: assert.AnError}
	s := NewWithTimeProvider(store, time.Minute, fixedTimeProvider{now: time.Unix(1000, 0)})

	err := s.SweepOnce(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSweepOncePropagatesDeleteError(t *testing.T) {
	store := &fakeStore{expired: []Message{{ID: uuid.New()}}, deleteErr: assert.AnError}
	s := NewWithTimeProvider(store, time.Minute, fixedTimeProvider{now: time.Unix(1000, 0)})

	err := s.SweepOnce(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSweepOnceUsesTimeProviderCutoff(t *testing.T) {
	now := time.Unix(5000, 0)
	store := &fakeStore{}
	s := NewWithTimeProvider(store, time.Minute, fixedTimeProvider{now: now})

	require.NoError(t, s.SweepOnce(context.Background()))
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, now.UnixNano(), store.cutoff)
}

func TestNewWithTimeProviderDefaultsNilProvider(t *testing.T) {
	store := &fakeStore{}
	s := NewWithTimeProvider(store, time.Minute, nil)
	require.NotNil(t, s.timeProvider)
	require.NoError(t, s.SweepOnce(context.Background()))
}

func TestRunStopsOnExplicitStop(t *testing.T) {
	store := &fakeStore{}
	s := NewWithTimeProvider(store, time.Millisecond, fixedTimeProvider{now: time.Unix(1, 0)})

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	s := NewWithTimeProvider(store, time.Millisecond, fixedTimeProvider{now: time.Unix(1, 0)})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
