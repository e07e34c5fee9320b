package keypackage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerEnsuresActivePackageOnTick(t *testing.T) {
	pub := &fakePublisher{}
	store := NewWithTimeProvider(testInstallation(1), pub, newMovableTimeProvider(time.Unix(1000, 0)))
	w := NewWorker(store, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	w.Run(ctx)

	assert.GreaterOrEqual(t, pub.callCount(), 1, "at least one tick should have ensured an active key package")
}

func TestWorkerStopsPromptlyOnContextCancel(t *testing.T) {
	pub := &fakePublisher{}
	store := NewWithTimeProvider(testInstallation(1), pub, newMovableTimeProvider(time.Unix(1000, 0)))
	w := NewWorker(store, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
