package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	sub       chan Item
	queryFn   func(ctx context.Context, groupID []byte, node uint32, fromSeq, toSeq uint64) ([]Item, error)
	queryCall int
}

func (f *fakeSource) Subscribe(ctx context.Context, groupID []byte) (<-chan Item, error) {
	return f.sub, nil
}

func (f *fakeSource) QueryRange(ctx context.Context, groupID []byte, node uint32, fromSeq, toSeq uint64) ([]Item, error) {
	f.queryCall++
	return f.queryFn(ctx, groupID, node, fromSeq, toSeq)
}

func recvItem(t *testing.T, ch <-chan Item) Item {
	t.Helper()
	select {
	case item, ok := <-ch:
		require.True(t, ok, "channel closed before an item arrived")
		return item
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for item")
		return Item{}
	}
}

func TestSubscribeDeliversItemsWithoutGapInOrder(t *testing.T) {
	src := &fakeSource{sub: make(chan Item, 4)}
	sub, err := Subscribe(context.Background(), src, []byte("group-1"), nil)
	require.NoError(t, err)

	src.sub <- Item{OriginatorNodeID: 1, OriginatorSequence: 1}
	src.sub <- Item{OriginatorNodeID: 1, OriginatorSequence: 2}

	first := recvItem(t, sub.Items())
	second := recvItem(t, sub.Items())
	assert.Equal(t, uint64(1), first.OriginatorSequence)
	assert.Equal(t, uint64(2), second.OriginatorSequence)
	assert.Equal(t, 0, src.queryCall)
}

// §4.9: a skipped sequence triggers a catch-up query whose results are
// delivered, in order, ahead of the item that revealed the gap.
func TestSubscribeHealsGapWithCatchUpQueryBeforeTriggeringItem(t *testing.T) {
	src := &fakeSource{sub: make(chan Item, 4)}
	src.queryFn = func(ctx context.Context, groupID []byte, node uint32, fromSeq, toSeq uint64) ([]Item, error) {
		assert.Equal(t, uint64(1), fromSeq)
		assert.Equal(t, uint64(4), toSeq)
		return []Item{
			{OriginatorNodeID: node, OriginatorSequence: 1},
			{OriginatorNodeID: node, OriginatorSequence: 2},
			{OriginatorNodeID: node, OriginatorSequence: 3},
			{OriginatorNodeID: node, OriginatorSequence: 4},
		}, nil
	}
	sub, err := Subscribe(context.Background(), src, []byte("group-1"), nil)
	require.NoError(t, err)

	src.sub <- Item{OriginatorNodeID: 1, OriginatorSequence: 5}

	var got []uint64
	for i := 0; i < 5; i++ {
		got = append(got, recvItem(t, sub.Items()).OriginatorSequence)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
	assert.Equal(t, 1, src.queryCall)
}

func TestSubscribeStillDeliversTriggeringItemWhenCatchUpQueryFails(t *testing.T) {
	src := &fakeSource{sub: make(chan Item, 4)}
	src.queryFn = func(ctx context.Context, groupID []byte, node uint32, fromSeq, toSeq uint64) ([]Item, error) {
		return nil, assert.AnError
	}
	sub, err := Subscribe(context.Background(), src, []byte("group-1"), nil)
	require.NoError(t, err)

	src.sub <- Item{OriginatorNodeID: 1, OriginatorSequence: 5}

	item := recvItem(t, sub.Items())
	assert.Equal(t, uint64(5), item.OriginatorSequence)
}

func TestSubscribeStopsDeliveringAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{sub: make(chan Item, 4)}
	sub, err := Subscribe(ctx, src, []byte("group-1"), nil)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub.Items():
		assert.False(t, ok, "the output channel should close once the pump observes cancellation")
	case <-time.After(time.Second):
		t.Fatal("subscription did not close its output channel after cancellation")
	}
}
