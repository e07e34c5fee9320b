package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/xmtp-go/libxmtp-core/sweeper"
)

// SweeperAdapter narrows MessageRepo to the sweeper.Store interface, so
// the sweeper package does not need to depend on store's full Message
// shape.
type SweeperAdapter struct {
	Messages *MessageRepo
}

func (a SweeperAdapter) ExpiredBefore(ctx context.Context, cutoffNs int64) ([]sweeper.Message, error) {
	msgs, err := a.Messages.ExpiredBefore(ctx, cutoffNs)
	if err != nil {
		return nil, err
	}
	out := make([]sweeper.Message, len(msgs))
	for i, m := range msgs {
		out[i] = sweeper.Message{ID: m.ID}
	}
	return out, nil
}

func (a SweeperAdapter) DeleteExpired(ctx context.Context, ids []uuid.UUID) error {
	return a.Messages.DeleteExpired(ctx, ids)
}
