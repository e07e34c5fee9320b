package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xmtp-go/libxmtp-core/envelope"
)

// Item is one delivered, gap-checked envelope.
type Item struct {
	GroupID            []byte
	OriginatorNodeID   uint32
	OriginatorSequence uint64
	Envelope           *envelope.OriginatorEnvelope
}

// Source is what a Subscription reads from: a live item stream and a
// range query (§6 "SubscribeEnvelopes", "QueryEnvelopes").
// transport.Client does not implement it.
type Source interface {
	Subscribe(ctx context.Context, groupID []byte) (<-chan Item, error)
	QueryRange(ctx context.Context, groupID []byte, node uint32, fromSeq, toSeq uint64) ([]Item, error)
}

// Subscription is a live, gap-healing view over one group's envelope
// stream.
type Subscription struct {
	mu       sync.Mutex
	groupID  []byte
	source   Source
	detector *GapDetector
	out      chan Item
	logger   *logrus.Entry
}

// Subscribe opens a gap-healing subscription to groupID, seeded from a
// persisted cursor.
func Subscribe(ctx context.Context, source Source, groupID []byte, cursor *envelope.Cursor) (*Subscription, error) {
	raw, err := source.Subscribe(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("subscribing to group %x: %w", groupID, err)
	}
	sub := &Subscription{
		groupID:  groupID,
		source:   source,
		detector: NewGapDetector(cursor),
		out:      make(chan Item, 64),
		logger:   logrus.WithFields(logrus.Fields{"package": "stream", "group_id": fmt.Sprintf("%x", groupID)}),
	}
	go sub.pump(ctx, raw)
	return sub, nil
}

// Items returns the channel of gap-healed, in-order items.
func (s *Subscription) Items() <-chan Item {
	return s.out
}

// Cursor returns the subscription's current cursor, for persistence.
func (s *Subscription) Cursor() *envelope.Cursor {
	return s.detector.Cursor()
}

func (s *Subscription) pump(ctx context.Context, raw <-chan Item) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-raw:
			if !ok {
				return
			}
			s.deliver(ctx, item)
		}
	}
}

func (s *Subscription) deliver(ctx context.Context, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detector.Observe(item.OriginatorNodeID, item.OriginatorSequence) {
		s.healGap(ctx, item)
	}
	select {
	case s.out <- item:
	case <-ctx.Done():
	}
}

// healGap fills the missing range with a catch-up query before the
// triggering item is forwarded (§4.9).
func (s *Subscription) healGap(ctx context.Context, item Item) {
	from := s.detector.Cursor().Position(item.OriginatorNodeID) + 1
	to := item.OriginatorSequence - 1
	filled, err := s.source.QueryRange(ctx, s.groupID, item.OriginatorNodeID, from, to)
	if err != nil {
		s.logger.WithError(err).Warn("catch-up query failed, gap remains open")
		return
	}
	for _, f := range filled {
		select {
		case s.out <- f:
		case <-ctx.Done():
			return
		}
		s.detector.Resolve(f.OriginatorNodeID, f.OriginatorSequence)
	}
}
