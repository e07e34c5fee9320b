// Package stream implements the streaming/gap-detection façade (§4.9,
// spec component I): a subscription layer over the backend's envelope
// stream that notices when a node's sequence skips ahead and issues a
// catch-up query to fill the hole before delivering anything past it.
package stream

import "github.com/xmtp-go/libxmtp-core/envelope"

// GapDetector wraps a Cursor, flagging originator/sequence pairs that
// arrive out of order (§4.9 "a skipped cursor triggers a catch-up
// query").
type GapDetector struct {
	cursor *envelope.Cursor
}

// NewGapDetector constructs a detector seeded from a persisted cursor (or
// an empty one if none was stored yet).
func NewGapDetector(cursor *envelope.Cursor) *GapDetector {
	if cursor == nil {
		cursor = envelope.NewCursor()
	}
	return &GapDetector{cursor: cursor}
}

// Observe records having received sequence seq from node, returning true
// if it represents a gap that must be filled before advancing the
// cursor past it.
func (d *GapDetector) Observe(node uint32, seq uint64) (gap bool) {
	gap = d.cursor.HasGap(node, seq)
	if !gap {
		d.cursor.Advance(node, seq)
	}
	return gap
}

// Resolve advances the cursor to seq once a catch-up query has filled
// the gap up to and including it.
func (d *GapDetector) Resolve(node uint32, seq uint64) {
	d.cursor.Advance(node, seq)
}

// Cursor returns the underlying cursor, for persistence.
func (d *GapDetector) Cursor() *envelope.Cursor {
	return d.cursor
}
