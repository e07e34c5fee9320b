package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorAdvanceTracksHighWaterMark(t *testing.T) {
	c := NewCursor()
	c.Advance(1, 5)
	c.Advance(1, 3) // lower sequence must not regress the position
	assert.Equal(t, uint64(5), c.Position(1))
}

func TestCursorPositionDefaultsToZeroForUnknownNode(t *testing.T) {
	c := NewCursor()
	assert.Equal(t, uint64(0), c.Position(7))
}

func TestCursorAdvanceOnNilPositionsInitializes(t *testing.T) {
	c := &Cursor{}
	c.Advance(2, 1)
	assert.Equal(t, uint64(1), c.Position(2))
}

// §4.9 "a skipped cursor triggers a catch-up query".
func TestCursorHasGapDetectsSkippedSequence(t *testing.T) {
	c := NewCursor()
	c.Advance(1, 5)
	assert.False(t, c.HasGap(1, 6), "the immediate next sequence is not a gap")
	assert.True(t, c.HasGap(1, 8), "skipping ahead by more than one is a gap")
}

func TestCursorHasGapOnUnseenNodeTreatsZeroAsBaseline(t *testing.T) {
	c := NewCursor()
	assert.False(t, c.HasGap(9, 1))
	assert.True(t, c.HasGap(9, 2))
}
