package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow64ElapsesByTickCount(t *testing.T) {
	start := time.Now().Add(-1 * time.Second)
	c := New(start)
	ticks := c.Now64()
	// ~1 second of elapsed ticks at 100us resolution is ~10000, allow slack.
	assert.InDelta(t, 10000, ticks, 500)
}

func TestNow32TruncatesNow64(t *testing.T) {
	start := time.Now().Add(-1 * time.Second)
	c := New(start)
	assert.Equal(t, uint32(c.Now64()), c.Now32())
}

func TestStartReturnsEpoch(t *testing.T) {
	start := time.Now()
	c := New(start)
	assert.Equal(t, start, c.Start())
}
