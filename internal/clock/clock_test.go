package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/execution-hub/serial-reservation/internal/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	now := clock.Real{}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewManual(start)
	assert.Equal(t, start, c.Now())

	got := c.Advance(15 * time.Minute)
	assert.Equal(t, start.Add(15*time.Minute), got)
	assert.Equal(t, got, c.Now())

	c.Advance(-time.Hour)
	assert.Equal(t, got, c.Now(), "negative advance is ignored")

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
