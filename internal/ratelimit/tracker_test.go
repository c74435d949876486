package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAdmitsUpToSecondLimit(t *testing.T) {
	tr := NewTracker(3, 100)
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.Zero(t, tr.TimeUntilAdmissible(now), "call %d should be admissible", i)
		tr.Observe(now)
	}

	wait := tr.TimeUntilAdmissible(now)
	assert.Equal(t, time.Second, wait)
}

func TestTrackerSecondWindowRollsOver(t *testing.T) {
	tr := NewTracker(2, 100)
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tr.Observe(now)
	tr.Observe(now)
	require.NotZero(t, tr.TimeUntilAdmissible(now))

	later := now.Add(time.Second)
	assert.Zero(t, tr.TimeUntilAdmissible(later))
	assert.Equal(t, 2, tr.SecondRemaining(later))
}

func TestTrackerHourWindowConstrains(t *testing.T) {
	tr := NewTracker(1000, 5)
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tr.Observe(now.Add(time.Duration(i) * 2 * time.Second))
	}

	// Second window has rolled but the hour window is saturated.
	at := now.Add(30 * time.Second)
	wait := tr.TimeUntilAdmissible(at)
	assert.Equal(t, time.Hour-30*time.Second, wait)
}

func TestTrackerMostConstrainingWindowWins(t *testing.T) {
	tr := NewTracker(2, 2)
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	tr.Observe(now)
	tr.Observe(now)

	// Both windows are full; the hour window's reset is further out.
	wait := tr.TimeUntilAdmissible(now.Add(500 * time.Millisecond))
	assert.Equal(t, time.Hour-500*time.Millisecond, wait)
}

func TestTightenSecondOverwritesLocalCount(t *testing.T) {
	tr := NewTracker(20, 15000)
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tr.Observe(now)
	require.Equal(t, 19, tr.SecondRemaining(now))

	resetAt := now.Add(800 * time.Millisecond)
	tr.TightenSecond(2, resetAt, now)

	assert.Equal(t, 2, tr.SecondRemaining(now))
	assert.Zero(t, tr.TimeUntilAdmissible(now))

	tr.Observe(now)
	tr.Observe(now)
	assert.Equal(t, 800*time.Millisecond, tr.TimeUntilAdmissible(now))
}

func TestTightenSecondToZeroBlocksUntilReset(t *testing.T) {
	tr := NewTracker(20, 15000)
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	resetAt := now.Add(600 * time.Millisecond)
	tr.TightenSecond(0, resetAt, now)

	assert.Equal(t, 600*time.Millisecond, tr.TimeUntilAdmissible(now))
	assert.Zero(t, tr.TimeUntilAdmissible(resetAt))
}
