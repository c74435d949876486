// Package ratelimit implements admission control for the brokerage API's
// dual-window rate ceilings. Each endpoint class carries an independent
// per-second and per-hour window; a governor gates outbound requests against
// both and reconciles the local estimate with server-reported quota headers.
package ratelimit

import (
	"fmt"
	"time"
)

// countingWindow is one rolling window: a request count inside a fixed span
// starting at windowStart. The window resets once the span has elapsed.
type countingWindow struct {
	limit       int
	span        time.Duration
	count       int
	windowStart time.Time
}

// roll resets the window if its span has elapsed as of now.
func (w *countingWindow) roll(now time.Time) {
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= w.span {
		w.count = 0
		w.windowStart = now
	}
}

// timeUntilReset returns how long until the window rolls over, given now.
func (w *countingWindow) timeUntilReset(now time.Time) time.Duration {
	if w.windowStart.IsZero() {
		return 0
	}
	remaining := w.span - now.Sub(w.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Tracker tracks request counts inside rolling per-second and per-hour
// windows for one endpoint class. It is pure bookkeeping with no I/O;
// callers serialize access (the Governor holds the lock).
type Tracker struct {
	windows []*countingWindow
}

// NewTracker creates a tracker with the given per-second and per-hour limits.
func NewTracker(perSecond, perHour int) *Tracker {
	return &Tracker{
		windows: []*countingWindow{
			{limit: perSecond, span: time.Second},
			{limit: perHour, span: time.Hour},
		},
	}
}

// Observe records one admitted request at now, rolling over any window whose
// span has elapsed before incrementing.
func (t *Tracker) Observe(now time.Time) {
	for _, w := range t.windows {
		w.roll(now)
		w.count++
	}
}

// TimeUntilAdmissible returns zero when every window has headroom, otherwise
// the minimum time until the most-constraining window rolls over.
func (t *Tracker) TimeUntilAdmissible(now time.Time) time.Duration {
	var wait time.Duration
	for _, w := range t.windows {
		w.roll(now)
		if w.count < w.limit {
			continue
		}
		if until := w.timeUntilReset(now); until > wait {
			wait = until
		}
	}
	return wait
}

// SecondRemaining returns the local estimate of calls left in the current
// per-second window. Used by the governor to compare against the
// server-reported remaining quota.
func (t *Tracker) SecondRemaining(now time.Time) int {
	w := t.windows[0]
	w.roll(now)
	remaining := w.limit - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TightenSecond overwrites the per-second window so that it reports the given
// remaining count until resetAt. Server-reported quota is ground truth; the
// local tracker is optimistic until corrected.
func (t *Tracker) TightenSecond(remaining int, resetAt, now time.Time) {
	w := t.windows[0]
	w.roll(now)
	count := w.limit - remaining
	if count < 0 {
		count = 0
	}
	w.count = count
	if !resetAt.IsZero() {
		w.windowStart = resetAt.Add(-w.span)
	}
}

// String implements fmt.Stringer for debug logging.
func (t *Tracker) String() string {
	s, h := t.windows[0], t.windows[1]
	return fmt.Sprintf("Tracker{second: %d/%d, hour: %d/%d}", s.count, s.limit, h.count, h.limit)
}
