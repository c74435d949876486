package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EndpointClass selects which ceiling pair applies to a request. The provider
// tracks market data and account calls independently.
type EndpointClass string

const (
	ClassMarket  EndpointClass = "market"
	ClassAccount EndpointClass = "account"
)

// Limits holds one ceiling pair for an endpoint class.
type Limits struct {
	PerSecond int
	PerHour   int
}

// DefaultLimits returns the provider's published rate ceilings:
// 20 req/s and 15,000 req/h for market data, 30 req/s and 30,000 req/h
// for account endpoints.
func DefaultLimits() map[EndpointClass]Limits {
	return map[EndpointClass]Limits{
		ClassMarket:  {PerSecond: 20, PerHour: 15000},
		ClassAccount: {PerSecond: 30, PerHour: 30000},
	}
}

// Rate limit header names reported by the provider.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// quotaSnapshot is the server-reported remaining-quota state for one class.
// It overrides the local estimate when present and more conservative.
type quotaSnapshot struct {
	remaining int
	resetAt   time.Time
	valid     bool
}

type classState struct {
	tracker *Tracker
	quota   quotaSnapshot
}

// Governor gates every outbound request so the effective send rate never
// exceeds the configured ceilings. A single governor instance is shared by
// all executors that should share the ceilings; its state is guarded for
// concurrent callers.
type Governor struct {
	mu      chan struct{} // buffered-1 channel used as a mutex; see Admit
	enforce bool
	classes map[EndpointClass]*classState
	logger  *slog.Logger
	now     func() time.Time
}

// NewGovernor creates a governor with the given ceilings. When enforce is
// false, Admit is a passthrough; this is intended for diagnostic and offline
// use, not sustained production traffic.
func NewGovernor(limits map[EndpointClass]Limits, enforce bool, logger *slog.Logger) *Governor {
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = slog.Default()
	}

	classes := make(map[EndpointClass]*classState, len(limits))
	for class, l := range limits {
		classes[class] = &classState{tracker: NewTracker(l.PerSecond, l.PerHour)}
	}

	mu := make(chan struct{}, 1)
	mu <- struct{}{}

	return &Governor{
		mu:      mu,
		enforce: enforce,
		classes: classes,
		logger:  logger.With("component", "rate_governor"),
		now:     time.Now,
	}
}

// Admit blocks until a request of the given class is admissible, then records
// the admitted call. A caller that cancels mid-wait does not consume a window
// slot. Returns ctx.Err() on cancellation.
func (g *Governor) Admit(ctx context.Context, class EndpointClass) error {
	if !g.enforce {
		return nil
	}

	for {
		select {
		case <-g.mu:
		case <-ctx.Done():
			return ctx.Err()
		}

		st := g.state(class)
		now := g.now()
		wait := st.tracker.TimeUntilAdmissible(now)

		// Server-reported exhaustion wins over the local estimate: the next
		// call waits at least until the reported reset time.
		if st.quota.valid && st.quota.remaining <= 0 {
			until := st.quota.resetAt.Sub(now)
			if until <= 0 {
				st.quota = quotaSnapshot{}
			} else if until > wait {
				wait = until
			}
		}

		if wait <= 0 {
			st.tracker.Observe(now)
			if st.quota.valid && st.quota.remaining > 0 {
				st.quota.remaining--
			}
			g.mu <- struct{}{}
			return nil
		}

		g.mu <- struct{}{}

		g.logger.Debug("admission delayed",
			"class", string(class),
			"wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reconcile updates the local estimate from the response headers of a
// completed call. If the server reports fewer remaining calls than the local
// tracker implies, the local window is tightened to match; the absence of
// either header leaves the local estimate authoritative.
func (g *Governor) Reconcile(class EndpointClass, header http.Header) {
	remainingStr := header.Get(HeaderRemaining)
	resetStr := header.Get(HeaderReset)
	if remainingStr == "" || resetStr == "" {
		return
	}

	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	resetAt, ok := parseResetTime(resetStr)
	if !ok {
		return
	}

	<-g.mu
	defer func() { g.mu <- struct{}{} }()

	st := g.state(class)
	now := g.now()
	local := st.tracker.SecondRemaining(now)
	if remaining < local || remaining <= 0 {
		st.quota = quotaSnapshot{remaining: remaining, resetAt: resetAt, valid: true}
		st.tracker.TightenSecond(remaining, resetAt, now)
		g.logger.Debug("tightened local estimate from server quota",
			"class", string(class),
			"remaining", remaining,
			"reset_at", resetAt)
	}
}

// state returns the tracked state for a class, falling back to the market
// class for unknown values so unclassified endpoints share the tighter
// ceiling pair.
func (g *Governor) state(class EndpointClass) *classState {
	if st, ok := g.classes[class]; ok {
		return st
	}
	return g.classes[ClassMarket]
}

// parseResetTime accepts the reset header as epoch seconds (integer or
// fractional) or as an RFC 3339 timestamp.
func parseResetTime(s string) (time.Time, bool) {
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// ClassifyEndpoint maps an API path to its rate limit class. Market data and
// symbol endpoints share the market ceilings; everything else, including the
// time endpoint, counts against the account ceilings.
func ClassifyEndpoint(path string) EndpointClass {
	p := strings.TrimPrefix(path, "/")
	if strings.HasPrefix(p, "v1/markets") || strings.HasPrefix(p, "v1/symbols") {
		return ClassMarket
	}
	return ClassAccount
}
