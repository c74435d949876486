// Package gaps plans the minimal provider fetches needed to satisfy a series
// request from the local cache. Series are extended contiguously at the
// edges, so coverage is summarized by its bounds and at most two gaps exist:
// one before the cached range and one after it.
package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brokerage-tools/chronos/internal/models"
	"github.com/brokerage-tools/chronos/internal/storage"
)

// Range is one half-open time range [Start, End) that must be fetched from
// the provider.
type Range struct {
	Start time.Time
	End   time.Time
}

// Duration returns the span of the range.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// CoverageReader is the slice of the storage layer the planner needs.
type CoverageReader interface {
	Coverage(ctx context.Context, key models.SeriesKey) (*storage.CoverageBounds, error)
}

// Planner computes fetch plans against cached coverage.
type Planner struct {
	store  CoverageReader
	logger *slog.Logger
}

// NewPlanner creates a planner over the given store.
func NewPlanner(store CoverageReader, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		store:  store,
		logger: logger.With("component", "gap_planner"),
	}
}

// Plan returns the ranges of [start, end) not covered by the cache, in
// chronological order. An empty plan means the request is fully served
// locally. Bounds must be ordered and non-zero; equal bounds yield an empty
// plan without touching the store.
func (p *Planner) Plan(ctx context.Context, key models.SeriesKey, start, end time.Time) ([]Range, error) {
	if err := models.ValidateRange(start, end); err != nil {
		return nil, err
	}
	if !key.Interval.Valid() {
		return nil, &models.ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", key.Interval)}
	}
	if start.Equal(end) {
		return nil, nil
	}

	bounds, err := p.store.Coverage(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading coverage for %s: %w", key, err)
	}

	if bounds.Empty() {
		p.logger.Debug("series uncached, planning full fetch", "series", key.String(), "start", start, "end", end)
		return []Range{{Start: start, End: end}}, nil
	}

	var plan []Range

	// Front gap: requested data older than the earliest cached bar. The gap
	// always runs all the way to the cached range, even when the request ends
	// before it; stopping short would leave an unfetched hole inside the new
	// coverage bounds, which bounds-only coverage would then report as cached.
	if start.Before(bounds.First) {
		plan = append(plan, Range{Start: start, End: bounds.First})
	}

	// Tail gap: requested data past the end of the last cached bar. The last
	// bar covers [Last, Last+interval), so the gap opens where that bar ends.
	coveredEnd := bounds.Last.Add(key.Interval.Duration())
	if coveredEnd.Before(end) {
		tailStart := coveredEnd
		if start.After(tailStart) {
			tailStart = start
		}
		plan = append(plan, Range{Start: tailStart, End: end})
	}

	p.logger.Debug("planned fetches",
		"series", key.String(),
		"gaps", len(plan),
		"cached_first", bounds.First,
		"cached_last", bounds.Last)
	return plan, nil
}

// SplitByWindow splits each planned range into chunks no wider than the
// interval's single-request window, preserving order.
func SplitByWindow(plan []Range, interval models.Interval) []Range {
	window := interval.MaxRequestWindow()
	if window <= 0 {
		return plan
	}

	var out []Range
	for _, r := range plan {
		for cur := r.Start; cur.Before(r.End); cur = cur.Add(window) {
			chunkEnd := cur.Add(window)
			if chunkEnd.After(r.End) {
				chunkEnd = r.End
			}
			out = append(out, Range{Start: cur, End: chunkEnd})
		}
	}
	return out
}
