package gaps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerage-tools/chronos/internal/models"
	"github.com/brokerage-tools/chronos/internal/storage"
)

// stubCoverage serves canned coverage bounds.
type stubCoverage struct {
	bounds *storage.CoverageBounds
	calls  int
}

func (s *stubCoverage) Coverage(ctx context.Context, key models.SeriesKey) (*storage.CoverageBounds, error) {
	s.calls++
	return s.bounds, nil
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func dailyKey() models.SeriesKey {
	return models.SeriesKey{Symbol: "AAPL", Interval: models.OneDay}
}

func TestPlanUncachedSeriesFetchesWholeRange(t *testing.T) {
	p := NewPlanner(&stubCoverage{bounds: &storage.CoverageBounds{}}, nil)

	plan, err := p.Plan(context.Background(), dailyKey(), day(1), day(10))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, Range{Start: day(1), End: day(10)}, plan[0])
}

func TestPlanFullyCoveredRangeIsEmpty(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(1), Last: day(9), Count: 9}}
	p := NewPlanner(cov, nil)

	// Last bar covers [Mar 9, Mar 10), so [Mar 2, Mar 10) is fully cached.
	plan, err := p.Plan(context.Background(), dailyKey(), day(2), day(10))
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanFrontGap(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(5), Last: day(9), Count: 5}}
	p := NewPlanner(cov, nil)

	plan, err := p.Plan(context.Background(), dailyKey(), day(1), day(10))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, Range{Start: day(1), End: day(5)}, plan[0])
}

func TestPlanTailGap(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(1), Last: day(5), Count: 5}}
	p := NewPlanner(cov, nil)

	plan, err := p.Plan(context.Background(), dailyKey(), day(1), day(10))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, Range{Start: day(6), End: day(10)}, plan[0])
}

func TestPlanBothGapsInOrder(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(4), Last: day(6), Count: 3}}
	p := NewPlanner(cov, nil)

	plan, err := p.Plan(context.Background(), dailyKey(), day(1), day(12))
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, Range{Start: day(1), End: day(4)}, plan[0])
	assert.Equal(t, Range{Start: day(7), End: day(12)}, plan[1])
}

func TestPlanRequestInsideCachedRange(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(1), Last: day(20), Count: 20}}
	p := NewPlanner(cov, nil)

	plan, err := p.Plan(context.Background(), dailyKey(), day(5), day(10))
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanRequestEntirelyBeforeCacheClosesTheHole(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(10), Last: day(20), Count: 11}}
	p := NewPlanner(cov, nil)

	// The fetch must run all the way to the cached range: stopping at the
	// requested end would leave [day 5, day 10) inside the new bounds with
	// nothing cached for it.
	plan, err := p.Plan(context.Background(), dailyKey(), day(1), day(5))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, Range{Start: day(1), End: day(10)}, plan[0])
}

func TestPlanEqualBoundsSkipsStore(t *testing.T) {
	cov := &stubCoverage{bounds: &storage.CoverageBounds{First: day(1), Last: day(5), Count: 5}}
	p := NewPlanner(cov, nil)

	plan, err := p.Plan(context.Background(), dailyKey(), day(3), day(3))
	require.NoError(t, err)
	assert.Empty(t, plan)
	assert.Zero(t, cov.calls)
}

func TestPlanValidatesInput(t *testing.T) {
	p := NewPlanner(&stubCoverage{bounds: &storage.CoverageBounds{}}, nil)

	_, err := p.Plan(context.Background(), dailyKey(), day(10), day(1))
	assert.Error(t, err)

	_, err = p.Plan(context.Background(), dailyKey(), time.Time{}, day(1))
	assert.Error(t, err)

	badKey := models.SeriesKey{Symbol: "AAPL", Interval: "Fortnightly"}
	_, err = p.Plan(context.Background(), badKey, day(1), day(2))
	assert.Error(t, err)
}

func TestSplitByWindow(t *testing.T) {
	// 5000 minutes at OneMinute splits into 2000/2000/1000.
	start := day(1)
	end := start.Add(5000 * time.Minute)
	chunks := SplitByWindow([]Range{{Start: start, End: end}}, models.OneMinute)

	require.Len(t, chunks, 3)
	assert.Equal(t, start, chunks[0].Start)
	assert.Equal(t, start.Add(2000*time.Minute), chunks[0].End)
	assert.Equal(t, chunks[0].End, chunks[1].Start)
	assert.Equal(t, end, chunks[2].End)
	assert.Equal(t, 1000*time.Minute, chunks[2].Duration())
}

func TestSplitByWindowSmallRangeUnchanged(t *testing.T) {
	r := Range{Start: day(1), End: day(2)}
	chunks := SplitByWindow([]Range{r}, models.OneDay)
	require.Len(t, chunks, 1)
	assert.Equal(t, r, chunks[0])
}
