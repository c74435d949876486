package models

import (
	"fmt"
	"time"
)

// Interval is the granularity of a candle series, using the provider's
// historical data granularity names.
type Interval string

const (
	OneMinute      Interval = "OneMinute"
	TwoMinutes     Interval = "TwoMinutes"
	ThreeMinutes   Interval = "ThreeMinutes"
	FourMinutes    Interval = "FourMinutes"
	FiveMinutes    Interval = "FiveMinutes"
	TenMinutes     Interval = "TenMinutes"
	FifteenMinutes Interval = "FifteenMinutes"
	TwentyMinutes  Interval = "TwentyMinutes"
	HalfHour       Interval = "HalfHour"
	OneHour        Interval = "OneHour"
	TwoHours       Interval = "TwoHours"
	FourHours      Interval = "FourHours"
	OneDay         Interval = "OneDay"
	OneWeek        Interval = "OneWeek"
	OneMonth       Interval = "OneMonth"
	OneYear        Interval = "OneYear"
)

// intervalDurations maps each interval to its nominal bar duration.
// OneMonth and OneYear use calendar approximations; they are only used for
// window arithmetic, never to reconstruct provider timestamps.
var intervalDurations = map[Interval]time.Duration{
	OneMinute:      time.Minute,
	TwoMinutes:     2 * time.Minute,
	ThreeMinutes:   3 * time.Minute,
	FourMinutes:    4 * time.Minute,
	FiveMinutes:    5 * time.Minute,
	TenMinutes:     10 * time.Minute,
	FifteenMinutes: 15 * time.Minute,
	TwentyMinutes:  20 * time.Minute,
	HalfHour:       30 * time.Minute,
	OneHour:        time.Hour,
	TwoHours:       2 * time.Hour,
	FourHours:      4 * time.Hour,
	OneDay:         24 * time.Hour,
	OneWeek:        7 * 24 * time.Hour,
	OneMonth:       30 * 24 * time.Hour,
	OneYear:        365 * 24 * time.Hour,
}

// maxCandlesPerRequest is the largest number of bars the provider returns in a
// single candles call. Requests spanning more bars are split into chunks.
const maxCandlesPerRequest = 2000

// Valid reports whether the interval is a known granularity.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns the nominal duration of one bar at this interval.
// Returns zero for unknown intervals.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// MaxRequestWindow returns the widest time range a single provider call may
// cover at this interval.
func (i Interval) MaxRequestWindow() time.Duration {
	return time.Duration(maxCandlesPerRequest) * i.Duration()
}

// String implements fmt.Stringer.
func (i Interval) String() string {
	return string(i)
}

// ParseInterval converts a granularity name into an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !iv.Valid() {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}
