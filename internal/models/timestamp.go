package models

import (
	"fmt"
	"time"
)

// ParseTimestamp parses a request bound supplied as text. The timestamp must
// carry an explicit UTC offset; zone-less values are rejected rather than
// assumed UTC, which would make cached and requested bounds incomparable.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "timestamp",
			Message: fmt.Sprintf("timestamp %q must be RFC 3339 with an explicit timezone offset: %v", s, err),
		}
	}
	return t.UTC(), nil
}

// ValidateRange checks that both request bounds are usable: non-zero and
// correctly ordered. Bounds are compared after normalization to UTC.
func ValidateRange(start, end time.Time) error {
	if start.IsZero() {
		return &ValidationError{Field: "start", Message: "start timestamp cannot be zero"}
	}
	if end.IsZero() {
		return &ValidationError{Field: "end", Message: "end timestamp cannot be zero"}
	}
	if end.Before(start) {
		return &ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)),
		}
	}
	return nil
}
