package switchpoint

import (
	"fmt"
	"time"
)

// CountSeries is the empirical input to rate estimation and changepoint
// search: one non-negative event count per calendar day, chronologically
// ordered and contiguous over the observed range. Days with no qualifying
// events carry an explicit zero.
//
// Start anchors Counts[0] to a calendar day and may be the zero time when
// the caller only has indices. All detection semantics depend on index
// order alone, never on the dates.
type CountSeries struct {
	Start  time.Time `json:"start,omitempty"`
	Counts []int     `json:"counts"`
}

// NewCountSeries builds a validated series. The counts slice is used as-is,
// not copied; callers must not mutate it afterwards.
func NewCountSeries(start time.Time, counts []int) (CountSeries, error) {
	s := CountSeries{Start: start, Counts: counts}
	if err := s.Validate(); err != nil {
		return CountSeries{}, err
	}
	return s, nil
}

// Validate checks that every entry is a non-negative count.
func (s CountSeries) Validate() error {
	for i, c := range s.Counts {
		if c < 0 {
			return newInputError("series", fmt.Sprintf("negative count %d at index %d", c, i))
		}
	}
	return nil
}

// Len returns the number of observed days.
func (s CountSeries) Len() int {
	return len(s.Counts)
}

// Total returns the total event count over the series.
func (s CountSeries) Total() int64 {
	var total int64
	for _, c := range s.Counts {
		total += int64(c)
	}
	return total
}

// Date returns the calendar day of index i, or the zero time when the
// series has no start date.
func (s CountSeries) Date(i int) time.Time {
	if s.Start.IsZero() {
		return time.Time{}
	}
	return s.Start.AddDate(0, 0, i)
}

// Split partitions the series at tau into the pre-segment [0:tau) and the
// post-segment [tau:n). Both segments must be non-empty, so tau ranges over
// 1..n-1. The returned slices view the original backing array.
func (s CountSeries) Split(tau int) (pre, post []int, err error) {
	n := len(s.Counts)
	if n < 2 {
		return nil, nil, newInputError("split", fmt.Sprintf("series of length %d has no valid split", n))
	}
	if tau < 1 || tau > n-1 {
		return nil, nil, newInputError("split", fmt.Sprintf("split index %d outside 1..%d", tau, n-1))
	}
	return s.Counts[:tau], s.Counts[tau:], nil
}

// String returns a short human-readable summary.
func (s CountSeries) String() string {
	if s.Start.IsZero() {
		return fmt.Sprintf("CountSeries{n=%d, total=%d}", s.Len(), s.Total())
	}
	return fmt.Sprintf("CountSeries{n=%d, total=%d, start=%s}", s.Len(), s.Total(), s.Start.Format("2006-01-02"))
}
