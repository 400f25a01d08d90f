package switchpoint

import (
	"fmt"
	"time"
)

// Event is a raw timestamped record before aggregation into a CountSeries.
// Count carries pre-aggregated inputs (one remote-write sample can stand
// for many occurrences); zero means a single occurrence. Duration is
// consulted only when the preparation config bounds it.
type Event struct {
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration,omitempty"`
	Count    int           `json:"count,omitempty"`
	Label    string        `json:"label,omitempty"`
}

// maxPrepDays bounds the zero-filled span a preparation pass will build.
const maxPrepDays = 100_000

// PrepConfig controls how raw events become a daily CountSeries.
type PrepConfig struct {
	// Location normalizes event timestamps before day bucketing. When nil,
	// TimeZone is consulted, then UTC.
	Location *time.Location `yaml:"-" json:"-"`

	// TimeZone names the location for file-based configs, e.g.
	// "America/New_York".
	TimeZone string `yaml:"timezone" json:"timezone,omitempty"`

	// MinDuration and MaxDuration drop events with implausible durations.
	// Either bound is inactive at zero.
	MinDuration time.Duration `yaml:"min_duration" json:"min_duration,omitempty"`
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration,omitempty"`

	// Labels restricts preparation to the named labels when non-empty.
	Labels []string `yaml:"labels" json:"labels,omitempty"`

	// From and To clamp the zero-filled span to a window; zero values fall
	// back to the observed bounds. Events outside an active window drop.
	From time.Time `yaml:"from" json:"from,omitempty"`
	To   time.Time `yaml:"to" json:"to,omitempty"`
}

// DefaultPrepConfig returns the default preparation configuration: UTC
// bucketing, no duration bounds, no label or window filtering.
func DefaultPrepConfig() PrepConfig {
	return PrepConfig{}
}

// PrepReport summarizes one preparation pass.
type PrepReport struct {
	Kept    int       `json:"kept"`
	Dropped int       `json:"dropped"`
	Days    int       `json:"days"`
	Start   time.Time `json:"start"`
}

// PrepareSeries turns raw events into a contiguous daily CountSeries:
// timestamps are normalized to the configured location, events failing the
// duration, label, or window filters drop, the rest bucket by calendar day,
// and every day of the span is present with missing days zero-filled.
// At least one event must survive filtering.
func PrepareSeries(events []Event, cfg PrepConfig) (CountSeries, PrepReport, error) {
	loc, err := cfg.location()
	if err != nil {
		return CountSeries{}, PrepReport{}, err
	}

	var labels map[string]bool
	if len(cfg.Labels) > 0 {
		labels = make(map[string]bool, len(cfg.Labels))
		for _, l := range cfg.Labels {
			labels[l] = true
		}
	}

	var windowFrom, windowTo time.Time
	if !cfg.From.IsZero() {
		windowFrom = civilDay(cfg.From.In(loc))
	}
	if !cfg.To.IsZero() {
		windowTo = civilDay(cfg.To.In(loc))
	}
	if !windowFrom.IsZero() && !windowTo.IsZero() && windowTo.Before(windowFrom) {
		return CountSeries{}, PrepReport{}, newInputError("prepare", "window end precedes window start")
	}

	buckets := make(map[time.Time]int64)
	var first, last time.Time
	report := PrepReport{}
	for i, ev := range events {
		if ev.Count < 0 {
			return CountSeries{}, PrepReport{}, newInputError("prepare", fmt.Sprintf("negative count %d at event %d", ev.Count, i))
		}
		if cfg.MinDuration > 0 && ev.Duration < cfg.MinDuration {
			report.Dropped++
			continue
		}
		if cfg.MaxDuration > 0 && ev.Duration > cfg.MaxDuration {
			report.Dropped++
			continue
		}
		if labels != nil && !labels[ev.Label] {
			report.Dropped++
			continue
		}

		day := civilDay(ev.Time.In(loc))
		if !windowFrom.IsZero() && day.Before(windowFrom) {
			report.Dropped++
			continue
		}
		if !windowTo.IsZero() && day.After(windowTo) {
			report.Dropped++
			continue
		}

		n := int64(ev.Count)
		if n == 0 {
			n = 1
		}
		buckets[day] += n
		report.Kept++
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if last.IsZero() || day.After(last) {
			last = day
		}
	}

	if report.Kept == 0 {
		return CountSeries{}, PrepReport{}, newInputError("prepare", "no qualifying events")
	}

	start, end := first, last
	if !windowFrom.IsZero() {
		start = windowFrom
	}
	if !windowTo.IsZero() {
		end = windowTo
	}

	days := daysBetween(start, end) + 1
	if days > maxPrepDays {
		return CountSeries{}, PrepReport{}, newInputError("prepare", fmt.Sprintf("span of %d days exceeds %d", days, maxPrepDays))
	}
	counts := make([]int, days)
	for day, n := range buckets {
		counts[daysBetween(start, day)] = int(n)
	}

	report.Days = days
	report.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	series := CountSeries{Start: report.Start, Counts: counts}
	return series, report, nil
}

func (c PrepConfig) location() (*time.Location, error) {
	if c.Location != nil {
		return c.Location, nil
	}
	if c.TimeZone != "" {
		loc, err := time.LoadLocation(c.TimeZone)
		if err != nil {
			return nil, newInputError("prepare", fmt.Sprintf("unknown timezone %q", c.TimeZone))
		}
		return loc, nil
	}
	return time.UTC, nil
}

// civilDay collapses a zoned instant to its calendar day, keyed at UTC
// midnight so day arithmetic stays DST-free.
func civilDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole days between two UTC midnights.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
