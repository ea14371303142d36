package ratelimit

import "time"

// PeriodKind is a quota accounting interval with a deterministic UTC reset
// boundary: daily at 00:00, weekly at Sunday 00:00, monthly on the 1st.
type PeriodKind string

const (
	PeriodDay   PeriodKind = "day"
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
)

// Valid reports whether the period kind is known.
func (p PeriodKind) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return true
	}
	return false
}

// Start returns the period boundary containing now. Boundaries are computed
// from wall-clock time so correctness never depends on cleanup timing.
func (p PeriodKind) Start(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodDay:
		return midnight
	case PeriodWeek:
		return midnight.AddDate(0, 0, -int(midnight.Weekday()))
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return midnight
}

// Next returns the first boundary strictly after now. Monthly periods follow
// the calendar, not a fixed 30 days.
func (p PeriodKind) Next(now time.Time) time.Time {
	start := p.Start(now)
	switch p {
	case PeriodDay:
		return start.AddDate(0, 0, 1)
	case PeriodWeek:
		return start.AddDate(0, 0, 7)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

// windowStart aligns now to the fixed window slice it falls in. Slices are
// non-overlapping and aligned to wall-clock boundaries, so a request only
// ever contributes to the slice it arrived in.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Truncate(window)
}

// windowEnd returns the end of the window slice containing now.
func windowEnd(now time.Time, window time.Duration) time.Time {
	return windowStart(now, window).Add(window)
}
