package ratelimit

import (
	"testing"
	"time"
)

func TestPeriodStart(t *testing.T) {
	t.Parallel()
	// 2024-05-08 is a Wednesday.
	now := time.Date(2024, 5, 8, 15, 42, 7, 123, time.UTC)
	cases := []struct {
		period PeriodKind
		want   time.Time
	}{
		{PeriodDay, time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)},
		{PeriodWeek, time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.period.Start(now); !got.Equal(tc.want) {
			t.Fatalf("%s start = %v, want %v", tc.period, got, tc.want)
		}
	}
}

func TestPeriodStartOnSunday(t *testing.T) {
	t.Parallel()
	// A Sunday is already the start of its week.
	sunday := time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC)
	want := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	if got := PeriodWeek.Start(sunday); !got.Equal(want) {
		t.Fatalf("week start on sunday = %v, want %v", got, want)
	}
}

func TestPeriodNext(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 8, 15, 42, 7, 0, time.UTC)
	cases := []struct {
		period PeriodKind
		want   time.Time
	}{
		{PeriodDay, time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC)},
		{PeriodWeek, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.period.Next(now); !got.Equal(tc.want) {
			t.Fatalf("%s next = %v, want %v", tc.period, got, tc.want)
		}
	}
}

func TestPeriodMonthLengthVaries(t *testing.T) {
	t.Parallel()
	// February in a leap year runs through the 29th.
	feb := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	if got, want := PeriodMonth.Next(feb), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("leap february next = %v, want %v", got, want)
	}
	dec := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	if got, want := PeriodMonth.Next(dec), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("december next = %v, want %v", got, want)
	}
}

func TestPeriodStartNormalizesToUTC(t *testing.T) {
	t.Parallel()
	zone := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2024, 5, 8, 2, 0, 0, 0, zone) // 2024-05-07 21:00 UTC
	want := time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)
	if got := PeriodDay.Start(local); !got.Equal(want) {
		t.Fatalf("day start = %v, want %v", got, want)
	}
}

func TestPeriodValid(t *testing.T) {
	t.Parallel()
	for _, p := range []PeriodKind{PeriodDay, PeriodWeek, PeriodMonth} {
		if !p.Valid() {
			t.Fatalf("%s should be valid", p)
		}
	}
	if PeriodKind("fortnight").Valid() {
		t.Fatal("unknown period should be invalid")
	}
}

func TestWindowAlignment(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 8, 15, 42, 37, 500_000_000, time.UTC)
	cases := []struct {
		window    time.Duration
		wantStart time.Time
	}{
		{time.Second, time.Date(2024, 5, 8, 15, 42, 37, 0, time.UTC)},
		{time.Minute, time.Date(2024, 5, 8, 15, 42, 0, 0, time.UTC)},
		{time.Hour, time.Date(2024, 5, 8, 15, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := windowStart(now, tc.window); !got.Equal(tc.wantStart) {
			t.Fatalf("window %v start = %v, want %v", tc.window, got, tc.wantStart)
		}
		if got := windowEnd(now, tc.window); !got.Equal(tc.wantStart.Add(tc.window)) {
			t.Fatalf("window %v end = %v, want %v", tc.window, got, tc.wantStart.Add(tc.window))
		}
	}
}
