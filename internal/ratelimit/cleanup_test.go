package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newCleanupFixture(t *testing.T) (*CleanupScheduler, *MemoryStore, *testClock) {
	t.Helper()
	clk := newTestClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk.Now)
	sched := NewCleanupScheduler(store, store, store, DefaultCleanupOptions(), NopMetrics{}, NopLogger{}, clk.Now)
	return sched, store, clk
}

func TestCleanupRunBuckets(t *testing.T) {
	t.Parallel()
	sched, store, clk := newCleanupFixture(t)
	ctx := context.Background()

	key := CounterKey{RuleID: 1, SystemID: "payments", Scope: ScopeIP, ScopeValue: "10.0.0.1"}
	if _, err := store.Increment(ctx, key, time.Minute, clk.Now()); err != nil {
		t.Fatalf("increment: %v", err)
	}
	clk.Advance(2 * time.Hour)
	if _, err := store.Increment(ctx, key, time.Minute, clk.Now()); err != nil {
		t.Fatalf("increment: %v", err)
	}

	deleted, err := sched.Run(ctx, CleanupBuckets, time.Hour)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	// The live bucket survives.
	count, err := store.CurrentCount(ctx, key, time.Minute, clk.Now())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("live bucket count = %d, want 1", count)
	}
}

func TestCleanupRunViolations(t *testing.T) {
	t.Parallel()
	sched, store, clk := newCleanupFixture(t)
	ctx := context.Background()
	rec := NewViolationRecorder(store, NopMetrics{}, NopLogger{}, clk.Now)

	rec.Record(ctx, violationRule(), checkReq("10.0.0.1"), 5, true)
	clk.Advance(48 * time.Hour)
	rec.Record(ctx, violationRule(), checkReq("10.0.0.2"), 5, true)

	deleted, err := sched.Run(ctx, CleanupViolations, 24*time.Hour)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	left, err := store.ListViolations(ctx, "payments", time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].ScopeValue != "10.0.0.2" {
		t.Fatalf("wrong violations survived: %+v", left)
	}
}

func TestCleanupRunMetrics(t *testing.T) {
	t.Parallel()
	sched, store, clk := newCleanupFixture(t)
	ctx := context.Background()

	if err := store.RecordDecision(ctx, "payments", ScopeIP, "10.0.0.1", true, clk.Now()); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	clk.Advance(100 * 24 * time.Hour)
	if err := store.RecordDecision(ctx, "payments", ScopeIP, "10.0.0.1", false, clk.Now()); err != nil {
		t.Fatalf("record decision: %v", err)
	}

	deleted, err := sched.Run(ctx, CleanupMetrics, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

func TestCleanupRunValidation(t *testing.T) {
	t.Parallel()
	sched, _, _ := newCleanupFixture(t)
	ctx := context.Background()

	if _, err := sched.Run(ctx, CleanupKind("everything"), time.Hour); CodeOf(err) != CodeInvalidInput {
		t.Fatalf("unknown kind: err=%v", err)
	}
	if _, err := sched.Run(ctx, CleanupBuckets, 0); CodeOf(err) != CodeInvalidInput {
		t.Fatalf("zero retention: err=%v", err)
	}
	if _, err := sched.Run(ctx, CleanupBuckets, -time.Hour); CodeOf(err) != CodeInvalidInput {
		t.Fatalf("negative retention: err=%v", err)
	}
}

func TestCleanupKindValid(t *testing.T) {
	t.Parallel()
	for _, k := range []CleanupKind{CleanupBuckets, CleanupViolations, CleanupMetrics} {
		if !k.Valid() {
			t.Fatalf("%s should be valid", k)
		}
	}
	if CleanupKind("rules").Valid() {
		t.Fatal("unknown kind should be invalid")
	}
}

func TestCleanupSchedulerStartStop(t *testing.T) {
	t.Parallel()
	clk := newTestClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk.Now)
	opts := CleanupOptions{
		BucketInterval:     time.Millisecond,
		BucketRetention:    time.Hour,
		ViolationInterval:  time.Millisecond,
		ViolationRetention: time.Hour,
		MetricInterval:     time.Millisecond,
		MetricRetention:    time.Hour,
	}
	sched := NewCleanupScheduler(store, store, store, opts, NopMetrics{}, NopLogger{}, clk.Now)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer close(done)
		_ = sched.Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	sched.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
