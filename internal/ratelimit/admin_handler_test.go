package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type adminFixture struct {
	admin *AdminHandler
	store *MemoryStore
	cache *RuleCache
	clock *testClock
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	clk := newTestClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk.Now)
	cache := NewRuleCache(store, time.Hour, clk.Now, NopLogger{})
	recorder := NewViolationRecorder(store, NopMetrics{}, NopLogger{}, clk.Now)
	cleaner := NewCleanupScheduler(store, store, store, DefaultCleanupOptions(), NopMetrics{}, NopLogger{}, clk.Now)
	admin := NewAdminHandler(store, cache, recorder, store, cleaner, NopLogger{}, clk.Now)
	return &adminFixture{admin: admin, store: store, cache: cache, clock: clk}
}

func validRule() *Rule {
	return &Rule{
		SystemID:     "payments",
		Name:         "ip-per-minute",
		Scope:        ScopeIP,
		ScopeValue:   MatchAny(),
		ResourceType: MatchAny(),
		LimitType:    LimitPerMinute,
		LimitValue:   10,
		Priority:     1,
		Enabled:      true,
	}
}

func TestAdminRuleLifecycle(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	created, err := f.admin.CreateRule(ctx, validRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("create did not assign an id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("timestamps unset: %+v", created)
	}

	got, err := f.admin.GetRule(ctx, "payments", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "ip-per-minute" {
		t.Fatalf("get returned %+v", got)
	}

	got.LimitValue = 20
	got.Enabled = false
	updated, err := f.admin.UpdateRule(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.LimitValue != 20 || updated.Enabled {
		t.Fatalf("update returned %+v", updated)
	}

	rules, err := f.admin.ListRules(ctx, "payments")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("list returned %d rules", len(rules))
	}

	if err := f.admin.DeleteRule(ctx, "payments", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.admin.GetRule(ctx, "payments", created.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestAdminRuleValidation(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"missing system", func(r *Rule) { r.SystemID = "" }},
		{"bad scope", func(r *Rule) { r.Scope = ScopeKind("galaxy") }},
		{"bad limit type", func(r *Rule) { r.LimitType = LimitType("requests_per_eon") }},
		{"negative limit", func(r *Rule) { r.LimitValue = -1 }},
		{"negative priority", func(r *Rule) { r.Priority = -1 }},
		{"unset scope predicate", func(r *Rule) { r.ScopeValue = Match{} }},
		{"unset resource predicate", func(r *Rule) { r.ResourceType = Match{} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rule := validRule()
			tc.mutate(rule)
			if _, err := f.admin.CreateRule(ctx, rule); CodeOf(err) != CodeInvalidRule {
				t.Fatalf("err = %v, want %s", err, CodeInvalidRule)
			}
		})
	}

	if _, err := f.admin.CreateRule(ctx, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil rule: %v", err)
	}
	if _, err := f.admin.UpdateRule(ctx, validRule()); !errors.Is(err, ErrInvalidInput) {
		t.Fatal("update without id must be rejected")
	}
	if err := f.admin.DeleteRule(ctx, "", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatal("delete without system must be rejected")
	}
}

func TestAdminZeroLimitRuleIsValid(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	rule := validRule()
	rule.LimitValue = 0 // explicit block rule
	if _, err := f.admin.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("zero limit rule: %v", err)
	}
}

func TestAdminMutationsInvalidateRuleCache(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	created, err := f.admin.CreateRule(ctx, validRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rules, err := f.cache.Rules(ctx, "payments"); err != nil || len(rules) != 1 {
		t.Fatalf("warm cache: rules=%d err=%v", len(rules), err)
	}

	created.LimitValue = 99
	if _, err := f.admin.UpdateRule(ctx, created); err != nil {
		t.Fatalf("update: %v", err)
	}
	rules, err := f.cache.Rules(ctx, "payments")
	if err != nil {
		t.Fatalf("rules after update: %v", err)
	}
	if rules[0].LimitValue != 99 {
		t.Fatalf("cache served a stale rule after update: %+v", rules[0])
	}

	if err := f.admin.DeleteRule(ctx, "payments", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rules, err = f.cache.Rules(ctx, "payments")
	if err != nil {
		t.Fatalf("rules after delete: %v", err)
	}
	if len(rules) != 0 {
		t.Fatal("cache served a deleted rule")
	}
}

func TestAdminViolationQueries(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()
	rec := NewViolationRecorder(f.store, NopMetrics{}, NopLogger{}, f.clock.Now)

	rec.Record(ctx, violationRule(), checkReq("10.0.0.1"), 5, true)
	f.clock.Advance(48 * time.Hour)
	rec.Record(ctx, violationRule(), checkReq("10.0.0.2"), 5, true)

	got, err := f.admin.ListViolations(ctx, "payments", 24*time.Hour)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ScopeValue != "10.0.0.2" {
		t.Fatalf("lookback window returned %+v", got)
	}

	stats, err := f.admin.ViolationStats(ctx, "payments")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("total = %d, want 2", stats.Total)
	}

	if _, err := f.admin.ListViolations(ctx, "payments", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero lookback: %v", err)
	}
	if _, err := f.admin.ViolationStats(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty system: %v", err)
	}
}

func TestAdminCleanup(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	key := CounterKey{RuleID: 1, SystemID: "payments", Scope: ScopeIP, ScopeValue: "10.0.0.1"}
	if _, err := f.store.Increment(ctx, key, time.Minute, f.clock.Now()); err != nil {
		t.Fatalf("increment: %v", err)
	}
	f.clock.Advance(72 * time.Hour)

	deleted, err := f.admin.Cleanup(ctx, CleanupBuckets, 2)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := f.admin.Cleanup(ctx, CleanupBuckets, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero retention: %v", err)
	}
}

func TestAdminSignalIngestion(t *testing.T) {
	t.Parallel()
	f := newAdminFixture(t)
	ctx := context.Background()

	if err := f.admin.RecordLoadSample(ctx, &LoadSample{CPUPercent: 50, MemoryPercent: 30}); err != nil {
		t.Fatalf("record sample: %v", err)
	}
	sample, err := f.store.LatestLoadSample(ctx, time.Minute, f.clock.Now())
	if err != nil {
		t.Fatalf("latest sample: %v", err)
	}
	if sample == nil || !sample.SampledAt.Equal(f.clock.Now()) {
		t.Fatalf("sample timestamp not defaulted: %+v", sample)
	}

	if err := f.admin.SetReputation(ctx, &ReputationScore{Scope: ScopeUser, ScopeValue: "u-1", Score: 80}); err != nil {
		t.Fatalf("set reputation: %v", err)
	}
	rep, err := f.store.GetReputation(ctx, ScopeUser, "u-1")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if rep == nil || rep.Score != 80 || rep.UpdatedAt.IsZero() {
		t.Fatalf("reputation misrecorded: %+v", rep)
	}

	if err := f.admin.SetReputation(ctx, &ReputationScore{Scope: ScopeUser, Score: 80}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing scope value: %v", err)
	}
	if err := f.admin.RecordLoadSample(ctx, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil sample: %v", err)
	}
}
