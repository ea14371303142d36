package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSQLFixture(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(filepath.Join(t.TempDir(), "quotaguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreRuleRoundTrip(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()

	created, err := store.CreateRule(ctx, &Rule{
		SystemID:     "payments",
		Name:         "exact-ip",
		Scope:        ScopeIP,
		ScopeValue:   MatchExact("10.0.0.1"),
		ResourceType: MatchAny(),
		LimitType:    LimitPerMinute,
		LimitValue:   5,
		Priority:     2,
		Enabled:      true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	got, err := store.GetRule(ctx, "payments", created.ID)
	require.NoError(t, err)
	require.Equal(t, "exact-ip", got.Name)
	require.Equal(t, int64(5), got.LimitValue)

	// The exact predicate and the wildcard survive the null mapping.
	value, ok := got.ScopeValue.Value()
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", value)
	require.True(t, got.ResourceType.IsAny())

	got.LimitValue = 9
	got.Enabled = false
	updated, err := store.UpdateRule(ctx, got)
	require.NoError(t, err)
	require.Equal(t, int64(9), updated.LimitValue)
	require.False(t, updated.Enabled)

	require.NoError(t, store.DeleteRule(ctx, "payments", created.ID))
	_, err = store.GetRule(ctx, "payments", created.ID)
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestSQLStoreRuleSystemIsolation(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()

	created, err := store.CreateRule(ctx, validRule())
	require.NoError(t, err)

	_, err = store.GetRule(ctx, "billing", created.ID)
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.ErrorIs(t, store.DeleteRule(ctx, "billing", created.ID), ErrRuleNotFound)

	rule2 := validRule()
	rule2.ID = created.ID
	rule2.SystemID = "billing"
	_, err = store.UpdateRule(ctx, rule2)
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestSQLStoreListRulesOrdersByPriority(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()

	for _, p := range []int{30, 10, 20} {
		rule := validRule()
		rule.Priority = p
		_, err := store.CreateRule(ctx, rule)
		require.NoError(t, err)
	}

	rules, err := store.ListRules(ctx, "payments")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	require.Equal(t, []int{10, 20, 30}, []int{rules[0].Priority, rules[1].Priority, rules[2].Priority})
}

func TestSQLStoreCounters(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 10, 0, 30, 0, time.UTC)
	key := CounterKey{RuleID: 1, SystemID: "payments", Scope: ScopeIP, ScopeValue: "10.0.0.1"}

	for want := int64(1); want <= 3; want++ {
		count, err := store.Increment(ctx, key, time.Minute, now)
		require.NoError(t, err)
		require.Equal(t, want, count)
	}

	count, err := store.CurrentCount(ctx, key, time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	// The next minute window starts at zero.
	count, err = store.CurrentCount(ctx, key, time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, count)

	deleted, err := store.DeleteExpiredBuckets(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestSQLStoreQuota(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	key := QuotaKey{SystemID: "payments", Scope: ScopeUser, ScopeValue: "u-1"}

	state, err := store.GetQuota(ctx, key, PeriodDay, 100, now)
	require.NoError(t, err)
	require.Zero(t, state.Current)
	require.Equal(t, int64(100), state.Remaining)

	state, err = store.IncrementQuota(ctx, key, PeriodDay, 100, 60, now)
	require.NoError(t, err)
	require.Equal(t, int64(60), state.Current)
	require.Equal(t, int64(40), state.Remaining)

	// The whole over-limit increment is rejected, leaving usage unchanged.
	_, err = store.IncrementQuota(ctx, key, PeriodDay, 100, 50, now)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	state, err = store.GetQuota(ctx, key, PeriodDay, 100, now)
	require.NoError(t, err)
	require.Equal(t, int64(60), state.Current)

	// Filling exactly to the limit is allowed.
	state, err = store.IncrementQuota(ctx, key, PeriodDay, 100, 40, now)
	require.NoError(t, err)
	require.Zero(t, state.Remaining)

	// A new period starts clean.
	nextDay := now.Add(24 * time.Hour)
	state, err = store.IncrementQuota(ctx, key, PeriodDay, 100, 10, nextDay)
	require.NoError(t, err)
	require.Equal(t, int64(10), state.Current)
}

func TestSQLStoreQuotaUncapped(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	key := QuotaKey{SystemID: "payments", Scope: ScopeUser, ScopeValue: "u-1"}

	state, err := store.IncrementQuota(ctx, key, PeriodMonth, -1, 5_000_000, now)
	require.NoError(t, err)
	require.Equal(t, int64(5_000_000), state.Current)
	require.Equal(t, int64(-1), state.Remaining)
}

func TestSQLStoreViolations(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	mk := func(id, scopeValue string, at time.Time) *Violation {
		return &Violation{
			ID:            id,
			SystemID:      "payments",
			RuleID:        1,
			Scope:         ScopeIP,
			ScopeValue:    scopeValue,
			ResourceType:  "checkout",
			ViolatedLimit: 5,
			Blocked:       true,
			RequestPath:   "/v1/charge",
			At:            at,
		}
	}
	require.NoError(t, store.AppendViolation(ctx, mk("v1", "10.0.0.1", base)))
	require.NoError(t, store.AppendViolation(ctx, mk("v2", "10.0.0.1", base.Add(time.Hour))))
	require.NoError(t, store.AppendViolation(ctx, mk("v3", "10.0.0.2", base.Add(2*time.Hour))))

	got, err := store.ListViolations(ctx, "payments", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	require.Equal(t, "v3", got[0].ID)

	stats, err := store.ViolationStats(ctx, "payments")
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Total)
	require.Equal(t, int64(3), stats.ByScope["ip"])
	require.Equal(t, int64(3), stats.ByResource["checkout"])
	require.NotEmpty(t, stats.TopOffenders)
	require.Equal(t, "10.0.0.1", stats.TopOffenders[0].ScopeValue)
	require.Equal(t, int64(2), stats.TopOffenders[0].Count)

	deleted, err := store.DeleteOldViolations(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
}

func TestSQLStoreSignals(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	rep, err := store.GetReputation(ctx, ScopeUser, "u-1")
	require.NoError(t, err)
	require.Nil(t, rep)

	require.NoError(t, store.SetReputation(ctx, &ReputationScore{Scope: ScopeUser, ScopeValue: "u-1", Score: 42, UpdatedAt: now}))
	require.NoError(t, store.SetReputation(ctx, &ReputationScore{Scope: ScopeUser, ScopeValue: "u-1", Score: 55, UpdatedAt: now.Add(time.Minute)}))

	rep, err = store.GetReputation(ctx, ScopeUser, "u-1")
	require.NoError(t, err)
	require.NotNil(t, rep)
	require.Equal(t, float64(55), rep.Score)

	require.NoError(t, store.RecordLoadSample(ctx, &LoadSample{CPUPercent: 30, MemoryPercent: 20, SampledAt: now}))
	require.NoError(t, store.RecordLoadSample(ctx, &LoadSample{CPUPercent: 70, MemoryPercent: 50, SampledAt: now.Add(time.Minute)}))

	sample, err := store.LatestLoadSample(ctx, 5*time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, float64(70), sample.CPUPercent)

	sample, err = store.LatestLoadSample(ctx, time.Minute, now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, sample)
}

func TestSQLStoreDecisionMetrics(t *testing.T) {
	t.Parallel()
	store := newSQLFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordDecision(ctx, "payments", ScopeIP, "10.0.0.1", true, now))
	require.NoError(t, store.RecordDecision(ctx, "payments", ScopeIP, "10.0.0.1", false, now.Add(time.Hour)))

	deleted, err := store.DeleteOldMetrics(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
