// Package ratelimit provides in-memory storage.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every durable surface in process memory. It is the
// default backend when no database is configured and the backend used by
// unit tests. All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	rules  map[int64]*Rule
	nextID int64

	buckets map[bucketKey]int64
	quotas  map[quotaEntryKey]*quotaEntry

	violations []*Violation

	reputations map[string]*ReputationScore
	lastSample  *LoadSample

	decisions []decisionRow

	now func() time.Time
}

type bucketKey struct {
	key    CounterKey
	window time.Duration
	start  int64
}

type quotaEntryKey struct {
	key    QuotaKey
	period PeriodKind
}

type quotaEntry struct {
	periodStart int64
	used        int64
}

type decisionRow struct {
	systemID   string
	scope      ScopeKind
	scopeValue string
	allowed    bool
	at         time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		rules:       make(map[int64]*Rule),
		buckets:     make(map[bucketKey]int64),
		quotas:      make(map[quotaEntryKey]*quotaEntry),
		reputations: make(map[string]*ReputationScore),
		now:         now,
	}
}

// CreateRule inserts a rule and assigns its id.
func (m *MemoryStore) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if rule == nil {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	stored := cloneRule(rule)
	stored.ID = m.nextID
	stored.CreatedAt = m.now()
	stored.UpdatedAt = stored.CreatedAt
	m.rules[stored.ID] = stored
	return cloneRule(stored), nil
}

// UpdateRule replaces an existing rule.
func (m *MemoryStore) UpdateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if rule == nil || rule.ID == 0 {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.rules[rule.ID]
	if existing == nil || existing.SystemID != rule.SystemID {
		return nil, ErrRuleNotFound
	}
	stored := cloneRule(rule)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = m.now()
	m.rules[stored.ID] = stored
	return cloneRule(stored), nil
}

// DeleteRule removes a rule.
func (m *MemoryStore) DeleteRule(ctx context.Context, systemID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.rules[id]
	if existing == nil || existing.SystemID != systemID {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

// GetRule returns a rule by id.
func (m *MemoryStore) GetRule(ctx context.Context, systemID string, id int64) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.rules[id]
	if existing == nil || existing.SystemID != systemID {
		return nil, ErrRuleNotFound
	}
	return cloneRule(existing), nil
}

// ListRules returns all rules for a system ordered ascending by priority.
func (m *MemoryStore) ListRules(ctx context.Context, systemID string) ([]*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := make([]*Rule, 0)
	for _, rule := range m.rules {
		if rule.SystemID != systemID {
			continue
		}
		rules = append(rules, cloneRule(rule))
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// Increment adds one to the bucket covering now and returns the new count.
func (m *MemoryStore) Increment(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidInput
	}
	bk := bucketKey{key: key, window: window, start: windowStart(now, window).UnixNano()}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets[bk]++
	return m.buckets[bk], nil
}

// CurrentCount returns the count of the bucket covering now.
func (m *MemoryStore) CurrentCount(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidInput
	}
	bk := bucketKey{key: key, window: window, start: windowStart(now, window).UnixNano()}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.buckets[bk], nil
}

// DeleteExpiredBuckets removes buckets whose windows closed before the cutoff.
func (m *MemoryStore) DeleteExpiredBuckets(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for bk := range m.buckets {
		end := time.Unix(0, bk.start).Add(bk.window)
		if end.Before(before) {
			delete(m.buckets, bk)
			deleted++
		}
	}
	return deleted, nil
}

// GetQuota returns the current period usage, rolling the period forward
// lazily when a boundary has passed.
func (m *MemoryStore) GetQuota(ctx context.Context, key QuotaKey, period PeriodKind, limit int64, now time.Time) (*QuotaState, error) {
	if !period.Valid() {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.currentEntry(key, period, now)
	return quotaStateFrom(entry, period, limit, now), nil
}

// IncrementQuota atomically checks the limit and records usage. It fails
// with ErrQuotaExceeded without recording anything when the increment
// would cross the cap.
func (m *MemoryStore) IncrementQuota(ctx context.Context, key QuotaKey, period PeriodKind, limit, amount int64, now time.Time) (*QuotaState, error) {
	if !period.Valid() || amount <= 0 {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.currentEntry(key, period, now)
	if limit >= 0 && entry.used+amount > limit {
		return nil, Wrap(CodeQuotaExceeded, "quota exhausted for period", nil)
	}
	entry.used += amount
	return quotaStateFrom(entry, period, limit, now), nil
}

// currentEntry returns the live entry for the period containing now,
// resetting usage when the stored period has elapsed. Caller holds mu.
func (m *MemoryStore) currentEntry(key QuotaKey, period PeriodKind, now time.Time) *quotaEntry {
	qk := quotaEntryKey{key: key, period: period}
	start := period.Start(now).UnixNano()
	entry := m.quotas[qk]
	if entry == nil || entry.periodStart != start {
		entry = &quotaEntry{periodStart: start}
		m.quotas[qk] = entry
	}
	return entry
}

func quotaStateFrom(entry *quotaEntry, period PeriodKind, limit int64, now time.Time) *QuotaState {
	remaining := int64(-1)
	if limit >= 0 {
		remaining = limit - entry.used
		if remaining < 0 {
			remaining = 0
		}
	}
	return &QuotaState{
		Current:     entry.used,
		Limit:       limit,
		Remaining:   remaining,
		PeriodStart: time.Unix(0, entry.periodStart).UTC(),
		ResetTime:   period.Next(now),
	}
}

// AppendViolation records a violation. Records are immutable once stored.
func (m *MemoryStore) AppendViolation(ctx context.Context, v *Violation) error {
	if v == nil {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *v
	m.violations = append(m.violations, &stored)
	return nil
}

// ListViolations returns violations for a system at or after since,
// newest first.
func (m *MemoryStore) ListViolations(ctx context.Context, systemID string, since time.Time) ([]*Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Violation, 0)
	for _, v := range m.violations {
		if v.SystemID != systemID || v.At.Before(since) {
			continue
		}
		copied := *v
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

// ViolationStats aggregates violation counts for a system.
func (m *MemoryStore) ViolationStats(ctx context.Context, systemID string) (*ViolationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &ViolationStats{
		ByScope:    make(map[string]int64),
		ByResource: make(map[string]int64),
	}
	offenders := make(map[string]int64)
	for _, v := range m.violations {
		if v.SystemID != systemID {
			continue
		}
		stats.Total++
		stats.ByScope[string(v.Scope)]++
		if v.ResourceType != "" {
			stats.ByResource[v.ResourceType]++
		}
		offenders[v.ScopeValue]++
	}
	top := make([]Offender, 0, len(offenders))
	for value, count := range offenders {
		top = append(top, Offender{ScopeValue: value, Count: count})
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].ScopeValue < top[j].ScopeValue
	})
	if len(top) > 10 {
		top = top[:10]
	}
	stats.TopOffenders = top
	return stats, nil
}

// DeleteOldViolations drops records older than the cutoff.
func (m *MemoryStore) DeleteOldViolations(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.violations[:0]
	var deleted int64
	for _, v := range m.violations {
		if v.At.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, v)
	}
	m.violations = kept
	return deleted, nil
}

// GetReputation returns the stored score, or nil when none exists.
func (m *MemoryStore) GetReputation(ctx context.Context, scope ScopeKind, scopeValue string) (*ReputationScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	score := m.reputations[string(scope)+"\x1f"+scopeValue]
	if score == nil {
		return nil, nil
	}
	copied := *score
	return &copied, nil
}

// SetReputation upserts a reputation score.
func (m *MemoryStore) SetReputation(ctx context.Context, score *ReputationScore) error {
	if score == nil {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *score
	m.reputations[string(score.Scope)+"\x1f"+score.ScopeValue] = &copied
	return nil
}

// LatestLoadSample returns the most recent sample no older than maxAge,
// or nil when none qualifies.
func (m *MemoryStore) LatestLoadSample(ctx context.Context, maxAge time.Duration, now time.Time) (*LoadSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastSample == nil {
		return nil, nil
	}
	if maxAge > 0 && now.Sub(m.lastSample.SampledAt) > maxAge {
		return nil, nil
	}
	copied := *m.lastSample
	return &copied, nil
}

// RecordLoadSample stores the newest load observation.
func (m *MemoryStore) RecordLoadSample(ctx context.Context, sample *LoadSample) error {
	if sample == nil {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *sample
	m.lastSample = &copied
	return nil
}

// RecordDecision appends a per-decision accounting row.
func (m *MemoryStore) RecordDecision(ctx context.Context, systemID string, scope ScopeKind, scopeValue string, allowed bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions = append(m.decisions, decisionRow{
		systemID:   systemID,
		scope:      scope,
		scopeValue: scopeValue,
		allowed:    allowed,
		at:         at,
	})
	return nil
}

// DeleteOldMetrics drops decision rows older than the cutoff.
func (m *MemoryStore) DeleteOldMetrics(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.decisions[:0]
	var deleted int64
	for _, row := range m.decisions {
		if row.at.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	m.decisions = kept
	return deleted, nil
}

func cloneRule(rule *Rule) *Rule {
	if rule == nil {
		return nil
	}
	copied := *rule
	return &copied
}
