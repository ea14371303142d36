// Package ratelimit provides SQLite-backed storage.
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS rules (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    system_id     TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    scope         TEXT NOT NULL,
    scope_value   TEXT,
    resource_type TEXT,
    limit_type    TEXT NOT NULL,
    limit_value   INTEGER NOT NULL,
    priority      INTEGER NOT NULL DEFAULT 0,
    enabled       INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_system ON rules(system_id, priority);

CREATE TABLE IF NOT EXISTS counter_buckets (
    rule_id       INTEGER NOT NULL,
    system_id     TEXT NOT NULL,
    scope         TEXT NOT NULL,
    scope_value   TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    window_ns     INTEGER NOT NULL,
    window_start  INTEGER NOT NULL,
    count         INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (rule_id, system_id, scope, scope_value, resource_type, window_ns, window_start)
);
CREATE INDEX IF NOT EXISTS idx_buckets_start ON counter_buckets(window_start);

CREATE TABLE IF NOT EXISTS quotas (
    system_id     TEXT NOT NULL,
    scope         TEXT NOT NULL,
    scope_value   TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    period        TEXT NOT NULL,
    period_start  INTEGER NOT NULL,
    used          INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (system_id, scope, scope_value, resource_type, period)
);

CREATE TABLE IF NOT EXISTS violations (
    id             TEXT PRIMARY KEY,
    system_id      TEXT NOT NULL,
    rule_id        INTEGER NOT NULL,
    scope          TEXT NOT NULL,
    scope_value    TEXT NOT NULL,
    resource_type  TEXT NOT NULL,
    violated_limit INTEGER NOT NULL,
    blocked        INTEGER NOT NULL,
    request_path   TEXT NOT NULL DEFAULT '',
    user_agent     TEXT NOT NULL DEFAULT '',
    occurred_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_system_at ON violations(system_id, occurred_at);

CREATE TABLE IF NOT EXISTS reputation_scores (
    scope       TEXT NOT NULL,
    scope_value TEXT NOT NULL,
    score       REAL NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (scope, scope_value)
);

CREATE TABLE IF NOT EXISTS load_samples (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    cpu_percent    REAL NOT NULL,
    memory_percent REAL NOT NULL,
    goroutines     INTEGER NOT NULL,
    sampled_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_load_samples_at ON load_samples(sampled_at);

CREATE TABLE IF NOT EXISTS decision_metrics (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    system_id   TEXT NOT NULL,
    scope       TEXT NOT NULL,
    scope_value TEXT NOT NULL,
    allowed     INTEGER NOT NULL,
    decided_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_metrics_at ON decision_metrics(decided_at);
`

// SQLStore persists every storage surface in a single SQLite database.
// Timestamps are stored as unix nanoseconds so comparisons never depend
// on driver time parsing.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the database at path and bootstraps
// the schema. busy_timeout keeps concurrent writers from failing fast
// on SQLITE_BUSY.
func OpenSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "open database", err)
	}
	// SQLite serializes writes; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing database handle and bootstraps the schema.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, sqlSchema); err != nil {
		return Wrap(CodeStoreUnavailable, "initialize schema", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRule inserts a rule and assigns its id.
func (s *SQLStore) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if rule == nil {
		return nil, ErrInvalidInput
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (system_id, name, scope, scope_value, resource_type, limit_type, limit_value, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.SystemID, rule.Name, string(rule.Scope), matchToNull(rule.ScopeValue), matchToNull(rule.ResourceType),
		string(rule.LimitType), rule.LimitValue, rule.Priority, boolToInt(rule.Enabled), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "insert rule", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "read rule id", err)
	}
	stored := cloneRule(rule)
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored, nil
}

// UpdateRule replaces an existing rule.
func (s *SQLStore) UpdateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if rule == nil || rule.ID == 0 {
		return nil, ErrInvalidInput
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = ?, scope = ?, scope_value = ?, resource_type = ?, limit_type = ?, limit_value = ?, priority = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND system_id = ?`,
		rule.Name, string(rule.Scope), matchToNull(rule.ScopeValue), matchToNull(rule.ResourceType),
		string(rule.LimitType), rule.LimitValue, rule.Priority, boolToInt(rule.Enabled), now.UnixNano(),
		rule.ID, rule.SystemID)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "update rule", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "update rule", err)
	}
	if affected == 0 {
		return nil, ErrRuleNotFound
	}
	return s.GetRule(ctx, rule.SystemID, rule.ID)
}

// DeleteRule removes a rule.
func (s *SQLStore) DeleteRule(ctx context.Context, systemID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ? AND system_id = ?`, id, systemID)
	if err != nil {
		return Wrap(CodeStoreUnavailable, "delete rule", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Wrap(CodeStoreUnavailable, "delete rule", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// GetRule returns a rule by id.
func (s *SQLStore) GetRule(ctx context.Context, systemID string, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, system_id, name, scope, scope_value, resource_type, limit_type, limit_value, priority, enabled, created_at, updated_at
		FROM rules WHERE id = ? AND system_id = ?`, id, systemID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query rule", err)
	}
	return rule, nil
}

// ListRules returns all rules for a system ordered ascending by priority.
func (s *SQLStore) ListRules(ctx context.Context, systemID string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, system_id, name, scope, scope_value, resource_type, limit_type, limit_value, priority, enabled, created_at, updated_at
		FROM rules WHERE system_id = ? ORDER BY priority ASC, id ASC`, systemID)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query rules", err)
	}
	defer rows.Close()

	rules := make([]*Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, Wrap(CodeStoreUnavailable, "scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query rules", err)
	}
	return rules, nil
}

// Increment adds one to the bucket covering now and returns the new count.
func (s *SQLStore) Increment(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidInput
	}
	start := windowStart(now, window).UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counter_buckets (rule_id, system_id, scope, scope_value, resource_type, window_ns, window_start, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (rule_id, system_id, scope, scope_value, resource_type, window_ns, window_start)
		DO UPDATE SET count = count + 1`,
		key.RuleID, key.SystemID, string(key.Scope), key.ScopeValue, key.ResourceType, int64(window), start)
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "increment bucket", err)
	}
	return s.CurrentCount(ctx, key, window, now)
}

// CurrentCount returns the count of the bucket covering now.
func (s *SQLStore) CurrentCount(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidInput
	}
	start := windowStart(now, window).UnixNano()
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM counter_buckets
		WHERE rule_id = ? AND system_id = ? AND scope = ? AND scope_value = ? AND resource_type = ? AND window_ns = ? AND window_start = ?`,
		key.RuleID, key.SystemID, string(key.Scope), key.ScopeValue, key.ResourceType, int64(window), start).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "query bucket", err)
	}
	return count, nil
}

// DeleteExpiredBuckets removes buckets whose windows closed before the cutoff.
func (s *SQLStore) DeleteExpiredBuckets(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM counter_buckets WHERE window_start + window_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "delete buckets", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "delete buckets", err)
	}
	return deleted, nil
}

// GetQuota returns the current period usage, rolling the period forward
// lazily when a boundary has passed.
func (s *SQLStore) GetQuota(ctx context.Context, key QuotaKey, period PeriodKind, limit int64, now time.Time) (*QuotaState, error) {
	if !period.Valid() {
		return nil, ErrInvalidInput
	}
	start := period.Start(now).UnixNano()
	var (
		storedStart int64
		used        int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT period_start, used FROM quotas
		WHERE system_id = ? AND scope = ? AND scope_value = ? AND resource_type = ? AND period = ?`,
		key.SystemID, string(key.Scope), key.ScopeValue, key.ResourceType, string(period)).Scan(&storedStart, &used)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && storedStart != start) {
		used = 0
	} else if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query quota", err)
	}
	return quotaStateFrom(&quotaEntry{periodStart: start, used: used}, period, limit, now), nil
}

// IncrementQuota atomically checks the limit and records usage. The guard
// lives in the UPDATE predicate so two concurrent spends can never both
// pass a nearly exhausted cap.
func (s *SQLStore) IncrementQuota(ctx context.Context, key QuotaKey, period PeriodKind, limit, amount int64, now time.Time) (*QuotaState, error) {
	if !period.Valid() || amount <= 0 {
		return nil, ErrInvalidInput
	}
	start := period.Start(now).UnixNano()

	// Ensure the row exists and is on the current period.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotas (system_id, scope, scope_value, resource_type, period, period_start, used)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (system_id, scope, scope_value, resource_type, period)
		DO UPDATE SET period_start = excluded.period_start, used = 0 WHERE quotas.period_start != excluded.period_start`,
		key.SystemID, string(key.Scope), key.ScopeValue, key.ResourceType, string(period), start)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "advance quota period", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE quotas SET used = used + ?
		WHERE system_id = ? AND scope = ? AND scope_value = ? AND resource_type = ? AND period = ? AND period_start = ?
		  AND (? < 0 OR used + ? <= ?)`,
		amount, key.SystemID, string(key.Scope), key.ScopeValue, key.ResourceType, string(period), start,
		limit, amount, limit)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "increment quota", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "increment quota", err)
	}
	if affected == 0 {
		return nil, Wrap(CodeQuotaExceeded, "quota exhausted for period", nil)
	}
	return s.GetQuota(ctx, key, period, limit, now)
}

// AppendViolation records a violation. Records are immutable once stored.
func (s *SQLStore) AppendViolation(ctx context.Context, v *Violation) error {
	if v == nil {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (id, system_id, rule_id, scope, scope_value, resource_type, violated_limit, blocked, request_path, user_agent, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SystemID, v.RuleID, string(v.Scope), v.ScopeValue, v.ResourceType,
		v.ViolatedLimit, boolToInt(v.Blocked), v.RequestPath, v.UserAgent, v.At.UnixNano())
	if err != nil {
		return Wrap(CodeStoreUnavailable, "insert violation", err)
	}
	return nil
}

// ListViolations returns violations for a system at or after since,
// newest first.
func (s *SQLStore) ListViolations(ctx context.Context, systemID string, since time.Time) ([]*Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, system_id, rule_id, scope, scope_value, resource_type, violated_limit, blocked, request_path, user_agent, occurred_at
		FROM violations WHERE system_id = ? AND occurred_at >= ? ORDER BY occurred_at DESC`,
		systemID, since.UnixNano())
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violations", err)
	}
	defer rows.Close()

	out := make([]*Violation, 0)
	for rows.Next() {
		var (
			v       Violation
			blocked int
			at      int64
		)
		if err := rows.Scan(&v.ID, &v.SystemID, &v.RuleID, (*string)(&v.Scope), &v.ScopeValue, &v.ResourceType,
			&v.ViolatedLimit, &blocked, &v.RequestPath, &v.UserAgent, &at); err != nil {
			return nil, Wrap(CodeStoreUnavailable, "scan violation", err)
		}
		v.Blocked = blocked != 0
		v.At = time.Unix(0, at).UTC()
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violations", err)
	}
	return out, nil
}

// ViolationStats aggregates violation counts for a system.
func (s *SQLStore) ViolationStats(ctx context.Context, systemID string) (*ViolationStats, error) {
	stats := &ViolationStats{
		ByScope:    make(map[string]int64),
		ByResource: make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT scope, COUNT(*) FROM violations WHERE system_id = ? GROUP BY scope`, systemID)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violation stats", err)
	}
	for rows.Next() {
		var (
			scope string
			count int64
		)
		if err := rows.Scan(&scope, &count); err != nil {
			rows.Close()
			return nil, Wrap(CodeStoreUnavailable, "scan violation stats", err)
		}
		stats.ByScope[scope] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violation stats", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT resource_type, COUNT(*) FROM violations
		WHERE system_id = ? AND resource_type != '' GROUP BY resource_type`, systemID)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violation stats", err)
	}
	for rows.Next() {
		var (
			resource string
			count    int64
		)
		if err := rows.Scan(&resource, &count); err != nil {
			rows.Close()
			return nil, Wrap(CodeStoreUnavailable, "scan violation stats", err)
		}
		stats.ByResource[resource] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violation stats", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT scope_value, COUNT(*) AS n FROM violations
		WHERE system_id = ? GROUP BY scope_value ORDER BY n DESC, scope_value ASC LIMIT 10`, systemID)
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violation stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var off Offender
		if err := rows.Scan(&off.ScopeValue, &off.Count); err != nil {
			return nil, Wrap(CodeStoreUnavailable, "scan violation stats", err)
		}
		stats.TopOffenders = append(stats.TopOffenders, off)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query violation stats", err)
	}
	return stats, nil
}

// DeleteOldViolations drops records older than the cutoff.
func (s *SQLStore) DeleteOldViolations(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM violations WHERE occurred_at < ?`, before.UnixNano())
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "delete violations", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "delete violations", err)
	}
	return deleted, nil
}

// GetReputation returns the stored score, or nil when none exists.
func (s *SQLStore) GetReputation(ctx context.Context, scope ScopeKind, scopeValue string) (*ReputationScore, error) {
	var (
		score     ReputationScore
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, scope_value, score, updated_at FROM reputation_scores WHERE scope = ? AND scope_value = ?`,
		string(scope), scopeValue).Scan((*string)(&score.Scope), &score.ScopeValue, &score.Score, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query reputation", err)
	}
	score.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &score, nil
}

// SetReputation upserts a reputation score.
func (s *SQLStore) SetReputation(ctx context.Context, score *ReputationScore) error {
	if score == nil {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reputation_scores (scope, scope_value, score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, scope_value) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		string(score.Scope), score.ScopeValue, score.Score, score.UpdatedAt.UnixNano())
	if err != nil {
		return Wrap(CodeStoreUnavailable, "upsert reputation", err)
	}
	return nil
}

// LatestLoadSample returns the most recent sample no older than maxAge,
// or nil when none qualifies.
func (s *SQLStore) LatestLoadSample(ctx context.Context, maxAge time.Duration, now time.Time) (*LoadSample, error) {
	cutoff := int64(0)
	if maxAge > 0 {
		cutoff = now.Add(-maxAge).UnixNano()
	}
	var (
		sample    LoadSample
		sampledAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cpu_percent, memory_percent, goroutines, sampled_at FROM load_samples
		WHERE sampled_at >= ? ORDER BY sampled_at DESC LIMIT 1`, cutoff).
		Scan(&sample.CPUPercent, &sample.MemoryPercent, &sample.Goroutines, &sampledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(CodeStoreUnavailable, "query load sample", err)
	}
	sample.SampledAt = time.Unix(0, sampledAt).UTC()
	return &sample, nil
}

// RecordLoadSample stores a load observation.
func (s *SQLStore) RecordLoadSample(ctx context.Context, sample *LoadSample) error {
	if sample == nil {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_samples (cpu_percent, memory_percent, goroutines, sampled_at) VALUES (?, ?, ?, ?)`,
		sample.CPUPercent, sample.MemoryPercent, sample.Goroutines, sample.SampledAt.UnixNano())
	if err != nil {
		return Wrap(CodeStoreUnavailable, "insert load sample", err)
	}
	return nil
}

// RecordDecision appends a per-decision accounting row.
func (s *SQLStore) RecordDecision(ctx context.Context, systemID string, scope ScopeKind, scopeValue string, allowed bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_metrics (system_id, scope, scope_value, allowed, decided_at) VALUES (?, ?, ?, ?, ?)`,
		systemID, string(scope), scopeValue, boolToInt(allowed), at.UnixNano())
	if err != nil {
		return Wrap(CodeStoreUnavailable, "insert decision", err)
	}
	return nil
}

// DeleteOldMetrics drops decision rows older than the cutoff.
func (s *SQLStore) DeleteOldMetrics(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decision_metrics WHERE decided_at < ?`, before.UnixNano())
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "delete decisions", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "delete decisions", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule         Rule
		scopeValue   sql.NullString
		resourceType sql.NullString
		enabled      int
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&rule.ID, &rule.SystemID, &rule.Name, (*string)(&rule.Scope), &scopeValue, &resourceType,
		(*string)(&rule.LimitType), &rule.LimitValue, &rule.Priority, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rule.ScopeValue = matchFromNull(scopeValue)
	rule.ResourceType = matchFromNull(resourceType)
	rule.Enabled = enabled != 0
	rule.CreatedAt = time.Unix(0, createdAt).UTC()
	rule.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rule, nil
}

// matchToNull maps a wildcard predicate to NULL and an exact predicate to
// its value. An unset predicate never reaches storage; validation rejects it.
func matchToNull(m Match) any {
	if m.IsAny() {
		return nil
	}
	value, ok := m.Value()
	if !ok {
		return nil
	}
	return value
}

func matchFromNull(v sql.NullString) Match {
	if !v.Valid {
		return MatchAny()
	}
	return MatchExact(v.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
