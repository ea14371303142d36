// Package ratelimit implements the request-admission and quota engine.
package ratelimit

import "time"

// ScopeKind is the dimension a limit is keyed on.
type ScopeKind string

const (
	ScopeIP     ScopeKind = "ip"
	ScopeUser   ScopeKind = "user"
	ScopeAPIKey ScopeKind = "api_key"
	ScopeEmail  ScopeKind = "email"
	ScopeCustom ScopeKind = "custom"
)

// Valid reports whether the scope kind is known.
func (s ScopeKind) Valid() bool {
	switch s {
	case ScopeIP, ScopeUser, ScopeAPIKey, ScopeEmail, ScopeCustom:
		return true
	}
	return false
}

// LimitType distinguishes sliding-window limits from longer-horizon quotas.
type LimitType string

const (
	LimitPerSecond LimitType = "requests_per_second"
	LimitPerMinute LimitType = "requests_per_minute"
	LimitPerHour   LimitType = "requests_per_hour"
	LimitPerDay    LimitType = "requests_per_day"
	LimitPerWeek   LimitType = "requests_per_week"
	LimitPerMonth  LimitType = "requests_per_month"
)

// Valid reports whether the limit type is known.
func (t LimitType) Valid() bool {
	switch t {
	case LimitPerSecond, LimitPerMinute, LimitPerHour, LimitPerDay, LimitPerWeek, LimitPerMonth:
		return true
	}
	return false
}

// IsWindow reports whether the limit type is counted against a sliding window.
func (t LimitType) IsWindow() bool {
	switch t {
	case LimitPerSecond, LimitPerMinute, LimitPerHour:
		return true
	}
	return false
}

// Window returns the window size for sliding-window limit types.
func (t LimitType) Window() time.Duration {
	switch t {
	case LimitPerSecond:
		return time.Second
	case LimitPerMinute:
		return time.Minute
	case LimitPerHour:
		return time.Hour
	}
	return 0
}

// Period returns the quota period for quota limit types.
func (t LimitType) Period() PeriodKind {
	switch t {
	case LimitPerDay:
		return PeriodDay
	case LimitPerWeek:
		return PeriodWeek
	case LimitPerMonth:
		return PeriodMonth
	}
	return ""
}

// Rule is a configured admission policy. ScopeValue and ResourceType are
// match predicates: Any matches every value of the dimension.
type Rule struct {
	ID           int64
	SystemID     string
	Name         string
	Scope        ScopeKind
	ScopeValue   Match
	ResourceType Match
	LimitType    LimitType
	LimitValue   int64
	Priority     int
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppliesTo reports whether the rule matches a request's scope tuple.
// Disabled rules never match.
func (r *Rule) AppliesTo(scope ScopeKind, scopeValue, resourceType string) bool {
	if r == nil || !r.Enabled {
		return false
	}
	if r.Scope != scope {
		return false
	}
	return r.ScopeValue.Matches(scopeValue) && r.ResourceType.Matches(resourceType)
}

// CheckRequest captures a single admission decision request.
type CheckRequest struct {
	SystemID     string
	Scope        ScopeKind
	ScopeValue   string
	ResourceType string
	RequestPath  string
	UserAgent    string
}

// RuleUsage reports remaining capacity against one matched policy. Internal
// rule ids are deliberately absent; callers see only scope and limit shape.
type RuleUsage struct {
	Scope     ScopeKind
	LimitType LimitType
	Limit     int64
	Remaining int64
	ResetTime time.Time
}

// Decision is the outcome of CheckLimit.
type Decision struct {
	Allowed    bool
	Scope      ScopeKind
	LimitType  LimitType
	Limit      int64
	Remaining  int64
	ResetTime  time.Time
	RetryAfter time.Duration
	Usages     []RuleUsage
}

// QuotaState is the current accounting for one quota key.
type QuotaState struct {
	Current     int64
	Limit       int64
	Remaining   int64
	PeriodStart time.Time
	ResetTime   time.Time
}

// CounterKey identifies one sliding-window bucket family. The rule id keeps
// buckets of distinct policies over the same scope tuple apart.
type CounterKey struct {
	RuleID       int64
	SystemID     string
	Scope        ScopeKind
	ScopeValue   string
	ResourceType string
}

// QuotaKey identifies one quota row. Quotas are shared across rules so the
// management surface can address them without knowing rule ids.
type QuotaKey struct {
	SystemID     string
	Scope        ScopeKind
	ScopeValue   string
	ResourceType string
}

// Violation records one denied request. Immutable once written.
type Violation struct {
	ID            string
	SystemID      string
	RuleID        int64
	Scope         ScopeKind
	ScopeValue    string
	ResourceType  string
	ViolatedLimit int64
	Blocked       bool
	RequestPath   string
	UserAgent     string
	At            time.Time
}

// Offender is one entry in the top-violators aggregate.
type Offender struct {
	ScopeValue string
	Count      int64
}

// ViolationStats aggregates violations for a system.
type ViolationStats struct {
	Total        int64
	ByScope      map[string]int64
	ByResource   map[string]int64
	TopOffenders []Offender
}

// ReputationScore is a trust signal for a scope value, produced by an
// external collaborator and consulted read-only by the engine.
type ReputationScore struct {
	Scope      ScopeKind
	ScopeValue string
	Score      float64
	UpdatedAt  time.Time
}

// LoadSample is a recent system-load observation.
type LoadSample struct {
	CPUPercent    float64
	MemoryPercent float64
	Goroutines    int
	SampledAt     time.Time
}
