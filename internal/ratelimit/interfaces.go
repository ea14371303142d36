// Package ratelimit defines service and store interfaces.
package ratelimit

import (
	"context"
	"time"
)

// AdmissionService evaluates admission requests on the hot path.
type AdmissionService interface {
	CheckLimit(ctx context.Context, req *CheckRequest) (*Decision, error)
	GetQuota(ctx context.Context, key QuotaKey, period PeriodKind) (*QuotaState, error)
	IncrementQuota(ctx context.Context, key QuotaKey, period PeriodKind, amount int64) (*QuotaState, error)
}

// AdminService manages rules, violations, and cleanup.
type AdminService interface {
	CreateRule(ctx context.Context, rule *Rule) (*Rule, error)
	UpdateRule(ctx context.Context, rule *Rule) (*Rule, error)
	DeleteRule(ctx context.Context, systemID string, id int64) error
	GetRule(ctx context.Context, systemID string, id int64) (*Rule, error)
	ListRules(ctx context.Context, systemID string) ([]*Rule, error)
	ListViolations(ctx context.Context, systemID string, since time.Duration) ([]*Violation, error)
	ViolationStats(ctx context.Context, systemID string) (*ViolationStats, error)
	Cleanup(ctx context.Context, kind CleanupKind, retentionDays int) (int64, error)
	RecordLoadSample(ctx context.Context, sample *LoadSample) error
	SetReputation(ctx context.Context, score *ReputationScore) error
}

// Transport exposes services over a wire protocol.
type Transport interface {
	ServeAdmission(service AdmissionService) error
	ServeAdmin(service AdminService) error
	Shutdown(ctx context.Context) error
}

// RuleStore is durable storage for admission rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *Rule) (*Rule, error)
	UpdateRule(ctx context.Context, rule *Rule) (*Rule, error)
	DeleteRule(ctx context.Context, systemID string, id int64) error
	GetRule(ctx context.Context, systemID string, id int64) (*Rule, error)
	ListRules(ctx context.Context, systemID string) ([]*Rule, error)
}

// CounterStore tracks sliding-window bucket counts. Increments for the same
// key must never be lost under concurrency; expired windows count as zero.
type CounterStore interface {
	Increment(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error)
	CurrentCount(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error)
	DeleteExpiredBuckets(ctx context.Context, before time.Time) (int64, error)
}

// QuotaStore tracks cumulative usage per period. IncrementQuota is an atomic
// check-and-increment: it fails with ErrQuotaExceeded rather than recording a
// partial increment. A limit < 0 means uncapped.
type QuotaStore interface {
	GetQuota(ctx context.Context, key QuotaKey, period PeriodKind, limit int64, now time.Time) (*QuotaState, error)
	IncrementQuota(ctx context.Context, key QuotaKey, period PeriodKind, limit, amount int64, now time.Time) (*QuotaState, error)
}

// ViolationStore appends and queries immutable violation records.
type ViolationStore interface {
	AppendViolation(ctx context.Context, v *Violation) error
	ListViolations(ctx context.Context, systemID string, since time.Time) ([]*Violation, error)
	ViolationStats(ctx context.Context, systemID string) (*ViolationStats, error)
	DeleteOldViolations(ctx context.Context, before time.Time) (int64, error)
}

// SignalStore reads trust and load signals. The engine consults them
// read-only on the hot path; writes come from external monitors through the
// management surface.
type SignalStore interface {
	GetReputation(ctx context.Context, scope ScopeKind, scopeValue string) (*ReputationScore, error)
	SetReputation(ctx context.Context, score *ReputationScore) error
	LatestLoadSample(ctx context.Context, maxAge time.Duration, now time.Time) (*LoadSample, error)
	RecordLoadSample(ctx context.Context, sample *LoadSample) error
}

// MetricStore records per-decision accounting rows for forensic analysis.
type MetricStore interface {
	RecordDecision(ctx context.Context, systemID string, scope ScopeKind, scopeValue string, allowed bool, at time.Time) error
	DeleteOldMetrics(ctx context.Context, before time.Time) (int64, error)
}

// Store aggregates the durable surfaces a single backend provides.
type Store interface {
	RuleStore
	CounterStore
	QuotaStore
	ViolationStore
	SignalStore
	MetricStore
}
