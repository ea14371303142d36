// Package ratelimit records admission violations off the hot path.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const violationFieldMax = 255

// ViolationRecorder appends audit records for denied requests. A failed
// write is logged and swallowed: recording must never turn an admission
// decision into an error.
type ViolationRecorder struct {
	store   ViolationStore
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewViolationRecorder constructs a recorder.
func NewViolationRecorder(store ViolationStore, metrics Metrics, logger Logger, now func() time.Time) *ViolationRecorder {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = NopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &ViolationRecorder{store: store, metrics: metrics, logger: logger, now: now}
}

// Record appends a violation for a denied request and returns its id. The
// record is immutable once written.
func (r *ViolationRecorder) Record(ctx context.Context, rule *Rule, req *CheckRequest, violatedLimit int64, blocked bool) string {
	if r == nil || r.store == nil || rule == nil || req == nil {
		return ""
	}
	v := &Violation{
		ID:            uuid.NewString(),
		SystemID:      req.SystemID,
		RuleID:        rule.ID,
		Scope:         req.Scope,
		ScopeValue:    req.ScopeValue,
		ResourceType:  req.ResourceType,
		ViolatedLimit: violatedLimit,
		Blocked:       blocked,
		RequestPath:   truncate(req.RequestPath, violationFieldMax),
		UserAgent:     truncate(req.UserAgent, violationFieldMax),
		At:            r.now(),
	}
	if err := r.store.AppendViolation(ctx, v); err != nil {
		r.logger.Error("violation write failed", map[string]any{
			"system": req.SystemID,
			"scope":  string(req.Scope),
			"error":  err.Error(),
		})
		return ""
	}
	r.metrics.IncViolation(req.SystemID, string(req.Scope))
	return v.ID
}

// List returns violations for a system newer than the cutoff.
func (r *ViolationRecorder) List(ctx context.Context, systemID string, since time.Time) ([]*Violation, error) {
	if r == nil || r.store == nil {
		return nil, ErrStoreUnavailable
	}
	return r.store.ListViolations(ctx, systemID, since)
}

// Stats returns aggregate violation counts for a system.
func (r *ViolationRecorder) Stats(ctx context.Context, systemID string) (*ViolationStats, error) {
	if r == nil || r.store == nil {
		return nil, ErrStoreUnavailable
	}
	return r.store.ViolationStats(ctx, systemID)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
