// Package ratelimit provides the management handler.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// AdminHandler serves the management surface: rule CRUD, violation queries,
// signal ingestion, and on-demand cleanup. Rule mutations invalidate the
// per-system cache snapshot eagerly so staleness never exceeds one TTL.
type AdminHandler struct {
	store      RuleStore
	rules      *RuleCache
	violations *ViolationRecorder
	signals    SignalStore
	cleaner    *CleanupScheduler
	logger     Logger
	now        func() time.Time
}

// NewAdminHandler constructs the management handler.
func NewAdminHandler(store RuleStore, rules *RuleCache, violations *ViolationRecorder, signals SignalStore, cleaner *CleanupScheduler, logger Logger, now func() time.Time) *AdminHandler {
	if logger == nil {
		logger = NopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &AdminHandler{
		store:      store,
		rules:      rules,
		violations: violations,
		signals:    signals,
		cleaner:    cleaner,
		logger:     logger,
		now:        now,
	}
}

// CreateRule validates and persists a new rule.
func (a *AdminHandler) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("admin handler is not initialized")
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	created, err := a.store.CreateRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	a.invalidate(created.SystemID)
	a.logger.Info("rule created", map[string]any{
		"system": created.SystemID,
		"rule":   created.ID,
		"scope":  string(created.Scope),
	})
	return created, nil
}

// UpdateRule validates and persists changes to an existing rule.
func (a *AdminHandler) UpdateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("admin handler is not initialized")
	}
	if rule == nil || rule.ID == 0 {
		return nil, ErrInvalidInput
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	updated, err := a.store.UpdateRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	a.invalidate(updated.SystemID)
	a.logger.Info("rule updated", map[string]any{
		"system":  updated.SystemID,
		"rule":    updated.ID,
		"enabled": updated.Enabled,
	})
	return updated, nil
}

// DeleteRule removes a rule.
func (a *AdminHandler) DeleteRule(ctx context.Context, systemID string, id int64) error {
	if a == nil || a.store == nil {
		return errors.New("admin handler is not initialized")
	}
	if systemID == "" || id == 0 {
		return ErrInvalidInput
	}
	if err := a.store.DeleteRule(ctx, systemID, id); err != nil {
		return err
	}
	a.invalidate(systemID)
	a.logger.Info("rule deleted", map[string]any{"system": systemID, "rule": id})
	return nil
}

// GetRule returns one rule by id.
func (a *AdminHandler) GetRule(ctx context.Context, systemID string, id int64) (*Rule, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("admin handler is not initialized")
	}
	if systemID == "" || id == 0 {
		return nil, ErrInvalidInput
	}
	return a.store.GetRule(ctx, systemID, id)
}

// ListRules returns all rules for a system ordered ascending by priority.
func (a *AdminHandler) ListRules(ctx context.Context, systemID string) ([]*Rule, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("admin handler is not initialized")
	}
	if systemID == "" {
		return nil, ErrInvalidInput
	}
	return a.store.ListRules(ctx, systemID)
}

// ListViolations returns violations within the lookback window.
func (a *AdminHandler) ListViolations(ctx context.Context, systemID string, since time.Duration) ([]*Violation, error) {
	if a == nil || a.violations == nil {
		return nil, errors.New("admin handler is not initialized")
	}
	if systemID == "" || since <= 0 {
		return nil, ErrInvalidInput
	}
	return a.violations.List(ctx, systemID, a.now().Add(-since))
}

// ViolationStats returns aggregate violation counts.
func (a *AdminHandler) ViolationStats(ctx context.Context, systemID string) (*ViolationStats, error) {
	if a == nil || a.violations == nil {
		return nil, errors.New("admin handler is not initialized")
	}
	if systemID == "" {
		return nil, ErrInvalidInput
	}
	return a.violations.Stats(ctx, systemID)
}

// Cleanup evicts one data kind older than the retention window.
func (a *AdminHandler) Cleanup(ctx context.Context, kind CleanupKind, retentionDays int) (int64, error) {
	if a == nil || a.cleaner == nil {
		return 0, errors.New("admin handler is not initialized")
	}
	if retentionDays <= 0 {
		return 0, ErrInvalidInput
	}
	return a.cleaner.Run(ctx, kind, time.Duration(retentionDays)*24*time.Hour)
}

// RecordLoadSample ingests a load observation from an external monitor.
func (a *AdminHandler) RecordLoadSample(ctx context.Context, sample *LoadSample) error {
	if a == nil || a.signals == nil {
		return errors.New("admin handler is not initialized")
	}
	if sample == nil {
		return ErrInvalidInput
	}
	if sample.SampledAt.IsZero() {
		sample.SampledAt = a.now()
	}
	return a.signals.RecordLoadSample(ctx, sample)
}

// SetReputation ingests a reputation score from an external collaborator.
func (a *AdminHandler) SetReputation(ctx context.Context, score *ReputationScore) error {
	if a == nil || a.signals == nil {
		return errors.New("admin handler is not initialized")
	}
	if score == nil || score.ScopeValue == "" || !score.Scope.Valid() {
		return ErrInvalidInput
	}
	if score.UpdatedAt.IsZero() {
		score.UpdatedAt = a.now()
	}
	return a.signals.SetReputation(ctx, score)
}

func (a *AdminHandler) invalidate(systemID string) {
	if a.rules != nil {
		a.rules.Invalidate(systemID)
	}
}

// validateRule rejects malformed rule configurations.
func validateRule(rule *Rule) error {
	if rule == nil {
		return ErrInvalidInput
	}
	if rule.SystemID == "" {
		return Wrap(CodeInvalidRule, "system id is required", nil)
	}
	if !rule.Scope.Valid() {
		return Wrap(CodeInvalidRule, "unknown scope kind", nil)
	}
	if !rule.LimitType.Valid() {
		return Wrap(CodeInvalidRule, "unknown limit type", nil)
	}
	if rule.LimitValue < 0 {
		return Wrap(CodeInvalidRule, "limit value must not be negative", nil)
	}
	if rule.Priority < 0 {
		return Wrap(CodeInvalidRule, "priority must not be negative", nil)
	}
	if _, ok := rule.ScopeValue.Value(); !ok && !rule.ScopeValue.IsAny() {
		return Wrap(CodeInvalidRule, "scope value predicate is unset", nil)
	}
	if _, ok := rule.ResourceType.Value(); !ok && !rule.ResourceType.IsAny() {
		return Wrap(CodeInvalidRule, "resource type predicate is unset", nil)
	}
	return nil
}
