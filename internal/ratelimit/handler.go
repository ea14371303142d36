// Package ratelimit provides the admission decision handler.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// FailurePolicy decides the admission outcome when the rule cache or counter
// store is unreachable.
type FailurePolicy string

const (
	// FailOpen admits requests when dependencies fail. Default.
	FailOpen FailurePolicy = "open"
	// FailClosed denies requests when dependencies fail.
	FailClosed FailurePolicy = "closed"
)

// AdmissionHandler runs the per-request decision state machine: cached rules,
// priority order, read-only checks with short-circuit deny, and increments
// against every matching rule on allow.
type AdmissionHandler struct {
	rules      *RuleCache
	counters   CounterStore
	quotas     QuotaStore
	violations *ViolationRecorder
	adjuster   LimitAdjuster
	decisions  MetricStore
	breaker    *StoreBreaker
	metrics    Metrics
	logger     Logger
	locks      *keyLock
	policy     FailurePolicy
	opTimeout  time.Duration
	now        func() time.Time
}

// AdmissionHandlerOptions carries optional collaborators.
type AdmissionHandlerOptions struct {
	Adjuster   LimitAdjuster
	Decisions  MetricStore
	Breaker    *StoreBreaker
	Metrics    Metrics
	Logger     Logger
	Policy     FailurePolicy
	OpTimeout  time.Duration
	LockShards int
	Now        func() time.Time
}

// NewAdmissionHandler constructs the handler.
func NewAdmissionHandler(rules *RuleCache, counters CounterStore, quotas QuotaStore, violations *ViolationRecorder, opts AdmissionHandlerOptions) *AdmissionHandler {
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	if opts.Policy != FailClosed {
		opts.Policy = FailOpen
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AdmissionHandler{
		rules:      rules,
		counters:   counters,
		quotas:     quotas,
		violations: violations,
		adjuster:   opts.Adjuster,
		decisions:  opts.Decisions,
		breaker:    opts.Breaker,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		locks:      newKeyLock(opts.LockShards),
		policy:     opts.Policy,
		opTimeout:  opts.OpTimeout,
		now:        opts.Now,
	}
}

// ruleEval is one rule's read-phase result, kept for the increment phase.
type ruleEval struct {
	rule      *Rule
	effective int64
	reset     time.Time
}

// quotaInc remembers a committed quota increment so further quota rules of
// the same period reuse it instead of charging the shared row again.
type quotaInc struct {
	effective int64
	remaining int64
}

// CheckLimit evaluates one admission request.
func (h *AdmissionHandler) CheckLimit(ctx context.Context, req *CheckRequest) (*Decision, error) {
	if h == nil || h.rules == nil || h.counters == nil || h.quotas == nil {
		return nil, errors.New("handler is not initialized")
	}
	if req == nil || req.SystemID == "" || req.ScopeValue == "" || !req.Scope.Valid() {
		return nil, ErrInvalidInput
	}
	start := h.now()
	defer func() {
		h.metrics.ObserveCheckLatency(time.Since(start))
	}()

	// Serializing per scope key makes check-then-increment atomic for
	// concurrent requests against the same caller.
	unlock := h.locks.Lock(scopeKey(req.SystemID, req.Scope, req.ScopeValue, req.ResourceType))
	defer unlock()

	var rules []*Rule
	err := h.guard(func() error {
		var loadErr error
		rules, loadErr = h.rules.Rules(ctx, req.SystemID)
		return loadErr
	})
	if err != nil {
		return h.resolveFailure(ctx, req, "rules", err)
	}

	evals := make([]ruleEval, 0, len(rules))
	now := h.now()
	for _, rule := range rules {
		if !rule.AppliesTo(req.Scope, req.ScopeValue, req.ResourceType) {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Wrap(CodeCancelled, "check cancelled", ctxErr)
		}
		effective := rule.LimitValue
		if h.adjuster != nil {
			effective = h.adjuster.EffectiveLimit(ctx, rule.LimitValue, req.Scope, req.ScopeValue)
		}
		current, reset, readErr := h.readUsage(ctx, rule, req, effective, now)
		if readErr != nil {
			return h.resolveFailure(ctx, req, "read", readErr)
		}
		if current >= effective {
			return h.deny(ctx, rule, req, effective, reset, now), nil
		}
		evals = append(evals, ruleEval{rule: rule, effective: effective, reset: reset})
	}

	// Every matching rule tracks the allowed request; increments committed
	// before a failure stay committed. Quota rows are shared per caller and
	// period, so one request charges each (key, period) row exactly once.
	usages := make([]RuleUsage, 0, len(evals))
	var quotaIncs map[PeriodKind]quotaInc
	for _, ev := range evals {
		if !ev.rule.LimitType.IsWindow() {
			if prev, ok := quotaIncs[ev.rule.LimitType.Period()]; ok {
				remaining := prev.remaining + ev.effective - prev.effective
				if remaining < 0 {
					remaining = 0
				}
				usages = append(usages, RuleUsage{
					Scope:     ev.rule.Scope,
					LimitType: ev.rule.LimitType,
					Limit:     ev.effective,
					Remaining: remaining,
					ResetTime: ev.reset,
				})
				continue
			}
		}
		remaining, incErr := h.incrementUsage(ctx, ev, req, now)
		if errors.Is(incErr, ErrQuotaExceeded) {
			return h.deny(ctx, ev.rule, req, ev.effective, ev.reset, now), nil
		}
		if incErr != nil {
			return h.resolveFailure(ctx, req, "increment", incErr)
		}
		if !ev.rule.LimitType.IsWindow() {
			if quotaIncs == nil {
				quotaIncs = make(map[PeriodKind]quotaInc)
			}
			quotaIncs[ev.rule.LimitType.Period()] = quotaInc{effective: ev.effective, remaining: remaining}
		}
		usages = append(usages, RuleUsage{
			Scope:     ev.rule.Scope,
			LimitType: ev.rule.LimitType,
			Limit:     ev.effective,
			Remaining: remaining,
			ResetTime: ev.reset,
		})
	}

	h.metrics.IncDecision(req.SystemID, string(req.Scope), "allowed")
	h.recordDecisionRow(ctx, req, true, now)
	return allowedDecision(req, usages), nil
}

// GetQuota returns the current quota state for a key. The limit comes from
// the highest-priority enabled quota rule matching the key; with no matching
// rule the quota is uncapped.
func (h *AdmissionHandler) GetQuota(ctx context.Context, key QuotaKey, period PeriodKind) (*QuotaState, error) {
	if h == nil || h.quotas == nil {
		return nil, errors.New("handler is not initialized")
	}
	if key.SystemID == "" || key.ScopeValue == "" || !key.Scope.Valid() || !period.Valid() {
		return nil, ErrInvalidInput
	}
	limit, err := h.quotaLimitFor(ctx, key, period)
	if err != nil {
		return nil, err
	}
	return h.quotas.GetQuota(ctx, key, period, limit, h.now())
}

// IncrementQuota atomically adds usage, rejecting the whole increment with
// ErrQuotaExceeded when it would pass the limit.
func (h *AdmissionHandler) IncrementQuota(ctx context.Context, key QuotaKey, period PeriodKind, amount int64) (*QuotaState, error) {
	if h == nil || h.quotas == nil {
		return nil, errors.New("handler is not initialized")
	}
	if key.SystemID == "" || key.ScopeValue == "" || !key.Scope.Valid() || !period.Valid() || amount <= 0 {
		return nil, ErrInvalidInput
	}
	limit, err := h.quotaLimitFor(ctx, key, period)
	if err != nil {
		return nil, err
	}
	unlock := h.locks.Lock(scopeKey(key.SystemID, key.Scope, key.ScopeValue, key.ResourceType))
	defer unlock()
	return h.quotas.IncrementQuota(ctx, key, period, limit, amount, h.now())
}

func (h *AdmissionHandler) readUsage(ctx context.Context, rule *Rule, req *CheckRequest, effective int64, now time.Time) (int64, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	if rule.LimitType.IsWindow() {
		window := rule.LimitType.Window()
		var count int64
		err := h.guard(func() error {
			var countErr error
			count, countErr = h.counters.CurrentCount(ctx, counterKeyFor(rule, req), window, now)
			return countErr
		})
		return count, windowEnd(now, window), err
	}
	period := rule.LimitType.Period()
	var state *QuotaState
	err := h.guard(func() error {
		var quotaErr error
		state, quotaErr = h.quotas.GetQuota(ctx, quotaKeyFor(req), period, effective, now)
		return quotaErr
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return state.Current, state.ResetTime, nil
}

func (h *AdmissionHandler) incrementUsage(ctx context.Context, ev ruleEval, req *CheckRequest, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	if ev.rule.LimitType.IsWindow() {
		var count int64
		err := h.guard(func() error {
			var incErr error
			count, incErr = h.counters.Increment(ctx, counterKeyFor(ev.rule, req), ev.rule.LimitType.Window(), now)
			return incErr
		})
		if err != nil {
			return 0, err
		}
		remaining := ev.effective - count
		if remaining < 0 {
			remaining = 0
		}
		return remaining, nil
	}
	state, err := h.quotas.IncrementQuota(ctx, quotaKeyFor(req), ev.rule.LimitType.Period(), ev.effective, 1, now)
	if err != nil {
		return 0, err
	}
	return state.Remaining, nil
}

func (h *AdmissionHandler) deny(ctx context.Context, rule *Rule, req *CheckRequest, effective int64, reset time.Time, now time.Time) *Decision {
	if h.violations != nil {
		// The audit write runs under the caller's scope lock; it gets its
		// own deadline so a hung violation store cannot stall the decision.
		rctx, cancel := context.WithTimeout(ctx, h.opTimeout)
		h.violations.Record(rctx, rule, req, effective, true)
		cancel()
	}
	h.metrics.IncDecision(req.SystemID, string(req.Scope), "denied")
	h.recordDecisionRow(ctx, req, false, now)
	retry := reset.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return &Decision{
		Allowed:    false,
		Scope:      rule.Scope,
		LimitType:  rule.LimitType,
		Limit:      effective,
		Remaining:  0,
		ResetTime:  reset,
		RetryAfter: retry,
	}
}

// resolveFailure applies the configured failure policy to a dependency
// error. Cancellation always propagates as an error.
func (h *AdmissionHandler) resolveFailure(ctx context.Context, req *CheckRequest, op string, err error) (*Decision, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, Wrap(CodeCancelled, "check cancelled", err)
	}
	h.metrics.IncStoreError(op)
	h.logger.Error("admission dependency failure", map[string]any{
		"op":     op,
		"system": req.SystemID,
		"policy": string(h.policy),
		"error":  err.Error(),
	})
	if h.policy == FailClosed {
		h.metrics.IncDecision(req.SystemID, string(req.Scope), "denied")
		return &Decision{Allowed: false, Scope: req.Scope}, nil
	}
	h.metrics.IncDecision(req.SystemID, string(req.Scope), "allowed")
	return &Decision{Allowed: true, Scope: req.Scope}, nil
}

func (h *AdmissionHandler) recordDecisionRow(ctx context.Context, req *CheckRequest, allowed bool, now time.Time) {
	if h.decisions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	if err := h.decisions.RecordDecision(ctx, req.SystemID, req.Scope, req.ScopeValue, allowed, now); err != nil {
		h.logger.Error("decision metric write failed", map[string]any{
			"system": req.SystemID,
			"error":  err.Error(),
		})
	}
}

// quotaLimitFor resolves the limit for a management quota operation from the
// matching quota rule; -1 means uncapped.
func (h *AdmissionHandler) quotaLimitFor(ctx context.Context, key QuotaKey, period PeriodKind) (int64, error) {
	rules, err := h.rules.Rules(ctx, key.SystemID)
	if err != nil {
		return 0, err
	}
	for _, rule := range rules {
		if rule.LimitType.IsWindow() || rule.LimitType.Period() != period {
			continue
		}
		if rule.AppliesTo(key.Scope, key.ScopeValue, key.ResourceType) {
			return rule.LimitValue, nil
		}
	}
	return -1, nil
}

func (h *AdmissionHandler) guard(fn func() error) error {
	if h.breaker == nil {
		return fn()
	}
	return h.breaker.Do(fn)
}

func counterKeyFor(rule *Rule, req *CheckRequest) CounterKey {
	return CounterKey{
		RuleID:       rule.ID,
		SystemID:     req.SystemID,
		Scope:        req.Scope,
		ScopeValue:   req.ScopeValue,
		ResourceType: req.ResourceType,
	}
}

func quotaKeyFor(req *CheckRequest) QuotaKey {
	return QuotaKey{
		SystemID:     req.SystemID,
		Scope:        req.Scope,
		ScopeValue:   req.ScopeValue,
		ResourceType: req.ResourceType,
	}
}

func allowedDecision(req *CheckRequest, usages []RuleUsage) *Decision {
	decision := &Decision{Allowed: true, Scope: req.Scope, Usages: usages}
	first := true
	for _, usage := range usages {
		if first || usage.Remaining < decision.Remaining {
			decision.LimitType = usage.LimitType
			decision.Limit = usage.Limit
			decision.Remaining = usage.Remaining
			decision.ResetTime = usage.ResetTime
			first = false
		}
	}
	return decision
}
