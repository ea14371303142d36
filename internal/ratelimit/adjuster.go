// Package ratelimit adjusts effective limits from reputation and load.
package ratelimit

import (
	"context"
	"time"
)

// LimitAdjuster computes the effective limit for one evaluation. The
// adjustment is never persisted and must not mutate the underlying signals.
type LimitAdjuster interface {
	EffectiveLimit(ctx context.Context, base int64, scope ScopeKind, scopeValue string) int64
}

// ThrottleThresholds configures load-based auto-throttle.
type ThrottleThresholds struct {
	Enabled        bool
	HighCPU        float64
	HighMemory     float64
	CriticalCPU    float64
	CriticalMemory float64
	HighFactor     float64
	CriticalFactor float64
	SampleMaxAge   time.Duration
}

// DefaultThrottleThresholds mirrors the reference deployment: throttle at 80%
// CPU or memory, throttle hard at 95%.
func DefaultThrottleThresholds() ThrottleThresholds {
	return ThrottleThresholds{
		Enabled:        true,
		HighCPU:        80,
		HighMemory:     80,
		CriticalCPU:    95,
		CriticalMemory: 95,
		HighFactor:     0.5,
		CriticalFactor: 0.2,
		SampleMaxAge:   30 * time.Second,
	}
}

// SignalAdjuster multiplies base limits by a reputation-tier factor and a
// load-throttle factor. Missing or unreadable signals leave the base limit
// unmodified: the adjuster fails open, never closed.
type SignalAdjuster struct {
	signals    SignalStore
	thresholds ThrottleThresholds
	now        func() time.Time
}

// NewSignalAdjuster constructs the default adjuster.
func NewSignalAdjuster(signals SignalStore, thresholds ThrottleThresholds, now func() time.Time) *SignalAdjuster {
	if now == nil {
		now = time.Now
	}
	if thresholds.SampleMaxAge <= 0 {
		thresholds.SampleMaxAge = 30 * time.Second
	}
	return &SignalAdjuster{signals: signals, thresholds: thresholds, now: now}
}

// EffectiveLimit returns the adjusted limit for one evaluation. A base of
// zero stays zero (always deny); a positive base never adjusts below one.
func (a *SignalAdjuster) EffectiveLimit(ctx context.Context, base int64, scope ScopeKind, scopeValue string) int64 {
	if a == nil || base <= 0 {
		return base
	}
	multiplier := a.reputationMultiplier(ctx, scope, scopeValue) * a.loadMultiplier(ctx)
	adjusted := int64(float64(base) * multiplier)
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}

func (a *SignalAdjuster) reputationMultiplier(ctx context.Context, scope ScopeKind, scopeValue string) float64 {
	if a.signals == nil || scopeValue == "" {
		return 1
	}
	rep, err := a.signals.GetReputation(ctx, scope, scopeValue)
	if err != nil || rep == nil {
		return 1
	}
	return reputationMultiplier(rep.Score)
}

func (a *SignalAdjuster) loadMultiplier(ctx context.Context) float64 {
	if !a.thresholds.Enabled || a.signals == nil {
		return 1
	}
	sample, err := a.signals.LatestLoadSample(ctx, a.thresholds.SampleMaxAge, a.now())
	if err != nil || sample == nil {
		return 1
	}
	t := a.thresholds
	if sample.CPUPercent >= t.CriticalCPU || sample.MemoryPercent >= t.CriticalMemory {
		return t.CriticalFactor
	}
	if sample.CPUPercent >= t.HighCPU || sample.MemoryPercent >= t.HighMemory {
		return t.HighFactor
	}
	return 1
}

// reputationMultiplier maps a trust score onto a limit factor. Low scores
// shrink the limit, trusted and premium callers get headroom.
func reputationMultiplier(score float64) float64 {
	switch {
	case score < 20:
		return 0.5
	case score < 40:
		return 0.75
	case score < 50:
		return 0.9
	case score < 75:
		return 1.0
	case score < 90:
		return 1.2
	default:
		return 1.5
	}
}
