// Package ratelimit provides background retention workers.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CleanupKind names one retention-managed data category.
type CleanupKind string

const (
	CleanupBuckets    CleanupKind = "buckets"
	CleanupViolations CleanupKind = "violations"
	CleanupMetrics    CleanupKind = "metrics"
)

// Valid reports whether k is a known cleanup kind.
func (k CleanupKind) Valid() bool {
	switch k {
	case CleanupBuckets, CleanupViolations, CleanupMetrics:
		return true
	}
	return false
}

// CleanupOptions tunes the scheduler cadences and retention windows.
// Each category runs on its own ticker so a slow violation sweep never
// delays bucket eviction.
type CleanupOptions struct {
	BucketInterval    time.Duration
	ViolationInterval time.Duration
	MetricInterval    time.Duration

	BucketRetention    time.Duration
	ViolationRetention time.Duration
	MetricRetention    time.Duration
}

// DefaultCleanupOptions returns the production cadence settings.
func DefaultCleanupOptions() CleanupOptions {
	return CleanupOptions{
		BucketInterval:     time.Minute,
		ViolationInterval:  time.Hour,
		MetricInterval:     6 * time.Hour,
		BucketRetention:    48 * time.Hour,
		ViolationRetention: 30 * 24 * time.Hour,
		MetricRetention:    90 * 24 * time.Hour,
	}
}

// CleanupScheduler evicts expired counter buckets, aged violations, and
// old decision metric rows. Every sweep is idempotent, so overlapping
// manual and scheduled runs are harmless.
type CleanupScheduler struct {
	counters   CounterStore
	violations ViolationStore
	metrics    MetricStore
	opts       CleanupOptions
	observer   Metrics
	logger     Logger
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCleanupScheduler constructs the scheduler. Zero option fields fall
// back to defaults.
func NewCleanupScheduler(counters CounterStore, violations ViolationStore, metrics MetricStore, opts CleanupOptions, observer Metrics, logger Logger, now func() time.Time) *CleanupScheduler {
	def := DefaultCleanupOptions()
	if opts.BucketInterval <= 0 {
		opts.BucketInterval = def.BucketInterval
	}
	if opts.ViolationInterval <= 0 {
		opts.ViolationInterval = def.ViolationInterval
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = def.MetricInterval
	}
	if opts.BucketRetention <= 0 {
		opts.BucketRetention = def.BucketRetention
	}
	if opts.ViolationRetention <= 0 {
		opts.ViolationRetention = def.ViolationRetention
	}
	if opts.MetricRetention <= 0 {
		opts.MetricRetention = def.MetricRetention
	}
	if observer == nil {
		observer = NopMetrics{}
	}
	if logger == nil {
		logger = NopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &CleanupScheduler{
		counters:   counters,
		violations: violations,
		metrics:    metrics,
		opts:       opts,
		observer:   observer,
		logger:     logger,
		now:        now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches one loop per category and blocks until ctx ends or
// Stop is called.
func (s *CleanupScheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("cleanup scheduler is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer close(s.done)

	var wg sync.WaitGroup
	loops := []struct {
		kind      CleanupKind
		interval  time.Duration
		retention time.Duration
	}{
		{CleanupBuckets, s.opts.BucketInterval, s.opts.BucketRetention},
		{CleanupViolations, s.opts.ViolationInterval, s.opts.ViolationRetention},
		{CleanupMetrics, s.opts.MetricInterval, s.opts.MetricRetention},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(kind CleanupKind, interval, retention time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.stop:
					return
				case <-ticker.C:
					if _, err := s.Run(ctx, kind, retention); err != nil {
						s.logger.Error("cleanup sweep failed", map[string]any{
							"kind":  string(kind),
							"error": err.Error(),
						})
					}
				}
			}
		}(loop.kind, loop.interval, loop.retention)
	}
	wg.Wait()
	return nil
}

// Stop signals every loop to exit. Safe to call more than once.
func (s *CleanupScheduler) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run performs one sweep of the given kind and returns the number of
// entries removed.
func (s *CleanupScheduler) Run(ctx context.Context, kind CleanupKind, retention time.Duration) (int64, error) {
	if s == nil {
		return 0, errors.New("cleanup scheduler is not configured")
	}
	if !kind.Valid() {
		return 0, Wrap(CodeInvalidInput, "unknown cleanup kind", nil)
	}
	if retention <= 0 {
		return 0, Wrap(CodeInvalidInput, "retention must be positive", nil)
	}
	cutoff := s.now().Add(-retention)

	var (
		deleted int64
		err     error
	)
	switch kind {
	case CleanupBuckets:
		if s.counters == nil {
			return 0, nil
		}
		deleted, err = s.counters.DeleteExpiredBuckets(ctx, cutoff)
	case CleanupViolations:
		if s.violations == nil {
			return 0, nil
		}
		deleted, err = s.violations.DeleteOldViolations(ctx, cutoff)
	case CleanupMetrics:
		if s.metrics == nil {
			return 0, nil
		}
		deleted, err = s.metrics.DeleteOldMetrics(ctx, cutoff)
	}
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "cleanup sweep failed", err)
	}
	if deleted > 0 {
		s.observer.AddCleanupDeleted(string(kind), deleted)
		s.logger.Info("cleanup sweep completed", map[string]any{
			"kind":    string(kind),
			"deleted": deleted,
		})
	}
	return deleted, nil
}
