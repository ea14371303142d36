// Package ratelimit provides the built-in load sampler.
package ratelimit

import (
	"context"
	"errors"
	"runtime"
	"time"
)

// LoadSampler periodically records process load into the signal store so
// the limit adjuster has a fresh sample even without an external monitor.
// Memory pressure is approximated from heap usage against the configured
// budget; CPU is approximated from goroutine pressure against GOMAXPROCS.
type LoadSampler struct {
	signals     SignalStore
	interval    time.Duration
	memoryBytes uint64
	logger      Logger
	now         func() time.Time
}

// NewLoadSampler constructs the sampler. memoryBudget is the byte count
// treated as 100% memory pressure; zero disables the memory signal.
func NewLoadSampler(signals SignalStore, interval time.Duration, memoryBudget uint64, logger Logger, now func() time.Time) *LoadSampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = NopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &LoadSampler{
		signals:     signals,
		interval:    interval,
		memoryBytes: memoryBudget,
		logger:      logger,
		now:         now,
	}
}

// Start begins the sampling loop and blocks until ctx ends.
func (l *LoadSampler) Start(ctx context.Context) error {
	if l == nil || l.signals == nil {
		return errors.New("load sampler is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.sample(ctx); err != nil {
				l.logger.Error("load sample failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (l *LoadSampler) sample(ctx context.Context) error {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	goroutines := runtime.NumGoroutine()
	cpu := float64(goroutines) / float64(runtime.GOMAXPROCS(0)*100) * 100
	if cpu > 100 {
		cpu = 100
	}
	var memory float64
	if l.memoryBytes > 0 {
		memory = float64(stats.HeapAlloc) / float64(l.memoryBytes) * 100
		if memory > 100 {
			memory = 100
		}
	}
	return l.signals.RecordLoadSample(ctx, &LoadSample{
		CPUPercent:    cpu,
		MemoryPercent: memory,
		Goroutines:    goroutines,
		SampledAt:     l.now(),
	})
}
