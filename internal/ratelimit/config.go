// Package ratelimit provides configuration for the application wiring.
package ratelimit

import "time"

// Valid reports whether the policy is known.
func (p FailurePolicy) Valid() bool {
	return p == FailOpen || p == FailClosed
}

// Config captures dependency and runtime settings.
type Config struct {
	HTTPListenAddr string
	EnableHTTP     bool
	EnableGRPC     bool
	GRPCListenAddr string
	GRPCKeepAlive  time.Duration

	// DatabasePath selects the SQLite backend; empty keeps state in memory.
	DatabasePath string

	// RedisAddr moves window counters to Redis so instances share counts;
	// empty keeps counters in the primary store.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	RuleCacheTTL   time.Duration
	FailPolicy     FailurePolicy
	RequestTimeout time.Duration
	DrainTimeout   time.Duration
	LockShards     int

	BreakerOptions CircuitOptions
	Cleanup        CleanupOptions
	Throttle       ThrottleThresholds

	LoadSampleInterval time.Duration
	MemoryBudgetBytes  uint64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	MaxBodyBytes     int64

	EnableAuth bool
	AdminToken string

	Store   Store
	Metrics Metrics
	Logger  Logger
}
