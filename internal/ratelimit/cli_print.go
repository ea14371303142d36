// Package ratelimit provides CLI helpers.
package ratelimit

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"
)

// PrintConfig writes the effective config to the writer as JSON. Secrets
// are redacted.
func PrintConfig(w io.Writer, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if w == nil {
		return errors.New("writer is required")
	}
	snapshot := newConfigSnapshot(cfg)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}

type durationMillis time.Duration

func (d durationMillis) MarshalJSON() ([]byte, error) {
	ms := time.Duration(d).Milliseconds()
	return []byte(strconv.FormatInt(ms, 10)), nil
}

type configSnapshot struct {
	HTTPListenAddr     string
	EnableHTTP         bool
	EnableGRPC         bool
	GRPCListenAddr     string
	GRPCKeepAlive      durationMillis
	DatabasePath       string
	RedisAddr          string
	RedisDB            int
	RedisKeyPrefix     string
	RuleCacheTTL       durationMillis
	FailPolicy         string
	RequestTimeout     durationMillis
	DrainTimeout       durationMillis
	LockShards         int
	BreakerOptions     circuitOptionsSnapshot
	Cleanup            cleanupSnapshot
	Throttle           throttleSnapshot
	LoadSampleInterval durationMillis
	MemoryBudgetBytes  uint64
	HTTPReadTimeout    durationMillis
	HTTPWriteTimeout   durationMillis
	HTTPIdleTimeout    durationMillis
	MaxBodyBytes       int64
	EnableAuth         bool
	AdminToken         string
}

type circuitOptionsSnapshot struct {
	FailureThreshold int64
	OpenDuration     durationMillis
	HalfOpenMaxCalls int64
}

type cleanupSnapshot struct {
	BucketInterval     durationMillis
	ViolationInterval  durationMillis
	MetricInterval     durationMillis
	BucketRetention    durationMillis
	ViolationRetention durationMillis
	MetricRetention    durationMillis
}

type throttleSnapshot struct {
	Enabled        bool
	HighCPU        float64
	HighMemory     float64
	CriticalCPU    float64
	CriticalMemory float64
	HighFactor     float64
	CriticalFactor float64
	SampleMaxAge   durationMillis
}

func newConfigSnapshot(cfg *Config) configSnapshot {
	token := ""
	if cfg.AdminToken != "" {
		token = "[redacted]"
	}
	return configSnapshot{
		HTTPListenAddr: cfg.HTTPListenAddr,
		EnableHTTP:     cfg.EnableHTTP,
		EnableGRPC:     cfg.EnableGRPC,
		GRPCListenAddr: cfg.GRPCListenAddr,
		GRPCKeepAlive:  durationMillis(cfg.GRPCKeepAlive),
		DatabasePath:   cfg.DatabasePath,
		RedisAddr:      cfg.RedisAddr,
		RedisDB:        cfg.RedisDB,
		RedisKeyPrefix: cfg.RedisKeyPrefix,
		RuleCacheTTL:   durationMillis(cfg.RuleCacheTTL),
		FailPolicy:     string(cfg.FailPolicy),
		RequestTimeout: durationMillis(cfg.RequestTimeout),
		DrainTimeout:   durationMillis(cfg.DrainTimeout),
		LockShards:     cfg.LockShards,
		BreakerOptions: circuitOptionsSnapshot{
			FailureThreshold: cfg.BreakerOptions.FailureThreshold,
			OpenDuration:     durationMillis(cfg.BreakerOptions.OpenDuration),
			HalfOpenMaxCalls: cfg.BreakerOptions.HalfOpenMaxCalls,
		},
		Cleanup: cleanupSnapshot{
			BucketInterval:     durationMillis(cfg.Cleanup.BucketInterval),
			ViolationInterval:  durationMillis(cfg.Cleanup.ViolationInterval),
			MetricInterval:     durationMillis(cfg.Cleanup.MetricInterval),
			BucketRetention:    durationMillis(cfg.Cleanup.BucketRetention),
			ViolationRetention: durationMillis(cfg.Cleanup.ViolationRetention),
			MetricRetention:    durationMillis(cfg.Cleanup.MetricRetention),
		},
		Throttle: throttleSnapshot{
			Enabled:        cfg.Throttle.Enabled,
			HighCPU:        cfg.Throttle.HighCPU,
			HighMemory:     cfg.Throttle.HighMemory,
			CriticalCPU:    cfg.Throttle.CriticalCPU,
			CriticalMemory: cfg.Throttle.CriticalMemory,
			HighFactor:     cfg.Throttle.HighFactor,
			CriticalFactor: cfg.Throttle.CriticalFactor,
			SampleMaxAge:   durationMillis(cfg.Throttle.SampleMaxAge),
		},
		LoadSampleInterval: durationMillis(cfg.LoadSampleInterval),
		MemoryBudgetBytes:  cfg.MemoryBudgetBytes,
		HTTPReadTimeout:    durationMillis(cfg.HTTPReadTimeout),
		HTTPWriteTimeout:   durationMillis(cfg.HTTPWriteTimeout),
		HTTPIdleTimeout:    durationMillis(cfg.HTTPIdleTimeout),
		MaxBodyBytes:       cfg.MaxBodyBytes,
		EnableAuth:         cfg.EnableAuth,
		AdminToken:         token,
	}
}
