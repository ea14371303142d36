// Package ratelimit provides configuration loading.
package ratelimit

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions controls config loading.
type LoadOptions struct {
	ConfigPath string
	Args       []string
	Environ    []string
}

// LoadConfig loads configuration from defaults, file, env, and flags,
// later layers overriding earlier ones.
func LoadConfig(opts LoadOptions) (*Config, error) {
	args := opts.Args
	if args == nil {
		args = os.Args[1:]
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	flagOverrides, err := parseFlagOverrides(args)
	if err != nil {
		return nil, err
	}

	configPath := opts.ConfigPath
	if flagOverrides.ConfigPath != nil {
		configPath = *flagOverrides.ConfigPath
	}

	cfg := defaultConfig()
	if configPath != "" {
		fileOverrides, err := loadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		applyConfigOverrides(cfg, fileOverrides)
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, flagOverrides)
	if !cfg.FailPolicy.Valid() {
		return nil, fmt.Errorf("invalid fail policy %q", cfg.FailPolicy)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		EnableHTTP:     true,
		HTTPListenAddr: ":8080",
		EnableGRPC:     true,
		GRPCListenAddr: ":9090",
		GRPCKeepAlive:  60 * time.Second,
		RedisKeyPrefix: "quotaguard",
		RuleCacheTTL:   5 * time.Minute,
		FailPolicy:     FailOpen,
		RequestTimeout: 500 * time.Millisecond,
		DrainTimeout:   5 * time.Second,
		LockShards:     64,
		BreakerOptions: CircuitOptions{
			FailureThreshold: 10,
			OpenDuration:     200 * time.Millisecond,
			HalfOpenMaxCalls: 5,
		},
		Cleanup:            DefaultCleanupOptions(),
		Throttle:           DefaultThrottleThresholds(),
		LoadSampleInterval: 10 * time.Second,
		HTTPReadTimeout:    5 * time.Second,
		HTTPWriteTimeout:   10 * time.Second,
		HTTPIdleTimeout:    60 * time.Second,
		MaxBodyBytes:       1 << 20,
	}
}

type configOverrides struct {
	HTTPListenAddr *string        `yaml:"http_addr"`
	EnableHTTP     *bool          `yaml:"enable_http"`
	EnableGRPC     *bool          `yaml:"enable_grpc"`
	GRPCListenAddr *string        `yaml:"grpc_addr"`
	GRPCKeepAlive  *time.Duration `yaml:"grpc_keepalive"`

	DatabasePath   *string `yaml:"database_path"`
	RedisAddr      *string `yaml:"redis_addr"`
	RedisPassword  *string `yaml:"redis_password"`
	RedisDB        *int    `yaml:"redis_db"`
	RedisKeyPrefix *string `yaml:"redis_key_prefix"`

	RuleCacheTTL   *time.Duration `yaml:"rule_cache_ttl"`
	FailPolicy     *string        `yaml:"fail_policy"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`
	DrainTimeout   *time.Duration `yaml:"drain_timeout"`
	LockShards     *int           `yaml:"lock_shards"`

	Breaker *struct {
		FailureThreshold *int64         `yaml:"failure_threshold"`
		OpenDuration     *time.Duration `yaml:"open_duration"`
		HalfOpenMaxCalls *int64         `yaml:"half_open_max_calls"`
	} `yaml:"breaker"`

	Cleanup *struct {
		BucketInterval     *time.Duration `yaml:"bucket_interval"`
		ViolationInterval  *time.Duration `yaml:"violation_interval"`
		MetricInterval     *time.Duration `yaml:"metric_interval"`
		BucketRetention    *time.Duration `yaml:"bucket_retention"`
		ViolationRetention *time.Duration `yaml:"violation_retention"`
		MetricRetention    *time.Duration `yaml:"metric_retention"`
	} `yaml:"cleanup"`

	Throttle *struct {
		Enabled        *bool          `yaml:"enabled"`
		HighCPU        *float64       `yaml:"high_cpu"`
		HighMemory     *float64       `yaml:"high_memory"`
		CriticalCPU    *float64       `yaml:"critical_cpu"`
		CriticalMemory *float64       `yaml:"critical_memory"`
		HighFactor     *float64       `yaml:"high_factor"`
		CriticalFactor *float64       `yaml:"critical_factor"`
		SampleMaxAge   *time.Duration `yaml:"sample_max_age"`
	} `yaml:"throttle"`

	LoadSampleInterval *time.Duration `yaml:"load_sample_interval"`
	MemoryBudgetBytes  *uint64        `yaml:"memory_budget_bytes"`

	HTTPReadTimeout  *time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout *time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  *time.Duration `yaml:"http_idle_timeout"`
	MaxBodyBytes     *int64         `yaml:"max_body_bytes"`

	EnableAuth *bool   `yaml:"enable_auth"`
	AdminToken *string `yaml:"admin_token"`
}

func loadConfigFile(path string) (*configOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides configOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, err
	}
	return &overrides, nil
}

func applyConfigOverrides(cfg *Config, overrides *configOverrides) {
	if cfg == nil || overrides == nil {
		return
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.EnableHTTP != nil {
		cfg.EnableHTTP = *overrides.EnableHTTP
	}
	if overrides.EnableGRPC != nil {
		cfg.EnableGRPC = *overrides.EnableGRPC
	}
	if overrides.GRPCListenAddr != nil {
		cfg.GRPCListenAddr = *overrides.GRPCListenAddr
	}
	if overrides.GRPCKeepAlive != nil {
		cfg.GRPCKeepAlive = *overrides.GRPCKeepAlive
	}
	if overrides.DatabasePath != nil {
		cfg.DatabasePath = *overrides.DatabasePath
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.RedisPassword != nil {
		cfg.RedisPassword = *overrides.RedisPassword
	}
	if overrides.RedisDB != nil {
		cfg.RedisDB = *overrides.RedisDB
	}
	if overrides.RedisKeyPrefix != nil {
		cfg.RedisKeyPrefix = *overrides.RedisKeyPrefix
	}
	if overrides.RuleCacheTTL != nil {
		cfg.RuleCacheTTL = *overrides.RuleCacheTTL
	}
	if overrides.FailPolicy != nil {
		cfg.FailPolicy = FailurePolicy(*overrides.FailPolicy)
	}
	if overrides.RequestTimeout != nil {
		cfg.RequestTimeout = *overrides.RequestTimeout
	}
	if overrides.DrainTimeout != nil {
		cfg.DrainTimeout = *overrides.DrainTimeout
	}
	if overrides.LockShards != nil {
		cfg.LockShards = *overrides.LockShards
	}
	if overrides.Breaker != nil {
		if overrides.Breaker.FailureThreshold != nil {
			cfg.BreakerOptions.FailureThreshold = *overrides.Breaker.FailureThreshold
		}
		if overrides.Breaker.OpenDuration != nil {
			cfg.BreakerOptions.OpenDuration = *overrides.Breaker.OpenDuration
		}
		if overrides.Breaker.HalfOpenMaxCalls != nil {
			cfg.BreakerOptions.HalfOpenMaxCalls = *overrides.Breaker.HalfOpenMaxCalls
		}
	}
	if overrides.Cleanup != nil {
		if overrides.Cleanup.BucketInterval != nil {
			cfg.Cleanup.BucketInterval = *overrides.Cleanup.BucketInterval
		}
		if overrides.Cleanup.ViolationInterval != nil {
			cfg.Cleanup.ViolationInterval = *overrides.Cleanup.ViolationInterval
		}
		if overrides.Cleanup.MetricInterval != nil {
			cfg.Cleanup.MetricInterval = *overrides.Cleanup.MetricInterval
		}
		if overrides.Cleanup.BucketRetention != nil {
			cfg.Cleanup.BucketRetention = *overrides.Cleanup.BucketRetention
		}
		if overrides.Cleanup.ViolationRetention != nil {
			cfg.Cleanup.ViolationRetention = *overrides.Cleanup.ViolationRetention
		}
		if overrides.Cleanup.MetricRetention != nil {
			cfg.Cleanup.MetricRetention = *overrides.Cleanup.MetricRetention
		}
	}
	if overrides.Throttle != nil {
		if overrides.Throttle.Enabled != nil {
			cfg.Throttle.Enabled = *overrides.Throttle.Enabled
		}
		if overrides.Throttle.HighCPU != nil {
			cfg.Throttle.HighCPU = *overrides.Throttle.HighCPU
		}
		if overrides.Throttle.HighMemory != nil {
			cfg.Throttle.HighMemory = *overrides.Throttle.HighMemory
		}
		if overrides.Throttle.CriticalCPU != nil {
			cfg.Throttle.CriticalCPU = *overrides.Throttle.CriticalCPU
		}
		if overrides.Throttle.CriticalMemory != nil {
			cfg.Throttle.CriticalMemory = *overrides.Throttle.CriticalMemory
		}
		if overrides.Throttle.HighFactor != nil {
			cfg.Throttle.HighFactor = *overrides.Throttle.HighFactor
		}
		if overrides.Throttle.CriticalFactor != nil {
			cfg.Throttle.CriticalFactor = *overrides.Throttle.CriticalFactor
		}
		if overrides.Throttle.SampleMaxAge != nil {
			cfg.Throttle.SampleMaxAge = *overrides.Throttle.SampleMaxAge
		}
	}
	if overrides.LoadSampleInterval != nil {
		cfg.LoadSampleInterval = *overrides.LoadSampleInterval
	}
	if overrides.MemoryBudgetBytes != nil {
		cfg.MemoryBudgetBytes = *overrides.MemoryBudgetBytes
	}
	if overrides.HTTPReadTimeout != nil {
		cfg.HTTPReadTimeout = *overrides.HTTPReadTimeout
	}
	if overrides.HTTPWriteTimeout != nil {
		cfg.HTTPWriteTimeout = *overrides.HTTPWriteTimeout
	}
	if overrides.HTTPIdleTimeout != nil {
		cfg.HTTPIdleTimeout = *overrides.HTTPIdleTimeout
	}
	if overrides.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *overrides.MaxBodyBytes
	}
	if overrides.EnableAuth != nil {
		cfg.EnableAuth = *overrides.EnableAuth
	}
	if overrides.AdminToken != nil {
		cfg.AdminToken = *overrides.AdminToken
	}
}

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)
	if value, ok := values["QUOTAGUARD_HTTP_ADDR"]; ok {
		cfg.HTTPListenAddr = value
	}
	if value, ok := values["QUOTAGUARD_ENABLE_HTTP"]; ok {
		parsed, err := parseBoolEnv("QUOTAGUARD_ENABLE_HTTP", value)
		if err != nil {
			return err
		}
		cfg.EnableHTTP = parsed
	}
	if value, ok := values["QUOTAGUARD_ENABLE_GRPC"]; ok {
		parsed, err := parseBoolEnv("QUOTAGUARD_ENABLE_GRPC", value)
		if err != nil {
			return err
		}
		cfg.EnableGRPC = parsed
	}
	if value, ok := values["QUOTAGUARD_GRPC_ADDR"]; ok {
		cfg.GRPCListenAddr = value
	}
	if value, ok := values["QUOTAGUARD_DB_PATH"]; ok {
		cfg.DatabasePath = value
	}
	if value, ok := values["QUOTAGUARD_REDIS_ADDR"]; ok {
		cfg.RedisAddr = value
	}
	if value, ok := values["QUOTAGUARD_REDIS_PASSWORD"]; ok {
		cfg.RedisPassword = value
	}
	if value, ok := values["QUOTAGUARD_REDIS_DB"]; ok {
		parsed, err := parseIntEnv("QUOTAGUARD_REDIS_DB", value)
		if err != nil {
			return err
		}
		cfg.RedisDB = parsed
	}
	if value, ok := values["QUOTAGUARD_FAIL_POLICY"]; ok {
		cfg.FailPolicy = FailurePolicy(value)
	}
	if value, ok := values["QUOTAGUARD_RULE_CACHE_TTL"]; ok {
		parsed, err := parseDurationEnv("QUOTAGUARD_RULE_CACHE_TTL", value)
		if err != nil {
			return err
		}
		cfg.RuleCacheTTL = parsed
	}
	if value, ok := values["QUOTAGUARD_REQUEST_TIMEOUT"]; ok {
		parsed, err := parseDurationEnv("QUOTAGUARD_REQUEST_TIMEOUT", value)
		if err != nil {
			return err
		}
		cfg.RequestTimeout = parsed
	}
	if value, ok := values["QUOTAGUARD_ENABLE_AUTH"]; ok {
		parsed, err := parseBoolEnv("QUOTAGUARD_ENABLE_AUTH", value)
		if err != nil {
			return err
		}
		cfg.EnableAuth = parsed
	}
	if value, ok := values["QUOTAGUARD_ADMIN_TOKEN"]; ok {
		cfg.AdminToken = value
	}
	return nil
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		values[key] = value
	}
	return values
}

func parseBoolEnv(key, value string) (bool, error) {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %q", key, value)
	}
	return parsed, nil
}

func parseIntEnv(key, value string) (int, error) {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q", key, value)
	}
	return parsed, nil
}

func parseDurationEnv(key, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, value)
	}
	return parsed, nil
}

type flagOverrides struct {
	ConfigPath     *string
	HTTPListenAddr *string
	EnableHTTP     *bool
	EnableGRPC     *bool
	GRPCListenAddr *string
	DatabasePath   *string
	RedisAddr      *string
	FailPolicy     *string
	EnableAuth     *bool
	AdminToken     *string
}

func parseFlagOverrides(args []string) (flagOverrides, error) {
	fs := flag.NewFlagSet("quotaguard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	configPath := fs.String("config", "", "config file path")
	httpAddr := fs.String("http_addr", "", "http address")
	enableHTTP := fs.Bool("enable_http", false, "enable http")
	enableGRPC := fs.Bool("enable_grpc", false, "enable grpc")
	grpcAddr := fs.String("grpc_addr", "", "grpc address")
	dbPath := fs.String("db_path", "", "sqlite database path")
	redisAddr := fs.String("redis_addr", "", "redis address")
	failPolicy := fs.String("fail_policy", "", "fail policy (open or closed)")
	enableAuth := fs.Bool("enable_auth", false, "enable auth")
	adminToken := fs.String("admin_token", "", "admin token")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return flagOverrides{}, flag.ErrHelp
		}
		return flagOverrides{}, errors.New("invalid flag values")
	}

	overrides := flagOverrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			overrides.ConfigPath = configPath
		case "http_addr":
			overrides.HTTPListenAddr = httpAddr
		case "enable_http":
			overrides.EnableHTTP = enableHTTP
		case "enable_grpc":
			overrides.EnableGRPC = enableGRPC
		case "grpc_addr":
			overrides.GRPCListenAddr = grpcAddr
		case "db_path":
			overrides.DatabasePath = dbPath
		case "redis_addr":
			overrides.RedisAddr = redisAddr
		case "fail_policy":
			overrides.FailPolicy = failPolicy
		case "enable_auth":
			overrides.EnableAuth = enableAuth
		case "admin_token":
			overrides.AdminToken = adminToken
		}
	})
	return overrides, nil
}

func applyFlagOverrides(cfg *Config, overrides flagOverrides) {
	if cfg == nil {
		return
	}
	if overrides.HTTPListenAddr != nil {
		cfg.HTTPListenAddr = *overrides.HTTPListenAddr
	}
	if overrides.EnableHTTP != nil {
		cfg.EnableHTTP = *overrides.EnableHTTP
	}
	if overrides.EnableGRPC != nil {
		cfg.EnableGRPC = *overrides.EnableGRPC
	}
	if overrides.GRPCListenAddr != nil {
		cfg.GRPCListenAddr = *overrides.GRPCListenAddr
	}
	if overrides.DatabasePath != nil {
		cfg.DatabasePath = *overrides.DatabasePath
	}
	if overrides.RedisAddr != nil {
		cfg.RedisAddr = *overrides.RedisAddr
	}
	if overrides.FailPolicy != nil {
		cfg.FailPolicy = FailurePolicy(*overrides.FailPolicy)
	}
	if overrides.EnableAuth != nil {
		cfg.EnableAuth = *overrides.EnableAuth
	}
	if overrides.AdminToken != nil {
		cfg.AdminToken = *overrides.AdminToken
	}
}
