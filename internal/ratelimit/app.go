// Package ratelimit wires application dependencies.
package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
)

// Application holds core components for the service.
type Application struct {
	Config           *Config
	Store            Store
	RuleCache        *RuleCache
	Adjuster         *SignalAdjuster
	Violations       *ViolationRecorder
	AdmissionHandler *AdmissionHandler
	AdminHandler     *AdminHandler
	Cleanup          *CleanupScheduler
	LoadSampler      *LoadSampler

	metrics       Metrics
	promMetrics   *PromMetrics
	logger        Logger
	sqlStore      *SQLStore
	redisCounters *RedisCounterStore
	httpTransport *HTTPTransport
	grpcTransport *GRPCTransport
	transports    []interface {
		Shutdown(ctx context.Context) error
	}
	ready  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication validates configuration and prepares the application.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NewSlogLogger(os.Stdout)
	}

	app := &Application{Config: cfg, logger: logger}

	metrics := cfg.Metrics
	if metrics == nil {
		prom := NewPromMetrics()
		app.promMetrics = prom
		metrics = prom
	}
	app.metrics = metrics

	store := cfg.Store
	if store == nil {
		if cfg.DatabasePath != "" {
			sqlStore, err := OpenSQLStore(cfg.DatabasePath)
			if err != nil {
				return nil, err
			}
			app.sqlStore = sqlStore
			store = sqlStore
		} else {
			store = NewMemoryStore(nil)
		}
	}
	app.Store = store

	counters := CounterStore(store)
	if cfg.RedisAddr != "" {
		redisCounters, err := DialRedisCounterStore(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		app.redisCounters = redisCounters
		counters = redisCounters
	}

	app.RuleCache = NewRuleCache(store, cfg.RuleCacheTTL, nil, logger)
	app.Adjuster = NewSignalAdjuster(store, cfg.Throttle, nil)
	app.Violations = NewViolationRecorder(store, metrics, logger, nil)
	breaker := NewStoreBreaker(cfg.BreakerOptions, nil)

	app.AdmissionHandler = NewAdmissionHandler(app.RuleCache, counters, store, app.Violations, AdmissionHandlerOptions{
		Adjuster:   app.Adjuster,
		Decisions:  store,
		Breaker:    breaker,
		Metrics:    metrics,
		Logger:     logger,
		Policy:     cfg.FailPolicy,
		OpTimeout:  cfg.RequestTimeout,
		LockShards: cfg.LockShards,
	})
	app.Cleanup = NewCleanupScheduler(counters, store, store, cfg.Cleanup, metrics, logger, nil)
	app.AdminHandler = NewAdminHandler(store, app.RuleCache, app.Violations, store, app.Cleanup, logger, nil)
	if cfg.LoadSampleInterval > 0 {
		app.LoadSampler = NewLoadSampler(store, cfg.LoadSampleInterval, cfg.MemoryBudgetBytes, logger, nil)
	}

	if cfg.EnableHTTP {
		opts := HTTPTransportOptions{
			Addr:         cfg.HTTPListenAddr,
			Ready:        app.Ready,
			Logger:       logger,
			EnableAuth:   cfg.EnableAuth,
			AdminToken:   cfg.AdminToken,
			MaxBodyBytes: cfg.MaxBodyBytes,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
		}
		if app.promMetrics != nil {
			opts.PromHandler = app.promMetrics.Handler()
		}
		transport := NewHTTPTransport(opts)
		if err := transport.ServeAdmission(app.AdmissionHandler); err != nil {
			return nil, err
		}
		if err := transport.ServeAdmin(app.AdminHandler); err != nil {
			return nil, err
		}
		app.httpTransport = transport
		app.transports = append(app.transports, transport)
	}
	if cfg.EnableGRPC {
		transport := NewGRPCTransport(cfg.GRPCListenAddr, app.Ready, cfg.GRPCKeepAlive)
		app.grpcTransport = transport
		app.transports = append(app.transports, transport)
	}

	return app, nil
}

// Start begins background work for the application.
func (app *Application) Start(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if app.Cleanup != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.Cleanup.Start(ctx)
		}()
	}
	if app.LoadSampler != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.LoadSampler.Start(ctx)
		}()
	}
	if app.httpTransport != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.httpTransport.Start()
		}()
	}
	if app.grpcTransport != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.grpcTransport.Start()
		}()
	}

	app.ready.Store(true)
	app.logger.Info("application started", map[string]any{
		"http": app.httpTransport != nil,
		"grpc": app.grpcTransport != nil,
	})
	return nil
}

// Shutdown stops background work for the application.
func (app *Application) Shutdown(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	app.ready.Store(false)
	for _, transport := range app.transports {
		if transport == nil {
			continue
		}
		_ = transport.Shutdown(ctx)
	}
	if app.Cleanup != nil {
		app.Cleanup.Stop()
	}
	if app.cancel != nil {
		app.cancel()
	}
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if app.redisCounters != nil {
		_ = app.redisCounters.Close()
	}
	if app.sqlStore != nil {
		_ = app.sqlStore.Close()
	}
	return waitErr
}

// Ready reports whether the application has completed startup.
func (app *Application) Ready() bool {
	if app == nil {
		return false
	}
	return app.ready.Load()
}
