// Package ratelimit provides the HTTP transport.
package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPTransport serves the admission and management APIs over HTTP.
type HTTPTransport struct {
	addr         string
	srv          *http.Server
	admission    AdmissionService
	admin        AdminService
	appReady     func() bool
	promHandler  http.Handler
	logger       Logger
	enableAuth   bool
	adminToken   string
	maxBodyBytes int64
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	router       http.Handler
	mu           sync.Mutex
}

// HTTPTransportOptions configures the transport.
type HTTPTransportOptions struct {
	Addr         string
	Ready        func() bool
	PromHandler  http.Handler
	Logger       Logger
	EnableAuth   bool
	AdminToken   string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewHTTPTransport constructs a transport bound to an address.
func NewHTTPTransport(opts HTTPTransportOptions) *HTTPTransport {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Ready == nil {
		opts.Ready = func() bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	return &HTTPTransport{
		addr:         opts.Addr,
		appReady:     opts.Ready,
		promHandler:  opts.PromHandler,
		logger:       opts.Logger,
		enableAuth:   opts.EnableAuth,
		adminToken:   opts.AdminToken,
		maxBodyBytes: opts.MaxBodyBytes,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		idleTimeout:  opts.IdleTimeout,
	}
}

// ServeAdmission registers the admission service.
func (t *HTTPTransport) ServeAdmission(service AdmissionService) error {
	if service == nil {
		return errors.New("admission service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admission = service
	return nil
}

// ServeAdmin registers the management service.
func (t *HTTPTransport) ServeAdmin(service AdminService) error {
	if service == nil {
		return errors.New("admin service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admin = service
	return nil
}

// Start begins serving HTTP requests and blocks until shutdown.
func (t *HTTPTransport) Start() error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	handler, err := t.handler()
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.srv == nil {
		t.srv = &http.Server{
			Addr:         t.addr,
			Handler:      handler,
			ReadTimeout:  t.readTimeout,
			WriteTimeout: t.writeTimeout,
			IdleTimeout:  t.idleTimeout,
		}
	}
	srv := t.srv
	t.mu.Unlock()

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, draining in-flight requests.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	srv := t.srv
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (t *HTTPTransport) Handler() (http.Handler, error) {
	return t.handler()
}

func (t *HTTPTransport) handler() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.router != nil {
		return t.router, nil
	}
	if t.admission == nil || t.admin == nil {
		return nil, errors.New("services must be registered before starting")
	}

	r := chi.NewRouter()
	r.Post("/v1/check", t.handleCheck)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(t.adminAuth)
		r.Post("/rules", t.handleCreateRule)
		r.Get("/rules", t.handleListRules)
		r.Get("/rules/{id}", t.handleGetRule)
		r.Put("/rules/{id}", t.handleUpdateRule)
		r.Delete("/rules/{id}", t.handleDeleteRule)
		r.Get("/quota", t.handleGetQuota)
		r.Post("/quota/increment", t.handleIncrementQuota)
		r.Get("/violations", t.handleListViolations)
		r.Get("/violations/stats", t.handleViolationStats)
		r.Post("/cleanup", t.handleCleanup)
		r.Post("/signals/load", t.handleLoadSample)
		r.Put("/signals/reputation", t.handleReputation)
	})

	r.Get("/healthz", t.handleHealth)
	r.Get("/readyz", t.handleReady)
	if t.promHandler != nil {
		r.Get("/metrics", t.promHandler.ServeHTTP)
	}

	t.router = r
	return r, nil
}

func (t *HTTPTransport) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.enableAuth {
			expected := "Bearer " + t.adminToken
			if r.Header.Get("Authorization") != expected {
				t.writeError(w, r, http.StatusUnauthorized, Wrap(CodeUnauthorized, "unauthorized", nil))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
