// Package ratelimit provides the gRPC health endpoint.
package ratelimit

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCTransport exposes the standard gRPC health protocol so orchestrators
// that probe over gRPC can track readiness. Serving status follows the
// application's readiness signal.
type GRPCTransport struct {
	addr      string
	lis       net.Listener
	srv       *grpc.Server
	healthSrv *health.Server
	ready     func() bool
	keepAlive time.Duration
	interval  time.Duration
	stopOnce  sync.Once
	stop      chan struct{}
	mu        sync.Mutex
}

// NewGRPCTransport constructs a transport bound to an address.
func NewGRPCTransport(addr string, ready func() bool, keepAlive time.Duration) *GRPCTransport {
	if addr == "" {
		addr = ":9090"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	return &GRPCTransport{
		addr:      addr,
		ready:     ready,
		keepAlive: keepAlive,
		interval:  time.Second,
		stop:      make(chan struct{}),
	}
}

// Start begins serving gRPC health checks and blocks until shutdown.
func (t *GRPCTransport) Start() error {
	if t == nil {
		return errors.New("grpc transport is nil")
	}
	t.mu.Lock()
	listener := t.lis
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", t.addr)
		if err != nil {
			t.mu.Unlock()
			return err
		}
		t.lis = listener
	}
	if t.srv == nil {
		t.srv = grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{Time: t.keepAlive}))
		t.healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(t.srv, t.healthSrv)
	}
	srv := t.srv
	t.mu.Unlock()

	go t.trackReadiness()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// trackReadiness mirrors the readiness signal into the health service.
func (t *GRPCTransport) trackReadiness() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if t.ready() {
				status = healthpb.HealthCheckResponse_SERVING
			}
			t.mu.Lock()
			if t.healthSrv != nil {
				t.healthSrv.SetServingStatus("", status)
			}
			t.mu.Unlock()
		}
	}
}

// Shutdown stops the gRPC server, draining in-flight calls.
func (t *GRPCTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("grpc transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.stopOnce.Do(func() { close(t.stop) })
	t.mu.Lock()
	srv := t.srv
	listener := t.lis
	if t.healthSrv != nil {
		t.healthSrv.Shutdown()
	}
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		if listener != nil {
			_ = listener.Close()
		}
		return ctx.Err()
	}
	if listener != nil {
		_ = listener.Close()
	}
	return nil
}
