package grpcserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key reported next to the overall "" status.
const ServiceName = "goph.auth.v1.Auth"

// DefaultProbeTimeout bounds a single readiness ping.
const DefaultProbeTimeout = 2 * time.Second

// Health mirrors store readiness into the standard gRPC health service.
type Health struct {
	srv     *health.Server
	ping    func(context.Context) error
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewHealth starts in NOT_SERVING until the first successful probe.
func NewHealth(ping func(context.Context) error, log *zap.Logger) *Health {
	h := &Health{
		srv:     health.NewServer(),
		ping:    ping,
		timeout: DefaultProbeTimeout,
		log:     log.Named("health"),
		last:    healthpb.HealthCheckResponse_NOT_SERVING,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Server exposes the underlying health implementation for registration.
func (h *Health) Server() *health.Server { return h.srv }

// Probe pings the store once and publishes the result.
func (h *Health) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	err := h.ping(ctx)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}

	h.mu.Lock()
	changed := st != h.last
	h.last = st
	h.mu.Unlock()

	if changed {
		if err != nil {
			h.log.Warn("store unreachable", zap.Error(err))
		} else {
			h.log.Info("store reachable")
		}
	}
	h.set(st)
	return st
}

// Watch probes every interval until ctx is done, then marks the service NOT_SERVING for good.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-t.C:
			h.Probe(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
