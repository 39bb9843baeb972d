// Package grpcserver hosts the gRPC side listener of the auth service: the standard
// health protocol backed by store readiness, plus reflection in development.
package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configure New.
type Options struct {
	Log        *zap.Logger
	Health     *Health
	Reflection bool
}

// New builds a gRPC server with recovery and logging interceptors and the health service registered.
func New(opts Options) *grpc.Server {
	log := opts.Log.Named("grpc")
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	if opts.Health != nil {
		healthpb.RegisterHealthServer(s, opts.Health.Server())
	}
	if opts.Reflection {
		reflection.Register(s)
	}
	return s
}
