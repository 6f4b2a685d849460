package grpc

import (
	gogrpc "google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds the gRPC server exposing the health service.
func NewServer(reporter *HealthReporter) *gogrpc.Server {
	srv := gogrpc.NewServer(
		gogrpc.ChainUnaryInterceptor(LoggingUnaryInterceptor()),
		gogrpc.ChainStreamInterceptor(LoggingStreamInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, reporter.Server())
	return srv
}
