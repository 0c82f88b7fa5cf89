// Package probe exposes a grpc.health.v1 endpoint whose serving status
// follows the freshness of chain data.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name probes can ask about.
const ServiceName = "promptpot.Game"

// Checker reports whether the service can serve current chain data.
type Checker interface {
	Fresh() bool
}

// Server is a gRPC server that only hosts the health service.
type Server struct {
	grpc     *gogrpc.Server
	health   *health.Server
	listener net.Listener
	checker  Checker
	interval time.Duration
}

// Listen binds addr and prepares the health server. Call Serve to start it.
func Listen(addr string, checker Checker, interval time.Duration) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := gogrpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpc:     grpcServer,
		health:   healthServer,
		listener: listener,
		checker:  checker,
		interval: interval,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs the server and the status updater until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	go s.watch(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(s.listener)
	}()
	slog.Info("gRPC health probe listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve gRPC health: %w", err)
		}
		return nil
	}
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last grpc_health_v1.HealthCheckResponse_ServingStatus = -1
	for {
		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if s.checker.Fresh() {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		if status != last {
			s.health.SetServingStatus(ServiceName, status)
			slog.Info("Game serving status changed", "status", status.String())
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
