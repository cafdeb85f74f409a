// Package grpcserver exposes the standard gRPC health service so
// orchestrators can probe the relay. SERVING means the bus is connected.
package grpcserver

import (
	"context"
	"log/slog"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "espc3d.Relay"

type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func New(addr string, lg *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: lg.With("component", "grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "grpc listen %s", s.addr)
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc health listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "grpc serve")
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	}
}
