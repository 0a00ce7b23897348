package grpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer hosts the standard gRPC health-check service on its own
// listener so orchestration probes stay independent of the business
// surfaces.
type HealthServer struct {
	listener   net.Listener
	grpcServer *gogrpc.Server
	health     *health.Server
}

// NewHealthServer listens on the given port and registers the health
// service as SERVING for the empty service name and each named service.
func NewHealthServer(port int, services ...string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on health port %d: %w", port, err)
	}

	grpcServer := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	return &HealthServer{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
	}, nil
}

// Addr returns the listener address.
func (s *HealthServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until the server stops or the context ends. On context
// cancellation the health service flips to NOT_SERVING before the
// listener drains.
func (s *HealthServer) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("health server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve health gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}
