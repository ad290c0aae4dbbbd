package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer exposes the standard grpc.health.v1 service. The overall
// status ("") and the service name follow the result of Checks, refreshed
// on an interval.
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   Checks
	interval time.Duration
}

// NewGRPCHealthServer creates a health server that runs checks every
// interval
func NewGRPCHealthServer(checks Checks, interval time.Duration) *GRPCHealthServer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	hs := health.NewServer()
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	return &GRPCHealthServer{
		server:   server,
		health:   hs,
		checks:   checks,
		interval: interval,
	}
}

// Refresh runs the checks once and publishes the result
func (g *GRPCHealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	_, healthy := g.checks.Run(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(serviceName, status)
	return healthy
}

// Serve listens on addr and blocks until ctx is cancelled or the listener
// fails
func (g *GRPCHealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener
func (g *GRPCHealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	g.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				if !g.Refresh(ctx) {
					log.Warn().Msg("gRPC health: dependencies not ready")
				}
			}
		}
	}()

	log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
