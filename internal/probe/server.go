// Package probe exposes provider reachability over the standard gRPC health
// protocol and lets clients wait for it.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the conversation API.
const ServiceName = "storytime.Conversation"

// ModelLister is the provider check the prober runs.
type ModelLister interface {
	Models(ctx context.Context) (int, error)
}

// Server serves grpc.health.v1.Health, flipping ServiceName between SERVING
// and NOT_SERVING as the provider check succeeds or fails.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	lister   ModelLister
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a health server. It starts NOT_SERVING until the first
// successful check.
func NewServer(lister ModelLister, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpc:     gs,
		health:   hs,
		lister:   lister,
		interval: interval,
		logger:   logger,
	}
}

// Serve listens on addr and runs the prober until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go s.runProber(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.logger.Info("gRPC health server started", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

func (s *Server) runProber(ctx context.Context) {
	s.check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// check runs one provider probe and updates the served status.
func (s *Server) check(ctx context.Context) {
	n, err := s.lister.Models(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Provider probe failed", "error", err)
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.logger.Debug("Provider probe ok", "models_available", n)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}
