// Package transportgrpc serves the operational gRPC surface: the standard
// health service and server reflection.
package transportgrpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/arklim/identity-service/internal/transport/grpc/interceptors"
)

const defaultReadinessInterval = 5 * time.Second

// ReadinessFunc reports whether every backing dependency is reachable.
type ReadinessFunc func(ctx context.Context) bool

// ServerDependencies encapsulates what the gRPC server layer needs.
type ServerDependencies struct {
	Logger         *zap.Logger
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	// Readiness drives the health status; nil reports SERVING unconditionally.
	Readiness         ReadinessFunc
	ReadinessInterval time.Duration
}

// Server wraps a grpc.Server whose health status follows the readiness checks.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	logger   *zap.Logger
	ready    ReadinessFunc
	interval time.Duration
	status   grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewServer wires the health and reflection services with logging, metrics and tracing.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := deps.ReadinessInterval
	if interval <= 0 {
		interval = defaultReadinessInterval
	}

	server := grpc.NewServer(
		grpcinterceptors.TracingServerOption(grpcinterceptors.TracingOptions{TracerProvider: deps.TracerProvider}),
		grpc.ChainUnaryInterceptor(
			grpcinterceptors.LoggingUnaryInterceptor(grpcinterceptors.LoggingOptions{Logger: logger, SkipHealthChecks: true}),
			deps.Metrics.UnaryServerInterceptor(),
		),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	return &Server{
		grpc:     server,
		health:   healthServer,
		logger:   logger,
		ready:    deps.Readiness,
		interval: interval,
	}
}

// Serve refreshes the health status and serves on lis until ctx is cancelled,
// then drains in-flight calls.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	s.refresh(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchReadiness(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	}
}

// Stop terminates the server immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.Stop()
}

func (s *Server) watchReadiness(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.ready != nil && !s.ready(ctx) {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	if ctx.Err() != nil {
		return
	}
	if status != s.status {
		s.logger.Info("grpc serving status changed", zap.String("status", status.String()))
		s.status = status
	}
	s.health.SetServingStatus("", status)
}
