package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// GRPCMetricsOptions controls construction of gRPC metrics collectors.
type GRPCMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// GRPCMetrics wraps Prometheus collectors for gRPC instrumentation.
type GRPCMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// NewGRPCMetrics constructs collectors and registers them with the supplied registerer.
func NewGRPCMetrics(opts GRPCMetricsOptions) (*GRPCMetrics, error) {
	if opts.Namespace == "" {
		opts.Namespace = "identity"
	}
	if opts.Subsystem == "" {
		opts.Subsystem = "grpc"
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if len(opts.Buckets) == 0 {
		opts.Buckets = prometheus.DefBuckets
	}

	labels := []string{"service", "method", "code"}

	requests, err := register(opts.Registerer, "requests", prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "requests_total",
		Help:      "Total number of gRPC unary requests partitioned by service, method, and status code.",
	}, labels))
	if err != nil {
		return nil, err
	}

	duration, err := register(opts.Registerer, "duration", prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of gRPC unary request latencies in seconds partitioned by service, method, and status code.",
		Buckets:   opts.Buckets,
	}, labels))
	if err != nil {
		return nil, err
	}

	inFlight, err := register(opts.Registerer, "inflight", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: opts.Namespace,
		Subsystem: opts.Subsystem,
		Name:      "in_flight_requests",
		Help:      "Current number of in-flight gRPC unary requests partitioned by service.",
	}, []string{"service"}))
	if err != nil {
		return nil, err
	}

	return &GRPCMetrics{requests: requests, duration: duration, inFlight: inFlight}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, name string, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return c, fmt.Errorf("register gRPC %s collector: %w", name, err)
	}
	existing, ok := already.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("existing gRPC %s collector has wrong type %T", name, already.ExistingCollector)
	}
	return existing, nil
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records metrics.
func (m *GRPCMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	if m == nil {
		return passthrough
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := splitFullMethod(info.FullMethod)
		start := time.Now()

		inflight := m.inFlight.WithLabelValues(service)
		inflight.Inc()
		defer inflight.Dec()

		resp, err := handler(ctx, req)

		labels := prometheus.Labels{
			"service": service,
			"method":  method,
			"code":    status.Code(err).String(),
		}
		m.requests.With(labels).Inc()
		m.duration.With(labels).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

func passthrough(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return handler(ctx, req)
}

func splitFullMethod(full string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(full, "/"), "/")
	if !ok || strings.Contains(method, "/") {
		if full == "" {
			return "unknown", "unknown"
		}
		return strings.TrimPrefix(full, "/"), "unknown"
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
