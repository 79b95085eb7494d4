package interceptors

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/stats"
)

// TracingOptions customises the server tracing handler.
type TracingOptions struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	// TraceHealthChecks records spans for grpc.health.v1 probes, which are skipped by default.
	TraceHealthChecks bool
	Additional        []otelgrpc.Option
}

// TracingServerOption returns a server option installing the OpenTelemetry stats handler.
func TracingServerOption(opts TracingOptions) grpc.ServerOption {
	options := make([]otelgrpc.Option, 0, len(opts.Additional)+3)
	if opts.TracerProvider != nil {
		options = append(options, otelgrpc.WithTracerProvider(opts.TracerProvider))
	}
	if opts.Propagators != nil {
		options = append(options, otelgrpc.WithPropagators(opts.Propagators))
	}
	if !opts.TraceHealthChecks {
		options = append(options, otelgrpc.WithFilter(func(info *stats.RPCTagInfo) bool {
			return !isHealthMethod(info.FullMethodName)
		}))
	}
	options = append(options, opts.Additional...)

	return grpc.StatsHandler(otelgrpc.NewServerHandler(options...))
}

func isHealthMethod(fullMethod string) bool {
	service, _ := splitFullMethod(fullMethod)
	return service == grpc_health_v1.Health_ServiceDesc.ServiceName
}
