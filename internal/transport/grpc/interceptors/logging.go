package interceptors

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arklim/identity-service/internal/infra/logger"
)

const requestIDMetadataKey = "x-request-id"

// LoggingOptions configures the access log interceptor.
type LoggingOptions struct {
	Logger *zap.Logger
	// SkipHealthChecks suppresses log lines for successful grpc.health.v1 probes.
	SkipHealthChecks bool
}

// LoggingUnaryInterceptor attaches a request id to the context and logs one line per call.
func LoggingUnaryInterceptor(opts LoggingOptions) grpc.UnaryServerInterceptor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx = context.WithValue(ctx, logger.RequestIDKey{}, incomingRequestID(ctx))

		resp, err := handler(ctx, req)

		code := status.Code(err)
		if opts.SkipHealthChecks && code == codes.OK && isHealthMethod(info.FullMethod) {
			return resp, err
		}

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		entry := logger.WithContext(ctx, log)
		switch code {
		case codes.OK, codes.NotFound, codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
			entry.Info("grpc call completed", fields...)
		default:
			entry.Error("grpc call failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(requestIDMetadataKey); len(values) > 0 && values[0] != "" && len(values[0]) <= 128 {
			return values[0]
		}
	}
	return uuid.NewString()
}
