package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/config"
	"github.com/arklim/identity-service/internal/infra/database"
	kafkainfra "github.com/arklim/identity-service/internal/infra/kafka"
	"github.com/arklim/identity-service/internal/infra/logger"
	"github.com/arklim/identity-service/internal/infra/oauth"
	redisinfra "github.com/arklim/identity-service/internal/infra/redis"
	"github.com/arklim/identity-service/internal/infra/security"
	"github.com/arklim/identity-service/internal/infra/telemetry"
	postgresrepo "github.com/arklim/identity-service/internal/repository/postgres"
	redisrepo "github.com/arklim/identity-service/internal/repository/redis"
	transportgrpc "github.com/arklim/identity-service/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/identity-service/internal/transport/grpc/interceptors"
	"github.com/arklim/identity-service/internal/transport/http/middleware"
	"github.com/arklim/identity-service/internal/transport/http/routes"
	"github.com/arklim/identity-service/internal/usecase"
)

const (
	shutdownTimeout      = 10 * time.Second
	notificationDrainMax = 15 * time.Second
)

type Application struct {
	cfg           *config.AppConfig
	handler       http.Handler
	logger        *zap.Logger
	pool          *pgxpool.Pool
	redis         *redisinfra.Client
	producer      *kafkainfra.Producer
	tracer        *telemetry.TracerProvider
	notifications *usecase.AsyncDispatcher
	grpcServer    *transportgrpc.Server
	grpcAddr      string
}

// New builds every dependency of the service. Resources acquired before a
// failure are released before returning.
func New(ctx context.Context, cfg *config.AppConfig, version string) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, version, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	argon, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}
	hasher := security.NewHasherPool(argon, cfg.Hashing.Workers, metrics.ObserveHash)

	sessions, err := security.NewSessionCodec([]byte(cfg.Session.Secret), cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("init session codec: %w", err)
	}
	log.Info("session codec configured",
		zap.String("issuer", cfg.Session.Issuer),
		zap.Duration("ttl", sessions.TTL()),
	)

	var notifier port.Notifier
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		a.producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		notifier = kafkainfra.NewNotifier(a.producer, cfg.App, log)
		log.Info("kafka notifier initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		notifier = kafkainfra.NewLoggingNotifier(log, cfg.App.Env == "development")
		log.Info("kafka disabled, notifications are logged only")
	}
	a.notifications = usecase.NewAsyncDispatcher(notifier, cfg.Notifications.SendTimeout, metrics, log)

	accounts := postgresrepo.NewAccountRepository(a.pool)

	credentials := usecase.NewCredentialService(usecase.CredentialDependencies{
		Accounts:      accounts,
		Hasher:        hasher,
		Minter:        security.NewTokenMinter(),
		Sessions:      sessions,
		Policy:        security.NewPasswordPolicy(cfg.Hashing.MinZxcvbnScore),
		Notifications: a.notifications,
		Metrics:       metrics,
		Logger:        log,
	}, usecase.CredentialSettings{
		VerificationTTL:       cfg.Tokens.VerificationTTL,
		ResetTTL:              cfg.Tokens.ResetTTL,
		ResetTokenKind:        port.TokenKind(cfg.Tokens.ResetKind),
		ResetDeliveryRequired: cfg.Notifications.ResetDeliveryRequired,
	})

	providers, err := oauth.NewRegistryFromConfig(ctx, cfg.OAuth)
	if err != nil {
		return nil, fmt.Errorf("init oauth providers: %w", err)
	}
	enabled := make([]string, 0, len(providers.Enabled()))
	for _, p := range providers.Enabled() {
		enabled = append(enabled, string(p))
	}
	log.Info("oauth providers configured", zap.Strings("enabled", enabled))

	oauthService := usecase.NewOAuthService(usecase.OAuthDependencies{
		Resolver:  usecase.NewAccountResolver(accounts, log),
		Sessions:  sessions,
		Providers: providers,
		States:    redisrepo.NewOAuthStateRepository(a.redis.Client(), cfg.Redis.OAuthStatePrefix),
		Metrics:   metrics,
		Logger:    log,
	}, cfg.Redis.OAuthStateTTL)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	health := routes.NewHealthHandler(a.pool, a.redis)

	engine := routes.Register(routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Services: routes.ServiceSet{Credentials: credentials, OAuth: oauthService},
		Sessions: sessions,
		Metrics:  httpMetrics,
		Health:   health,
	})
	a.handler = otelhttp.NewHandler(engine, "identity-http", otelhttp.WithTracerProvider(a.tracer.Provider()))

	if cfg.GRPC.Enabled {
		grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{})
		if err != nil {
			return nil, fmt.Errorf("init grpc metrics: %w", err)
		}
		a.grpcServer = transportgrpc.NewServer(transportgrpc.ServerDependencies{
			Logger:         log,
			Metrics:        grpcMetrics,
			TracerProvider: a.tracer.Provider(),
			Readiness: func(ctx context.Context) bool {
				_, ready := health.Check(ctx)
				return ready
			},
		})
		a.grpcAddr = net.JoinHostPort(cfg.GRPC.Host, fmt.Sprint(cfg.GRPC.Port))
	}

	return a, nil
}

// Run serves HTTP and gRPC until ctx is cancelled or a server fails, then shuts
// everything down in dependency order.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	grpcDone := make(chan struct{})

	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			a.release(context.Background())
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		go func() {
			defer close(grpcDone)
			if err := a.grpcServer.Serve(ctx, lis); err != nil {
				errCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
	} else {
		close(grpcDone)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.App.Host, fmt.Sprint(a.cfg.App.Port)),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("server failed", zap.Error(runErr))
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown server: %w", err))
	}
	<-grpcDone

	a.release(shutdownCtx)
	a.logger.Info("identity API stopped")
	return runErr
}

// release waits for in-flight notifications and closes every backend that was opened.
func (a *Application) release(ctx context.Context) {
	if a.notifications != nil {
		drained := make(chan struct{})
		go func() {
			a.notifications.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(notificationDrainMax):
			a.logger.Warn("notifications still in flight at shutdown")
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("shutdown tracer", zap.Error(err))
	}
}
