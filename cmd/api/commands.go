package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arklim/identity-service/internal/infra/app"
	"github.com/arklim/identity-service/internal/infra/config"
	"github.com/arklim/identity-service/internal/infra/database"
	"github.com/arklim/identity-service/internal/infra/logger"
)

// NewRootCmd creates the identity CLI. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "identity",
		Short:         "Identity and credential service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCheckConfigCmd())

	return cmd
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Run database migrations",
		Long:      `Apply, roll back or list the embedded schema migrations. Defaults to up.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.MigrateUp), string(database.MigrateDown), string(database.MigrateStatus)},
		RunE:      runMigrate,
	}
}

// NewCheckConfigCmd creates the check-config subcommand.
func NewCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration without starting the service",
		Args:  cobra.NoArgs,
		RunE:  runCheckConfig,
	}
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	return application.Run(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := database.MigrateUp
	if len(args) == 1 {
		command = database.MigrationCommand(args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return database.Migrate(ctx, pool, cfg.Postgres.Schema, command, log)
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(out, "configuration is invalid:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(out, "  - %s\n", line)
		}
		return err
	}

	var providers []string
	if cfg.OAuth.Google.Enabled() {
		providers = append(providers, "google")
	}
	if cfg.OAuth.GitHub.Enabled() {
		providers = append(providers, "github")
	}
	if len(providers) == 0 {
		providers = append(providers, "none")
	}

	fmt.Fprintln(out, "configuration is valid")
	fmt.Fprintf(out, "  environment:     %s\n", cfg.App.Env)
	fmt.Fprintf(out, "  postgres:        %s:%d/%s\n", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	fmt.Fprintf(out, "  kafka notifier:  %t\n", cfg.Kafka.Enabled)
	fmt.Fprintf(out, "  oauth providers: %s\n", strings.Join(providers, ", "))
	fmt.Fprintf(out, "  reset tokens:    %s\n", cfg.Tokens.ResetKind)
	return nil
}
