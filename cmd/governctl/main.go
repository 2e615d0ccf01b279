package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"caregov/internal/app"
	"caregov/internal/platform/config"
	"caregov/internal/platform/logger"
	"caregov/internal/platform/metrics"
	"caregov/internal/platform/postgres"
	id "caregov/pkg/domain"
	"caregov/pkg/requestcontext"
	"caregov/pkg/requestmeta"
)

const tokenEnv = "GOVERNCTL_TOKEN"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var token string
	rootCmd := &cobra.Command{
		Use:          "governctl",
		Short:        "Operator tooling for the caregov governance layer",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator bearer token (defaults to $"+tokenEnv+")")

	operator := func() string {
		if token != "" {
			return token
		}
		return os.Getenv(tokenEnv)
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd(operator))
	rootCmd.AddCommand(reportCmd(operator))
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

// env is the per-command runtime: configuration, logger, wired services and
// the optional metrics endpoint.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	app     *app.App
	metrics *metrics.Server
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Level())

	reg := metrics.NewRegistry()
	a, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: log, app: a}
	if cfg.MetricsAddr != "" {
		e.metrics = metrics.NewServer(cfg.MetricsAddr, reg, log)
		e.metrics.Start()
		log.Info("metrics endpoint started", "addr", cfg.MetricsAddr)
	}
	return e, nil
}

func (e *env) close() {
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.metrics.Shutdown(ctx); err != nil {
			e.logger.Warn("metrics shutdown failed", "error", err)
		}
	}
	if err := e.app.Close(); err != nil {
		e.logger.Warn("close failed", "error", err)
	}
}

// authenticate turns the operator token into an actor.
func (e *env) authenticate(token string) (id.Actor, error) {
	if e.app.Identity == nil {
		return id.Actor{}, errors.New("JWT_SIGNING_KEY is not set")
	}
	if token == "" {
		return id.Actor{}, fmt.Errorf("an operator token is required (--token or $%s)", tokenEnv)
	}
	return e.app.Identity.Actor(token)
}

func operatorMeta() requestmeta.Metadata {
	host, _ := os.Hostname()
	return requestmeta.Metadata{UserAgent: "governctl", SessionKey: host}
}

// signalContext is cancelled on SIGINT/SIGTERM and carries a fresh request
// ID, so every audit entry written by one invocation shares a correlation ID.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(withInvocationID(context.Background()), os.Interrupt, syscall.SIGTERM)
}

func withInvocationID(ctx context.Context) context.Context {
	return requestcontext.WithRequestID(ctx, uuid.NewString())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := postgres.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := postgres.Migrate(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
