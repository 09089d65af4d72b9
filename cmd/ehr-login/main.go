package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/ehrlogin/internal/config"
	"github.com/ehr/ehrlogin/internal/domain/login"
	"github.com/ehr/ehrlogin/internal/domain/session"
	"github.com/ehr/ehrlogin/internal/platform/audit"
	"github.com/ehr/ehrlogin/internal/platform/auth"
	"github.com/ehr/ehrlogin/internal/platform/db"
	"github.com/ehr/ehrlogin/internal/platform/metrics"
	"github.com/ehr/ehrlogin/internal/server"
	"github.com/ehr/ehrlogin/pkg/pagination"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ehr-login",
		Short: "Clinical login and session location service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the login API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// components are the pieces shared by serve and the interactive login.
type components struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	recorder audit.Recorder
	mirror   *session.RedisMirror
	revoked  *auth.TokenRevocationStore
	issuer   *auth.Issuer
	registry *login.Registry
	metrics  *metrics.Metrics
	service  *login.Service
}

func buildComponents(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*components, error) {
	c := &components{cfg: cfg, recorder: audit.Nop(), metrics: metrics.New()}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		c.pool = pool
		c.recorder = audit.NewPGRecorder(pool)
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, location assignments are not audited")
	}

	var mirror login.Mirror
	if cfg.RedisURL != "" {
		m, err := session.NewRedisMirror(ctx, cfg.RedisURL, cfg.SessionMirrorTTL, logger)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.mirror = m
		mirror = m
		logger.Info().Msg("session mirror enabled")
	}

	c.revoked = auth.NewTokenRevocationStore(time.Minute)
	c.issuer = auth.NewIssuer([]byte(cfg.WorkflowTokenSecret), cfg.WorkflowTTL, c.revoked)
	c.registry = login.NewRegistry(cfg.WorkflowTTL, time.Minute, logger)
	c.service = login.NewService(cfg, c.registry, c.issuer, c.recorder, mirror, logger, c.metrics)
	return c, nil
}

func (c *components) close() {
	if c.registry != nil {
		c.registry.Close()
	}
	if c.revoked != nil {
		c.revoked.Close()
	}
	if c.mirror != nil {
		c.mirror.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

func runServer(ctx context.Context) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer comps.close()

	e := server.New(server.Deps{
		Config:  cfg,
		Logger:  logger,
		Service: comps.service,
		Issuer:  comps.issuer,
		Pool:    comps.pool,
		Metrics: comps.metrics,
	})

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.RestBaseURL()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect default-location assignments",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerUUID, _ := cmd.Flags().GetString("provider")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			page := pagination.New(limit, offset)

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			events, err := audit.NewPGRecorder(pool).List(ctx, providerUUID, page.Probe())
			if err != nil {
				return fmt.Errorf("list assignments: %w", err)
			}
			hasMore := len(events) > page.Limit
			if hasMore {
				events = events[:page.Limit]
			}

			fmt.Printf("%-26s %-36s %-36s %-7s %s\n", "ID", "PROVIDER", "LOCATION", "PATH", "AT")
			for _, ev := range events {
				fmt.Printf("%-26s %-36s %-36s %-7s %s\n",
					ev.ID.String(), ev.ProviderUUID, ev.LocationUUID, ev.Path,
					ev.OccurredAt.Format("2006-01-02 15:04:05"))
			}
			if hasMore {
				fmt.Printf("More rows: --offset %d\n", page.NextOffset())
			}
			return nil
		},
	}
	listCmd.Flags().String("provider", "", "Only show this provider uuid")
	listCmd.Flags().Int("limit", pagination.DefaultLimit, "Rows per page")
	listCmd.Flags().Int("offset", 0, "Rows to skip")
	cmd.AddCommand(listCmd)

	return cmd
}
