/**
 * @description
 * This is the main entry point for the linkdrop service. It exposes three
 * commands: `serve` runs the HTTP API, the outcome consumer and the expiry
 * scheduler; `sweep` runs one expiry pass; `migrate` creates the state table.
 *
 * @dependencies
 * - github.com/spf13/cobra: command line parsing.
 * - github.com/joho/godotenv: .env loading during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - go.uber.org/zap: structured logging.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/config"
	"github.com/transfa/linkdrop-service/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "linkdrop-service",
	Short:         "Credential-gated multi-asset claim settlement service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory holding an optional .env file")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "linkdrop-service: %v\n", err)
		os.Exit(1)
	}
}

// env is what every command needs before it can touch state.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	repo   store.Repository
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.logger.Sync()
}

// bootstrap loads configuration, builds the logger and opens the snapshot
// store. Without DATABASE_URL the state only lives in memory.
func bootstrap(ctx context.Context) (*env, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	e := &env{cfg: cfg, logger: logger}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("database url missing; engine state will not survive restarts",
			zap.String("component", "bootstrap"), zap.String("env", "DATABASE_URL"))
		e.repo = store.NewMemoryRepository()
		return e, nil
	}

	pool, err := openPool(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	logger.Info("database connected", zap.String("component", "bootstrap"))
	e.pool = pool
	e.repo = store.NewPostgresRepository(pool, cfg.StateID)
	return e, nil
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.AppEnv, "development") {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level := strings.TrimSpace(cfg.LogLevel); level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = parsed
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "linkdrop-service")), nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the engine state table",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		pg, ok := e.repo.(*store.PostgresRepository)
		if !ok {
			return errors.New("migrate needs DATABASE_URL")
		}
		if err := pg.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		e.logger.Info("state table ready", zap.String("component", "bootstrap"))
		return nil
	},
}
