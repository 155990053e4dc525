package main

import (
	"context"
	"fmt"
	"os"

	"multiverse-server/internal/config"
	"multiverse-server/internal/database"
	"multiverse-server/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var logLevel string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "catalogctl",
		Short:        "Story catalog and schema management",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	root.AddCommand(validateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(migrateCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	return logger.New(logger.Config{Level: logLevel, Encoding: "console", Service: "catalogctl"})
}

// connect открывает пул без автоматических миграций.
func connect(ctx context.Context, zlog *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := config.LoadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    2,
		IdleTimeout: cfg.DBIdleTimeout,
	}, zlog)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}
