package main

import (
	"context"
	"fmt"

	"multiverse-server/internal/database"

	"github.com/spf13/cobra"
)

var downSteps int

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *database.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
				return nil
			})
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *database.Migrator) error {
				if err := m.Down(downSteps); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations rolled back.")
				return nil
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "Number of migrations to roll back, 0 rolls back everything")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *database.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(fn func(m *database.Migrator) error) error {
	zlog, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	pool, err := connect(context.Background(), zlog)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(database.NewMigrator(pool, zlog))
}
