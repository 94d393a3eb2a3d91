// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medauth/medauth/internal/config"
	"github.com/medauth/medauth/internal/store"
)

// migrationRunner is the part of store.Migrator the migrate commands use.
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// newMigrator opens a migrator for databaseURL. Tests replace it.
var newMigrator = func(databaseURL string) (migrationRunner, error) {
	return store.NewMigrator(databaseURL)
}

// getenv is read for DATABASE_URL. Tests replace it.
var getenv = os.Getenv

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, revert, or inspect the identity schema migrations.

The database is taken from the DATABASE_URL environment variable.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m migrationRunner) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var (
		steps int
		all   bool
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		Long: `Revert the most recent migration, or --steps of them.

--all reverts every migration and drops all identity data; it also
requires --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all && !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down --all drops every table; pass --yes to confirm")
			}
			if steps < 1 {
				return oops.Code("INVALID_STEPS").Errorf("steps must be at least 1, got %d", steps)
			}
			return withMigrator(func(m migrationRunner) error {
				var err error
				if all {
					cmd.Println("Reverting all migrations...")
					err = m.Down()
				} else {
					cmd.Printf("Reverting %d migration(s)...\n", steps)
					err = m.Steps(-steps)
				}
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "revert migrations").Wrap(err)
				}
				cmd.Println("Revert completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")
	cmd.Flags().BoolVar(&all, "all", false, "revert every migration")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm a destructive revert")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m migrationRunner) error {
				st, err := m.Status()
				if err != nil {
					return oops.Code("MIGRATION_STATUS_FAILED").Wrap(err)
				}
				printStatus(cmd, st)
				return nil
			})
		},
	}
}

func printStatus(cmd *cobra.Command, st *store.Status) {
	switch {
	case st.Version == 0:
		cmd.Println("Current version: none")
	case st.Name != "":
		cmd.Printf("Current version: %d (%s)\n", st.Version, st.Name)
	default:
		cmd.Printf("Current version: %d\n", st.Version)
	}
	if st.Dirty {
		cmd.Println("WARNING: database is dirty; fix the schema by hand, then run 'migrate force'")
	}
	if len(st.Pending) == 0 {
		cmd.Println("Pending: none")
		return
	}
	pending := make([]string, len(st.Pending))
	for i, v := range st.Pending {
		pending[i] = fmt.Sprintf("%06d", v)
	}
	cmd.Printf("Pending: %s\n", strings.Join(pending, ", "))
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Record VERSION as the applied migration and clear the dirty flag.
Use this only after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(func(m migrationRunner) error {
				if err := m.Force(version); err != nil {
					return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	}
}

// parseForceVersion parses the leading integer of s.
func parseForceVersion(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var version int
	if _, err := fmt.Sscanf(s, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

// getDatabaseURL returns DATABASE_URL or a CONFIG_INVALID error.
func getDatabaseURL() (string, error) {
	url := getenv(config.EnvDatabaseURL)
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.EnvDatabaseURL)
	}
	return url, nil
}

func withMigrator(fn func(m migrationRunner) error) error {
	url, err := getDatabaseURL()
	if err != nil {
		return err
	}
	m, err := newMigrator(url)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer closeMigrator(m)
	return fn(m)
}

func closeMigrator(m migrationRunner) {
	if err := m.Close(); err != nil {
		slog.Warn("error closing migrator", "error", err)
	}
}
