package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/khoahotran/profile-service/internal/config"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres profile schema",
		Long: `Runs the SQL migrations used by the postgres store driver against db.dsn.

Examples:
  profile-service migrate up
  profile-service migrate down --source file://migrations`,
	}

	cmd.PersistentFlags().StringVar(&source, "source", "file://migrations", "migration source URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(*configPath, source, func(m *migrate.Migrate) error { return m.Up() })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(*configPath, source, func(m *migrate.Migrate) error { return m.Down() })
		},
	})

	return cmd
}

func runMigration(configPath, source string, step func(*migrate.Migrate) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn (DB_DSN) is not set")
	}

	m, err := migrate.New(source, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema has no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("schema at version %d (dirty=%t)\n", version, dirty)
	return nil
}
