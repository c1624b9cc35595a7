package cmd

import (
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/filipexyz/ravi-sub000/internal/store/pg"
	"github.com/filipexyz/ravi-sub000/internal/store/sqlite"
	"github.com/filipexyz/ravi-sub000/migrations"
)

// newMigrator builds a migrator over the embedded migration set for the
// configured backend.
func newMigrator() (*migrate.Migrate, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.Database.Backend {
	case "", "sqlite":
		db, err := sqlite.OpenDB(cfg.SQLitePathExpanded())
		if err != nil {
			return nil, err
		}
		src, err := iofs.New(migrations.FS, "sqlite")
		if err != nil {
			return nil, fmt.Errorf("load migrations: %w", err)
		}
		driver, err := msqlite.WithInstance(db, &msqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite", driver)
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("RAVI_POSTGRES_DSN environment variable is not set")
		}
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		src, err := iofs.New(migrations.FS, "postgres")
		if err != nil {
			return nil, fmt.Errorf("load migrations: %w", err)
		}
		driver, err := mpostgres.WithInstance(db, &mpostgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "postgres", driver)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, dirty, _ := m.Version()
			slog.Info("migration complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if steps <= 0 {
				steps = 1
			}
			if err := m.Steps(-steps); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("migrate down: %w", err)
			}
			v, dirty, _ := m.Version()
			slog.Info("rollback complete", "version", v, "dirty", dirty)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}
