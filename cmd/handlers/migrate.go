package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dora/internal/config"
	"dora/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage the SQLite schema.

Every command applies pending migrations when it opens the database; these
subcommands make that explicit.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status

Examples:
  dora migrate up
  dora migrate status`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context())
		},
	})

	return cmd
}

// openWithoutMigrating opens the database without applying migrations so
// that status can report pending ones.
func openWithoutMigrating() (*persistence.SQLiteDB, error) {
	dbCfg := config.GetDatabase()
	db, err := persistence.NewSQLiteDB(dbCfg.Path, dbCfg.BusyTimeoutDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbCfg.Path, err)
	}
	return db, nil
}

func runMigrateUp(ctx context.Context) error {
	db, err := openWithoutMigrating()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := persistence.NewMigrationManager(db).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if applied == 0 {
		fmt.Println("✅ Database is up to date")
		return nil
	}
	fmt.Printf("✅ Applied %d migrations\n", applied)
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	db, err := openWithoutMigrating()
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := persistence.NewMigrationManager(db).Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	fmt.Println("📊 Migration Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-10s %-10s %s\n", "Version", "Status", "Description")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	pending := 0
	for _, m := range status {
		state, icon := "applied", "✅"
		if !m.Applied {
			state, icon = "pending", "⏳"
			pending++
		}
		fmt.Printf("%-10d %s %-8s %s\n", m.Version, icon, state, m.Description)
	}

	fmt.Println()
	fmt.Printf("Applied: %d | Pending: %d | Total: %d\n", len(status)-pending, pending, len(status))
	if pending > 0 {
		fmt.Println("\nRun 'dora migrate up' to apply pending migrations")
	}
	return nil
}
