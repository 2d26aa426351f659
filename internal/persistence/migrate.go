package persistence

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"dora/internal/logger"

	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// Migration is one embedded schema file, named NNN_description.sql
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus pairs a migration with whether the database has it
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// MigrationManager brings a SQLite database up to the embedded schema
type MigrationManager struct {
	db  *SQLiteDB
	log *zerolog.Logger
}

func NewMigrationManager(db *SQLiteDB) *MigrationManager {
	return &MigrationManager{db: db, log: logger.Get()}
}

// Migrate applies every migration the database does not have yet, in
// version order, and returns how many it applied.
func (m *MigrationManager) Migrate(ctx context.Context) (int, error) {
	migrations, applied, err := m.plan(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("migration %03d (%s): %w", mig.Version, mig.Description, err)
		}
		count++
	}

	if count == 0 {
		m.log.Debug().Msg("Schema is current")
	} else {
		m.log.Info().Int("applied", count).Msg("Schema migrated")
	}
	return count, nil
}

// Status lists every embedded migration and whether it has been applied.
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, applied, err := m.plan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(migrations))
	for i, mig := range migrations {
		out[i] = MigrationStatus{Version: mig.Version, Description: mig.Description, Applied: applied[mig.Version]}
	}
	return out, nil
}

// plan returns the embedded migrations sorted by version and the set of
// versions already recorded in schema_migrations.
func (m *MigrationManager) plan(ctx context.Context) ([]Migration, map[int]bool, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := m.db.db.ExecContext(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := m.db.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	migrations, err := m.embedded()
	if err != nil {
		return nil, nil, err
	}
	return migrations, applied, nil
}

func (m *MigrationManager) embedded() ([]Migration, error) {
	names, err := fs.Glob(schemaFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		version, desc, ok := parseMigrationName(path.Base(name))
		if !ok {
			m.log.Warn().Str("file", name).Msg("Ignoring migration with malformed name")
			continue
		}
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Description: desc, SQL: string(body)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationName splits "001_initial_schema.sql" into 1 and "initial schema".
func parseMigrationName(name string) (int, string, bool) {
	prefix, rest, found := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !found || rest == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", false
	}
	return version, strings.ReplaceAll(rest, "_", " "), true
}

func (m *MigrationManager) apply(ctx context.Context, mig Migration) error {
	m.log.Info().Int("version", mig.Version).Str("description", mig.Description).Msg("Applying migration")

	tx, err := m.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		mig.Version, mig.Description); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}

// Open opens the SQLite database at dbPath and applies pending migrations.
func Open(ctx context.Context, dbPath string, busyTimeout time.Duration) (*SQLiteDB, error) {
	db, err := NewSQLiteDB(dbPath, busyTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := NewMigrationManager(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
