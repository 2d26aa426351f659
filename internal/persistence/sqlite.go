package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dora/internal/core"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDB implements the Database interface for SQLite
type SQLiteDB struct {
	db         *sql.DB
	companies  CompanyRepository
	sources    SourceRepository
	items      ItemRepository
	embeddings EmbeddingRepository
	clusters   ClusterRepository
	groups     GroupRepository
}

// NewSQLiteDB opens the database file at path with foreign keys enforced.
// Schema creation is left to MigrationManager.
func NewSQLiteDB(path string, busyTimeout time.Duration) (*SQLiteDB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := conn{db: db}
	return &SQLiteDB{
		db:         db,
		companies:  &sqliteCompanyRepo{conn: c},
		sources:    &sqliteSourceRepo{conn: c},
		items:      &sqliteItemRepo{conn: c},
		embeddings: &sqliteEmbeddingRepo{conn: c},
		clusters:   &sqliteClusterRepo{conn: c},
		groups:     &sqliteGroupRepo{conn: c},
	}, nil
}

func (s *SQLiteDB) Companies() CompanyRepository     { return s.companies }
func (s *SQLiteDB) Sources() SourceRepository        { return s.sources }
func (s *SQLiteDB) Items() ItemRepository            { return s.items }
func (s *SQLiteDB) Embeddings() EmbeddingRepository  { return s.embeddings }
func (s *SQLiteDB) Clusters() ClusterRepository      { return s.clusters }
func (s *SQLiteDB) Groups() GroupRepository          { return s.groups }
func (s *SQLiteDB) Close() error                     { return s.db.Close() }
func (s *SQLiteDB) Ping(ctx context.Context) error   { return s.db.PingContext(ctx) }

func (s *SQLiteDB) ResetScope(ctx context.Context, scope core.Scope, to core.ScopeState) error {
	return conn{db: s.db}.atomic(ctx, func(q queryer) error {
		return resetScope(ctx, q, scope, to)
	})
}

func (s *SQLiteDB) BeginTx(ctx context.Context) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	c := conn{db: s.db, tx: tx}
	return &sqliteTx{
		tx:         tx,
		companies:  &sqliteCompanyRepo{conn: c},
		sources:    &sqliteSourceRepo{conn: c},
		items:      &sqliteItemRepo{conn: c},
		embeddings: &sqliteEmbeddingRepo{conn: c},
		clusters:   &sqliteClusterRepo{conn: c},
		groups:     &sqliteGroupRepo{conn: c},
	}, nil
}

// sqliteTx implements Transaction interface
type sqliteTx struct {
	tx         *sql.Tx
	companies  CompanyRepository
	sources    SourceRepository
	items      ItemRepository
	embeddings EmbeddingRepository
	clusters   ClusterRepository
	groups     GroupRepository
}

func (t *sqliteTx) Commit() error                    { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error                  { return t.tx.Rollback() }
func (t *sqliteTx) Companies() CompanyRepository     { return t.companies }
func (t *sqliteTx) Sources() SourceRepository        { return t.sources }
func (t *sqliteTx) Items() ItemRepository            { return t.items }
func (t *sqliteTx) Embeddings() EmbeddingRepository  { return t.embeddings }
func (t *sqliteTx) Clusters() ClusterRepository      { return t.clusters }
func (t *sqliteTx) Groups() GroupRepository          { return t.groups }

func (t *sqliteTx) ResetScope(ctx context.Context, scope core.Scope, to core.ScopeState) error {
	return resetScope(ctx, t.tx, scope, to)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// conn is shared by every repository; tx is set for transaction-bound repos.
type conn struct {
	db *sql.DB
	tx *sql.Tx
}

func (c conn) query() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// atomic runs fn inside the caller's transaction, or a fresh one when none is open.
func (c conn) atomic(ctx context.Context, fn func(q queryer) error) error {
	if c.tx != nil {
		return fn(c.tx)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
