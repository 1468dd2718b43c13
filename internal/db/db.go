package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/callcoach/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/callcoach.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.callcoach.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// Immediate transactions take the write lock up front so read-then-write
	// reconciliation never fails on lock upgrade.
	dbPath := filepath.Join(baseDir, "callcoach.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// WithTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: ingestions and analyses
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS ingestions (
		  id                TEXT PRIMARY KEY,
		  owner_id          TEXT NOT NULL,
		  source_object_ref TEXT NOT NULL,
		  operation_id      TEXT NOT NULL,
		  status            TEXT NOT NULL,
		  failure_reason    TEXT,
		  failure_detail    TEXT,
		  call_type         TEXT,
		  original_filename TEXT,
		  content_type      TEXT,
		  job_handle        TEXT,
		  analysis_id       TEXT,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_ingestions_source_ref
		ON ingestions(source_object_ref);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_ingestions_operation
		ON ingestions(operation_id);

		CREATE INDEX IF NOT EXISTS idx_ingestions_owner_created
		ON ingestions(owner_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_ingestions_status
		ON ingestions(status);

		CREATE TABLE IF NOT EXISTS analyses (
		  id                TEXT PRIMARY KEY,
		  owner_id          TEXT NOT NULL,
		  call_type         TEXT,
		  ingestion_id      TEXT,
		  transcript_text   TEXT NOT NULL,
		  content_hash      TEXT,
		  score             INTEGER NOT NULL,
		  score_category    TEXT NOT NULL,
		  analysis_json     TEXT NOT NULL,
		  duplicate_of_json TEXT,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_analyses_owner_created
		ON analyses(owner_id, created_at DESC, id DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: content hashes. Only canonical records survive, so the
	// uniqueness constraint covers every hashed row.
	if version < 2 {
		schema := `
		ALTER TABLE ingestions ADD COLUMN content_hash TEXT;

		CREATE UNIQUE INDEX IF NOT EXISTS idx_analyses_owner_hash
		ON analyses(owner_id, content_hash)
		WHERE content_hash IS NOT NULL;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
