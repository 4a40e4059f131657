// Package storage owns the SQLite database shared by the staging area
// (drafts, tokens, idempotency ledger) and the workspace tables.
//
// Keeping everything in one database lets the apply phase consume a token,
// mutate the workspace and record idempotency keys inside a single
// transaction. Packages contribute their own schema through Open.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// TimeLayout is a fixed-width UTC layout so stored timestamps compare
// correctly as strings inside SQL.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Conn is satisfied by both *sql.DB and *sql.Tx.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config holds database location settings.
type Config struct {
	DataDir  string
	FileName string
}

// DefaultConfig returns the default database location under ~/.stagehand.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:  filepath.Join(home, ".stagehand"),
		FileName: "stagehand.db",
	}
}

// DB wraps the shared SQLite handle.
type DB struct {
	db *sql.DB
}

// Open creates the data directory if needed, opens SQLite in WAL mode and
// applies every schema in order. Schemas must be idempotent
// (CREATE ... IF NOT EXISTS).
func Open(cfg Config, schemas ...string) (*DB, error) {
	if cfg.FileName == "" {
		cfg.FileName = "stagehand.db"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the first one. Immediate transactions take the write lock up front,
	// which keeps concurrent writers inside busy_timeout instead of failing
	// on lock upgrade.
	path := filepath.Join(cfg.DataDir, cfg.FileName)
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	for i, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: migration %d: %w", i, err)
		}
	}

	return &DB{db: db}, nil
}

// Conn returns the non-transactional handle.
func (d *DB) Conn() Conn {
	return d.db
}

// InTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (d *DB) InTx(ctx context.Context, fn func(tx Conn) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("storage: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse time %q: %w", s, err)
	}
	return t, nil
}

// IsUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
