// Package ledger is the idempotency ledger: a per-user key/value table whose
// entries expire. The apply phase records every create under a stable key
// so a replayed operation returns the original id instead of writing twice.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/storage"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// DefaultTTL is how long an entry is honored.
const DefaultTTL = 24 * time.Hour

// Schema creates the ledger table.
const Schema = `
	CREATE TABLE IF NOT EXISTS idempotency_ledger (
		user_id    TEXT NOT NULL,
		entry_key  TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (user_id, entry_key)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_expires ON idempotency_ledger(expires_at);
`

// Ledger reads and writes entries over a storage.Conn. Bind it to the
// apply transaction so entries commit or roll back with the mutations.
type Ledger struct {
	conn storage.Conn
	ttl  time.Duration
}

// New creates a Ledger. A non-positive ttl uses DefaultTTL.
func New(conn storage.Conn, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{conn: conn, ttl: ttl}
}

// Seen reports whether a live entry exists for key.
func (l *Ledger) Seen(ctx context.Context, userID, key string) (bool, error) {
	_, ok, err := l.Lookup(ctx, userID, key)
	return ok, err
}

// Lookup returns the live value recorded under key.
func (l *Ledger) Lookup(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := l.conn.QueryRowContext(ctx,
		`SELECT value FROM idempotency_ledger WHERE user_id = ? AND entry_key = ? AND expires_at > ?`,
		userID, key, storage.FormatTime(timeNow()),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: lookup %q: %w", key, err)
	}
	return value, true, nil
}

// Claim records value under key unless a live entry already holds it. It
// reports whether this call won the key. An expired entry is overwritten.
func (l *Ledger) Claim(ctx context.Context, userID, key, value string) (bool, error) {
	now := timeNow()
	res, err := l.conn.ExecContext(ctx,
		`INSERT INTO idempotency_ledger (user_id, entry_key, value, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, entry_key) DO UPDATE SET
		     value = excluded.value,
		     created_at = excluded.created_at,
		     expires_at = excluded.expires_at
		 WHERE idempotency_ledger.expires_at <= excluded.created_at`,
		userID, key, value, storage.FormatTime(now), storage.FormatTime(now.Add(l.ttl)))
	if err != nil {
		return false, fmt.Errorf("ledger: claim %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: claim %q: %w", key, err)
	}
	return n == 1, nil
}

// Record stores value under key. Recording over a live entry is an error.
func (l *Ledger) Record(ctx context.Context, userID, key, value string) error {
	won, err := l.Claim(ctx, userID, key, value)
	if err != nil {
		return err
	}
	if !won {
		return agenterr.New(agenterr.BadRequest, "idempotency key %q already recorded", key)
	}
	return nil
}

// Evict deletes expired entries for every user and returns how many went.
func (l *Ledger) Evict(ctx context.Context) (int64, error) {
	res, err := l.conn.ExecContext(ctx,
		`DELETE FROM idempotency_ledger WHERE expires_at <= ?`, storage.FormatTime(timeNow()))
	if err != nil {
		return 0, fmt.Errorf("ledger: evict: %w", err)
	}
	return res.RowsAffected()
}
