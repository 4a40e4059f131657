package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/storage"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// ErrStatusChanged is returned by Transition when the stored status no
// longer matches the expected one.
var ErrStatusChanged = errors.New("drafts: status changed concurrently")

// Schema creates the drafts and confirmation token tables.
const Schema = `
	CREATE TABLE IF NOT EXISTS drafts (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		status        TEXT NOT NULL,
		plan_json     TEXT NOT NULL,
		plan_hash     TEXT NOT NULL,
		message       TEXT NOT NULL DEFAULT '',
		scope_json    TEXT NOT NULL DEFAULT '{}',
		reject_reason TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		expires_at    TEXT NOT NULL,
		confirmed_at  TEXT,
		applied_at    TEXT
	);

	CREATE TABLE IF NOT EXISTS confirmation_tokens (
		token_hash  TEXT PRIMARY KEY,
		draft_id    TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		plan_hash   TEXT NOT NULL,
		state_hash  TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		consumed_at TEXT,
		FOREIGN KEY (draft_id) REFERENCES drafts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_drafts_user    ON drafts(user_id, status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_drafts_expires ON drafts(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_tokens_draft   ON confirmation_tokens(draft_id);
`

// Store persists drafts and tokens. Bind it to a transaction with NewStore
// when a transition must commit together with other writes.
type Store struct {
	conn storage.Conn
}

// NewStore creates a Store over conn.
func NewStore(conn storage.Conn) *Store {
	return &Store{conn: conn}
}

// Create inserts a new draft.
func (s *Store) Create(ctx context.Context, d *Draft) error {
	planJSON, err := json.Marshal(d.Plan)
	if err != nil {
		return fmt.Errorf("drafts: encode plan: %w", err)
	}
	scopeJSON, err := json.Marshal(d.Scope)
	if err != nil {
		return fmt.Errorf("drafts: encode scope: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO drafts (id, user_id, status, plan_json, plan_hash, message, scope_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, string(d.Status), string(planJSON), d.PlanHash, d.Message, string(scopeJSON),
		storage.FormatTime(d.CreatedAt), storage.FormatTime(d.ExpiresAt))
	if err != nil {
		return fmt.Errorf("drafts: create %s: %w", d.ID, err)
	}
	return nil
}

const draftColumns = `id, user_id, status, plan_json, plan_hash, message, scope_json, reject_reason,
	created_at, expires_at, confirmed_at, applied_at`

// Get loads a draft owned by userID. Unknown ids, malformed ids and other
// users' drafts are all DraftNotFound.
func (s *Store) Get(ctx context.Context, userID, id string) (*Draft, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, agenterr.New(agenterr.DraftNotFound, "draft %q not found", id)
	}
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = ? AND user_id = ?`, id, userID)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agenterr.New(agenterr.DraftNotFound, "draft %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListLive returns the user's proposed and confirmed drafts that have not
// expired at now, newest first.
func (s *Store) ListLive(ctx context.Context, userID string, now time.Time) ([]Draft, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM drafts
		 WHERE user_id = ? AND status IN (?, ?) AND expires_at > ?
		 ORDER BY created_at DESC, id ASC`,
		userID, string(StatusProposed), string(StatusConfirmed), storage.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("drafts: list live: %w", err)
	}
	defer rows.Close()

	out := []Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Transition moves a draft from one status to another if, and only if, it
// is still in from. A lost race returns ErrStatusChanged.
func (s *Store) Transition(ctx context.Context, id string, from, to Status, at time.Time, reason string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("drafts: illegal transition %s -> %s", from, to)
	}

	query := `UPDATE drafts SET status = ?`
	args := []any{string(to)}
	switch to {
	case StatusConfirmed:
		query += `, confirmed_at = ?`
		args = append(args, storage.FormatTime(at))
	case StatusApplied:
		query += `, applied_at = ?`
		args = append(args, storage.FormatTime(at))
	case StatusRejected:
		query += `, reject_reason = ?`
		args = append(args, reason)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("drafts: transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("drafts: transition %s: %w", id, err)
	}
	if n == 0 {
		return ErrStatusChanged
	}
	return nil
}

// ExpireStale marks every live draft whose deadline has passed as expired.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE drafts SET status = ? WHERE status IN (?, ?) AND expires_at <= ?`,
		string(StatusExpired), string(StatusProposed), string(StatusConfirmed), storage.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("drafts: expire stale: %w", err)
	}
	return res.RowsAffected()
}

// Purge deletes finished drafts created before cutoff, with their tokens.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM drafts WHERE status IN (?, ?, ?) AND created_at < ?`,
		string(StatusApplied), string(StatusExpired), string(StatusRejected), storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("drafts: purge: %w", err)
	}
	return res.RowsAffected()
}

// --- Tokens ---

// InsertToken stores a confirmation token.
func (s *Store) InsertToken(ctx context.Context, t *Token) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO confirmation_tokens (token_hash, draft_id, user_id, plan_hash, state_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.Hash, t.DraftID, t.UserID, t.PlanHash, t.StateHash, storage.FormatTime(t.CreatedAt))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return agenterr.New(agenterr.Internal, "token collision")
		}
		return fmt.Errorf("drafts: insert token: %w", err)
	}
	return nil
}

// TokenByHash loads a token. A missing token is TokenInvalid.
func (s *Store) TokenByHash(ctx context.Context, hash string) (*Token, error) {
	var t Token
	var created string
	var consumed sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT token_hash, draft_id, user_id, plan_hash, state_hash, created_at, consumed_at
		 FROM confirmation_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.Hash, &t.DraftID, &t.UserID, &t.PlanHash, &t.StateHash, &created, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agenterr.New(agenterr.TokenInvalid, "confirmation token is not valid")
	}
	if err != nil {
		return nil, fmt.Errorf("drafts: load token: %w", err)
	}
	if t.CreatedAt, err = storage.ParseTime(created); err != nil {
		return nil, err
	}
	if t.ConsumedAt, err = parseNullTime(consumed); err != nil {
		return nil, err
	}
	return &t, nil
}

// ConsumeToken marks an unconsumed token as used. It reports false if the
// token was already consumed.
func (s *Store) ConsumeToken(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE confirmation_tokens SET consumed_at = ? WHERE token_hash = ? AND consumed_at IS NULL`,
		storage.FormatTime(at), hash)
	if err != nil {
		return false, fmt.Errorf("drafts: consume token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("drafts: consume token: %w", err)
	}
	return n == 1, nil
}

// --- Scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (*Draft, error) {
	var d Draft
	var status, planJSON, scopeJSON, created, expires string
	var confirmed, applied sql.NullString
	if err := row.Scan(&d.ID, &d.UserID, &status, &planJSON, &d.PlanHash, &d.Message, &scopeJSON,
		&d.RejectReason, &created, &expires, &confirmed, &applied); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("drafts: scan: %w", err)
	}
	d.Status = Status(status)

	var p plan.Plan
	if err := json.Unmarshal([]byte(planJSON), &p); err != nil {
		return nil, fmt.Errorf("drafts: decode plan of %s: %w", d.ID, err)
	}
	d.Plan = &p
	if err := json.Unmarshal([]byte(scopeJSON), &d.Scope); err != nil {
		return nil, fmt.Errorf("drafts: decode scope of %s: %w", d.ID, err)
	}

	var err error
	if d.CreatedAt, err = storage.ParseTime(created); err != nil {
		return nil, err
	}
	if d.ExpiresAt, err = storage.ParseTime(expires); err != nil {
		return nil, err
	}
	if d.ConfirmedAt, err = parseNullTime(confirmed); err != nil {
		return nil, err
	}
	if d.AppliedAt, err = parseNullTime(applied); err != nil {
		return nil, err
	}
	return &d, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := storage.ParseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
