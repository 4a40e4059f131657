package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/storage"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Schema creates the workspace tables.
const Schema = `
	CREATE TABLE IF NOT EXISTS projects (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id    TEXT    NOT NULL,
		name        TEXT    NOT NULL,
		description TEXT    NOT NULL DEFAULT '',
		archived    INTEGER NOT NULL DEFAULT 0,
		revision    INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT    NOT NULL,
		updated_at  TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id    TEXT    NOT NULL,
		project_id  INTEGER NOT NULL,
		title       TEXT    NOT NULL,
		description TEXT    NOT NULL DEFAULT '',
		due_date    TEXT    NOT NULL DEFAULT '',
		done        INTEGER NOT NULL DEFAULT 0,
		revision    INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT    NOT NULL,
		updated_at  TEXT    NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id    TEXT    NOT NULL,
		project_id  INTEGER NOT NULL,
		title       TEXT    NOT NULL,
		body        TEXT    NOT NULL,
		pinned      INTEGER NOT NULL DEFAULT 0,
		revision    INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT    NOT NULL,
		updated_at  TEXT    NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id    TEXT    NOT NULL,
		project_id  INTEGER NOT NULL,
		title       TEXT    NOT NULL,
		description TEXT    NOT NULL DEFAULT '',
		starts_at   TEXT    NOT NULL,
		location    TEXT    NOT NULL DEFAULT '',
		published   INTEGER NOT NULL DEFAULT 0,
		revision    INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT    NOT NULL,
		updated_at  TEXT    NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS comments (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_kind TEXT    NOT NULL,
		entity_id   INTEGER NOT NULL,
		owner_id    TEXT    NOT NULL,
		author_id   TEXT    NOT NULL,
		text        TEXT    NOT NULL,
		created_at  TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT    NOT NULL,
		message    TEXT    NOT NULL,
		read       INTEGER NOT NULL DEFAULT 0,
		created_at TEXT    NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner    ON tasks(owner_id, project_id, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notes_owner    ON notes(owner_id, project_id, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_owner   ON events(owner_id, project_id, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_comments_ent   ON comments(entity_kind, entity_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notif_user     ON notifications(user_id, created_at DESC);
`

// commentsPerEntity bounds the comments embedded in each task or event.
const commentsPerEntity = 3

// Store implements Reader and Mutator over SQLite. Bind it to a *sql.Tx
// (via storage.DB.InTx) before using it as a Mutator.
type Store struct {
	conn storage.Conn
}

// NewStore creates a Store over conn.
func NewStore(conn storage.Conn) *Store {
	return &Store{conn: conn}
}

var tables = map[Kind]string{
	KindProject: "projects",
	KindTask:    "tasks",
	KindNote:    "notes",
	KindEvent:   "events",
}

func tableFor(kind Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", agenterr.New(agenterr.BadRequest, "unknown entity kind %q", kind)
	}
	return t, nil
}

// ─── Reader ──────────────────────────────────────────────────────────────────

// ProjectOwned reports whether projectID exists and belongs to userID.
func (s *Store) ProjectOwned(ctx context.Context, userID string, projectID int64) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM projects WHERE id = ? AND owner_id = ?`, projectID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("workspace: project owned: %w", err)
	}
	return true, nil
}

// Projects lists the user's projects, most recently updated first.
func (s *Store) Projects(ctx context.Context, userID string, q Query) ([]Project, error) {
	query := `SELECT id, name, description, archived, updated_at FROM projects WHERE owner_id = ?`
	args := []any{userID}
	if q.ProjectID > 0 {
		query += ` AND id = ?`
		args = append(args, q.ProjectID)
	}
	query += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	args = append(args, limitOf(q))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workspace: list projects: %w", err)
	}
	defer rows.Close()

	out := []Project{}
	for rows.Next() {
		var p Project
		var updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Archived, &updated); err != nil {
			return nil, fmt.Errorf("workspace: scan project: %w", err)
		}
		if p.UpdatedAt, err = storage.ParseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Tasks lists the user's tasks with their latest comments.
func (s *Store) Tasks(ctx context.Context, userID string, q Query) ([]Task, error) {
	query, args := scopedQuery(
		`SELECT id, project_id, title, description, due_date, done, updated_at FROM tasks`, userID, q)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workspace: list tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		var t Task
		var updated string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.DueDate, &t.Done, &updated); err != nil {
			return nil, fmt.Errorf("workspace: scan task: %w", err)
		}
		if t.UpdatedAt, err = storage.ParseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Comments, err = s.comments(ctx, KindTask, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Notes lists the user's notes.
func (s *Store) Notes(ctx context.Context, userID string, q Query) ([]Note, error) {
	query, args := scopedQuery(
		`SELECT id, project_id, title, body, pinned, updated_at FROM notes`, userID, q)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workspace: list notes: %w", err)
	}
	defer rows.Close()

	out := []Note{}
	for rows.Next() {
		var n Note
		var updated string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.Title, &n.Body, &n.Pinned, &updated); err != nil {
			return nil, fmt.Errorf("workspace: scan note: %w", err)
		}
		if n.UpdatedAt, err = storage.ParseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Events lists the user's events with their latest comments.
func (s *Store) Events(ctx context.Context, userID string, q Query) ([]Event, error) {
	query, args := scopedQuery(
		`SELECT id, project_id, title, description, starts_at, location, published, updated_at FROM events`, userID, q)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workspace: list events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var e Event
		var updated string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Title, &e.Description, &e.StartsAt, &e.Location, &e.Published, &updated); err != nil {
			return nil, fmt.Errorf("workspace: scan event: %w", err)
		}
		if e.UpdatedAt, err = storage.ParseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Comments, err = s.comments(ctx, KindEvent, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Notifications lists the user's most recent notifications.
func (s *Store) Notifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, message, read, created_at FROM notifications
		 WHERE user_id = ? ORDER BY created_at DESC, id ASC LIMIT ?`,
		userID, limitOf(Query{Limit: limit}))
	if err != nil {
		return nil, fmt.Errorf("workspace: list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		var created string
		if err := rows.Scan(&n.ID, &n.Message, &n.Read, &created); err != nil {
			return nil, fmt.Errorf("workspace: scan notification: %w", err)
		}
		if n.CreatedAt, err = storage.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Versions implements Reader.
func (s *Store) Versions(ctx context.Context, userID string, refs []Ref) (map[Ref]string, error) {
	out := make(map[Ref]string, len(refs))
	for _, ref := range refs {
		var query string
		if ref.Kind == KindComment {
			query = `SELECT created_at FROM comments WHERE id = ? AND owner_id = ?`
		} else {
			table, err := tableFor(ref.Kind)
			if err != nil {
				return nil, err
			}
			query = `SELECT revision || '@' || updated_at FROM ` + table + ` WHERE id = ? AND owner_id = ?`
		}

		var version string
		err := s.conn.QueryRowContext(ctx, query, ref.ID, userID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("workspace: version of %s: %w", ref, err)
		}
		out[ref] = version
	}
	return out, nil
}

func (s *Store) comments(ctx context.Context, kind Kind, entityID int64) ([]Comment, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, author_id, text, created_at FROM comments
		 WHERE entity_kind = ? AND entity_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(kind), entityID, commentsPerEntity)
	if err != nil {
		return nil, fmt.Errorf("workspace: list comments: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		c := Comment{EntityKind: kind, EntityID: entityID}
		var created string
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.Text, &created); err != nil {
			return nil, fmt.Errorf("workspace: scan comment: %w", err)
		}
		if c.CreatedAt, err = storage.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── Mutator ─────────────────────────────────────────────────────────────────

// Create inserts a new entity and returns its id.
func (s *Store) Create(ctx context.Context, ownerID string, kind Kind, f Fields) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	cols, vals, err := columns(kind, f)
	if err != nil {
		return 0, err
	}
	if f.ProjectID != nil {
		if err := s.requireProject(ctx, ownerID, *f.ProjectID); err != nil {
			return 0, err
		}
	}

	now := storage.FormatTime(timeNow())
	cols = append(cols, "owner_id", "created_at", "updated_at")
	vals = append(vals, ownerID, now, now)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := s.conn.ExecContext(ctx, query, vals...)
	if err != nil {
		return 0, fmt.Errorf("workspace: create %s: %w", kind, err)
	}
	return res.LastInsertId()
}

// Update applies the non-nil fields of f to an owned entity.
func (s *Store) Update(ctx context.Context, ownerID string, kind Kind, id int64, f Fields) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	cols, vals, err := columns(kind, f)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return agenterr.New(agenterr.BadRequest, "empty patch for %s %d", kind, id)
	}
	if f.ProjectID != nil {
		if err := s.requireProject(ctx, ownerID, *f.ProjectID); err != nil {
			return err
		}
	}

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "revision = revision + 1", "updated_at = ?")
	vals = append(vals, storage.FormatTime(timeNow()), id, ownerID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ? AND owner_id = ?`, table, strings.Join(sets, ", "))
	res, err := s.conn.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("workspace: update %s %d: %w", kind, id, err)
	}
	return requireAffected(res, kind, id)
}

// Delete removes an owned entity and the comments attached to it. Deleting
// a project cascades to its tasks, notes and events.
func (s *Store) Delete(ctx context.Context, ownerID string, kind Kind, id int64) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	if kind == KindProject {
		for _, child := range []Kind{KindTask, KindEvent} {
			if _, err := s.conn.ExecContext(ctx,
				`DELETE FROM comments WHERE entity_kind = ? AND entity_id IN
				 (SELECT id FROM `+tables[child]+` WHERE project_id = ? AND owner_id = ?)`,
				string(child), id, ownerID); err != nil {
				return fmt.Errorf("workspace: delete comments under project %d: %w", id, err)
			}
		}
	} else if kind.Commentable() {
		if _, err := s.conn.ExecContext(ctx,
			`DELETE FROM comments WHERE entity_kind = ? AND entity_id = ? AND owner_id = ?`,
			string(kind), id, ownerID); err != nil {
			return fmt.Errorf("workspace: delete comments of %s %d: %w", kind, id, err)
		}
	}

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("workspace: delete %s %d: %w", kind, id, err)
	}
	return requireAffected(res, kind, id)
}

// SetFlag sets the kind's boolean status attribute (see Kind.FlagName).
func (s *Store) SetFlag(ctx context.Context, ownerID string, kind Kind, id int64, value bool) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE `+table+` SET `+kind.FlagName()+` = ?, revision = revision + 1, updated_at = ? WHERE id = ? AND owner_id = ?`,
		value, storage.FormatTime(timeNow()), id, ownerID)
	if err != nil {
		return fmt.Errorf("workspace: set %s on %s %d: %w", kind.FlagName(), kind, id, err)
	}
	return requireAffected(res, kind, id)
}

// AddComment attaches a comment to an owned event or task.
func (s *Store) AddComment(ctx context.Context, authorID string, kind Kind, entityID int64, text string) (int64, error) {
	if !kind.Commentable() {
		return 0, agenterr.New(agenterr.BadRequest, "%s does not accept comments", kind)
	}
	versions, err := s.Versions(ctx, authorID, []Ref{{Kind: kind, ID: entityID}})
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, agenterr.New(agenterr.Forbidden, "%s %d not found or not owned", kind, entityID)
	}

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO comments (entity_kind, entity_id, owner_id, author_id, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(kind), entityID, authorID, authorID, text, storage.FormatTime(timeNow()))
	if err != nil {
		return 0, fmt.Errorf("workspace: add comment: %w", err)
	}
	return res.LastInsertId()
}

// RemoveComment deletes a comment on one of the owner's entities.
func (s *Store) RemoveComment(ctx context.Context, ownerID string, commentID int64) error {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM comments WHERE id = ? AND owner_id = ?`, commentID, ownerID)
	if err != nil {
		return fmt.Errorf("workspace: remove comment %d: %w", commentID, err)
	}
	return requireAffected(res, KindComment, commentID)
}

// AddNotification records a notification for userID.
func (s *Store) AddNotification(ctx context.Context, userID, message string) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO notifications (user_id, message, created_at) VALUES (?, ?, ?)`,
		userID, message, storage.FormatTime(timeNow()))
	if err != nil {
		return 0, fmt.Errorf("workspace: add notification: %w", err)
	}
	return res.LastInsertId()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Store) requireProject(ctx context.Context, ownerID string, projectID int64) error {
	ok, err := s.ProjectOwned(ctx, ownerID, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return agenterr.New(agenterr.Forbidden, "project %d not found or not owned", projectID)
	}
	return nil
}

// CheckFields reports whether every non-nil field of f exists on kind.
func CheckFields(kind Kind, f Fields) error {
	if _, err := tableFor(kind); err != nil {
		return err
	}
	_, _, err := columns(kind, f)
	return err
}

// columns maps the non-nil fields of f onto kind's columns. A field the
// kind does not have is a BadRequest.
func columns(kind Kind, f Fields) ([]string, []any, error) {
	type binding struct {
		set     bool
		field   string
		col     string
		allowed bool
		value   func() any
	}
	bindings := []binding{
		{f.Name != nil, "name", "name", kind == KindProject, func() any { return *f.Name }},
		{f.Title != nil, "title", "title", kind != KindProject, func() any { return *f.Title }},
		{f.Description != nil, "description", "description", kind != KindNote, func() any { return *f.Description }},
		{f.Body != nil, "body", "body", kind == KindNote, func() any { return *f.Body }},
		{f.Location != nil, "location", "location", kind == KindEvent, func() any { return *f.Location }},
		{f.StartsAt != nil, "startsAt", "starts_at", kind == KindEvent, func() any { return *f.StartsAt }},
		{f.DueDate != nil, "dueDate", "due_date", kind == KindTask, func() any { return *f.DueDate }},
		{f.ProjectID != nil, "projectId", "project_id", kind != KindProject, func() any { return *f.ProjectID }},
	}

	var cols []string
	var vals []any
	for _, b := range bindings {
		if !b.set {
			continue
		}
		if !b.allowed {
			return nil, nil, agenterr.New(agenterr.BadRequest, "%s has no field %q", kind, b.field)
		}
		cols = append(cols, b.col)
		vals = append(vals, b.value())
	}
	return cols, vals, nil
}

func scopedQuery(base, userID string, q Query) (string, []any) {
	query := base + ` WHERE owner_id = ?`
	args := []any{userID}
	if q.ProjectID > 0 {
		query += ` AND project_id = ?`
		args = append(args, q.ProjectID)
	}
	query += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	return query, append(args, limitOf(q))
}

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func requireAffected(res sql.Result, kind Kind, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workspace: rows affected: %w", err)
	}
	if n == 0 {
		return agenterr.New(agenterr.Forbidden, "%s %d not found or not owned", kind, id)
	}
	return nil
}
