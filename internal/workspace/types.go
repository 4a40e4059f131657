// Package workspace is the multi-tenant domain store the agent reads from
// and, after confirmation, writes to: projects, tasks, notes, events, their
// comments and the user's notifications.
//
// Reader is the read-only query boundary used to build context snapshots.
// Mutator is the persistence boundary composed by the apply phase; it is
// always bound to a transaction by the caller.
package workspace

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// --- Entity kinds ---

// Kind names a mutable entity type.
type Kind string

const (
	KindProject Kind = "project"
	KindTask    Kind = "task"
	KindNote    Kind = "note"
	KindEvent   Kind = "event"
	KindComment Kind = "comment"
)

// Commentable reports whether entities of kind k accept comments.
func (k Kind) Commentable() bool {
	return k == KindEvent || k == KindTask
}

// FlagName is the boolean attribute a status toggle flips for kind k.
func (k Kind) FlagName() string {
	switch k {
	case KindProject:
		return "archived"
	case KindTask:
		return "done"
	case KindNote:
		return "pinned"
	case KindEvent:
		return "published"
	default:
		return ""
	}
}

// --- Records ---

// Project groups a user's tasks, notes and events.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Archived    bool      `json:"archived"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Task is a to-do item inside a project.
type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"projectId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	Done        bool      `json:"done"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Comments    []Comment `json:"comments"`
}

// Note is free-form text inside a project.
type Note struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"projectId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event is a scheduled happening inside a project.
type Event struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"projectId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    string    `json:"startsAt"`
	Location    string    `json:"location,omitempty"`
	Published   bool      `json:"published"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Comments    []Comment `json:"comments"`
}

// Comment is attached to an event or a task.
type Comment struct {
	ID         int64     `json:"id"`
	EntityKind Kind      `json:"entityKind"`
	EntityID   int64     `json:"entityId"`
	AuthorID   string    `json:"authorId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Notification is read-only context; agents never mutate it.
type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Fields carries the writable attributes of any entity kind. Nil means
// "not provided"; which fields are legal depends on the kind.
type Fields struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Title       *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Body        *string `json:"body,omitempty" validate:"omitempty,min=1,max=8000"`
	Location    *string `json:"location,omitempty" validate:"omitempty,max=200"`
	StartsAt    *string `json:"startsAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	DueDate     *string `json:"dueDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ProjectID   *int64  `json:"projectId,omitempty" validate:"omitempty,gt=0"`
}

// Names returns the json names of the non-nil fields, in declaration order.
func (f Fields) Names() []string {
	var out []string
	for _, p := range []struct {
		set  bool
		name string
	}{
		{f.Name != nil, "name"},
		{f.Title != nil, "title"},
		{f.Description != nil, "description"},
		{f.Body != nil, "body"},
		{f.Location != nil, "location"},
		{f.StartsAt != nil, "startsAt"},
		{f.DueDate != nil, "dueDate"},
		{f.ProjectID != nil, "projectId"},
	} {
		if p.set {
			out = append(out, p.name)
		}
	}
	return out
}

// RequiredFields lists the fields a create of kind must carry.
func RequiredFields(kind Kind) []string {
	switch kind {
	case KindProject:
		return []string{"name"}
	case KindTask:
		return []string{"title", "projectId"}
	case KindNote:
		return []string{"title", "body", "projectId"}
	case KindEvent:
		return []string{"title", "startsAt", "projectId"}
	default:
		return nil
	}
}

// Ref addresses one entity.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// SortRefs orders refs by kind then id.
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}

// Query bounds a listing.
type Query struct {
	ProjectID int64 // 0 means every project the user owns
	Limit     int
}

// Reader is the read-only query interface over the workspace. Every method
// returns only records owned by userID.
type Reader interface {
	ProjectOwned(ctx context.Context, userID string, projectID int64) (bool, error)
	Projects(ctx context.Context, userID string, q Query) ([]Project, error)
	Tasks(ctx context.Context, userID string, q Query) ([]Task, error)
	Notes(ctx context.Context, userID string, q Query) ([]Note, error)
	Events(ctx context.Context, userID string, q Query) ([]Event, error)
	Notifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	// Versions returns a version stamp for each ref that exists and is owned
	// by userID. Refs that are missing or foreign are absent from the map.
	Versions(ctx context.Context, userID string, refs []Ref) (map[Ref]string, error)
}

// Mutator is the write boundary. Implementations must be bound to a
// transaction; a missing or foreign target yields a Forbidden error.
type Mutator interface {
	Create(ctx context.Context, ownerID string, kind Kind, f Fields) (int64, error)
	Update(ctx context.Context, ownerID string, kind Kind, id int64, f Fields) error
	Delete(ctx context.Context, ownerID string, kind Kind, id int64) error
	SetFlag(ctx context.Context, ownerID string, kind Kind, id int64, value bool) error
	AddComment(ctx context.Context, authorID string, kind Kind, entityID int64, text string) (int64, error)
	RemoveComment(ctx context.Context, ownerID string, commentID int64) error
}
