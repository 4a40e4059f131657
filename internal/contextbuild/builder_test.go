package contextbuild

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/storage"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

func newStore(t *testing.T) *workspace.Store {
	t.Helper()
	db, err := storage.Open(storage.Config{DataDir: t.TempDir()}, workspace.Schema)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return workspace.NewStore(db.Conn())
}

func TestBuild_SeededWorkspace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	res, err := workspace.Seed(ctx, store, "alice")
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}

	snap, err := New(store, DefaultQuota()).Build(ctx, "alice", Scope{ProjectID: res.ProjectID})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.Projects) != 1 || len(snap.Events) != 2 || len(snap.Tasks) != 2 || len(snap.Notes) != 1 {
		t.Errorf("snapshot sizes: projects=%d events=%d tasks=%d notes=%d",
			len(snap.Projects), len(snap.Events), len(snap.Tasks), len(snap.Notes))
	}
	if snap.UserID != "alice" || snap.ProjectID != res.ProjectID {
		t.Errorf("snapshot scope = (%q, %d)", snap.UserID, snap.ProjectID)
	}
}

func TestBuild_QuotaBoundsEachKind(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	pid, err := store.Create(ctx, "alice", workspace.KindProject, workspace.Fields{Name: ptr("P")})
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}
	for i := 0; i < 12; i++ {
		if _, err := store.Create(ctx, "alice", workspace.KindTask, workspace.Fields{
			Title: ptr(fmt.Sprintf("task %d", i)), ProjectID: &pid,
		}); err != nil {
			t.Fatalf("Create task: %v", err)
		}
	}

	snap, err := New(store, DefaultQuota()).Build(ctx, "alice", Scope{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.Tasks) != DefaultQuota().Tasks {
		t.Errorf("tasks = %d, want %d", len(snap.Tasks), DefaultQuota().Tasks)
	}
	if snap.Len() > DefaultQuota().Total() {
		t.Errorf("snapshot has %d records, bound is %d", snap.Len(), DefaultQuota().Total())
	}
}

func TestBuild_EmptyWorkspace(t *testing.T) {
	snap, err := New(newStore(t), DefaultQuota()).Build(context.Background(), "nobody", Scope{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.Projects == nil || snap.Events == nil || snap.Tasks == nil || snap.Notes == nil || snap.Notifications == nil {
		t.Error("empty snapshot must have non-nil slices")
	}
	if snap.Len() != 0 {
		t.Errorf("Len = %d, want 0", snap.Len())
	}
}

func TestBuild_Unauthorized(t *testing.T) {
	_, err := New(newStore(t), DefaultQuota()).Build(context.Background(), "  ", Scope{})
	if !agenterr.Is(err, agenterr.Unauthorized) {
		t.Errorf("err = %v, want Unauthorized", err)
	}
}

func TestBuild_ForeignProjectForbidden(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	res, err := workspace.Seed(ctx, store, "alice")
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	_, err = New(store, DefaultQuota()).Build(ctx, "bob", Scope{ProjectID: res.ProjectID})
	if !agenterr.Is(err, agenterr.Forbidden) {
		t.Errorf("err = %v, want Forbidden", err)
	}
}

// failingReader wraps a real reader and fails one listing.
type failingReader struct {
	workspace.Reader
}

func (failingReader) Notes(context.Context, string, workspace.Query) ([]workspace.Note, error) {
	return nil, errors.New("disk on fire")
}

func TestBuild_PropagatesFetchError(t *testing.T) {
	_, err := New(failingReader{newStore(t)}, DefaultQuota()).Build(context.Background(), "alice", Scope{})
	if err == nil {
		t.Fatal("expected error")
	}
	if agenterr.KindOf(err) != agenterr.Internal {
		t.Errorf("kind = %s, want Internal", agenterr.KindOf(err))
	}
}

func TestCapped(t *testing.T) {
	if got := capped([]int(nil), 3); got == nil || len(got) != 0 {
		t.Errorf("capped(nil) = %v", got)
	}
	if got := capped([]int{1, 2, 3, 4}, 2); len(got) != 2 {
		t.Errorf("capped(4, 2) = %v", got)
	}
	if got := capped([]int{1}, -1); len(got) != 0 {
		t.Errorf("capped(1, -1) = %v", got)
	}
}

func ptr(s string) *string { return &s }
