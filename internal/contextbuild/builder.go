// Package contextbuild assembles the bounded, read-only workspace snapshot
// an agent is shown before it proposes a plan.
package contextbuild

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// Quota bounds the records fetched per kind.
type Quota struct {
	Projects      int `mapstructure:"projects" json:"projects"`
	Events        int `mapstructure:"events" json:"events"`
	Tasks         int `mapstructure:"tasks" json:"tasks"`
	Notes         int `mapstructure:"notes" json:"notes"`
	Notifications int `mapstructure:"notifications" json:"notifications"`
}

// DefaultQuota returns the stock per-kind bounds (30 records in total).
func DefaultQuota() Quota {
	return Quota{Projects: 5, Events: 8, Tasks: 8, Notes: 5, Notifications: 4}
}

// Total returns the maximum snapshot size.
func (q Quota) Total() int {
	return q.Projects + q.Events + q.Tasks + q.Notes + q.Notifications
}

// Scope narrows a snapshot. A zero ProjectID means every owned project.
type Scope struct {
	ProjectID int64
}

// Builder fetches snapshots from a workspace.Reader.
type Builder struct {
	reader workspace.Reader
	quota  Quota
}

// New creates a Builder.
func New(reader workspace.Reader, quota Quota) *Builder {
	return &Builder{reader: reader, quota: quota}
}

// Build returns the user's snapshot for scope. The five kinds are fetched
// concurrently; the first failure cancels the rest.
func (b *Builder) Build(ctx context.Context, userID string, scope Scope) (workspace.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return workspace.Snapshot{}, agenterr.New(agenterr.Unauthorized, "no authenticated user")
	}
	if scope.ProjectID < 0 {
		return workspace.Snapshot{}, agenterr.New(agenterr.BadRequest, "invalid project id %d", scope.ProjectID)
	}
	if scope.ProjectID > 0 {
		ok, err := b.reader.ProjectOwned(ctx, userID, scope.ProjectID)
		if err != nil {
			return workspace.Snapshot{}, fmt.Errorf("checking project scope: %w", err)
		}
		if !ok {
			return workspace.Snapshot{}, agenterr.New(agenterr.Forbidden, "project %d not found or not owned", scope.ProjectID)
		}
	}

	snap := workspace.NewSnapshot(userID, scope.ProjectID)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := b.reader.Projects(gctx, userID, workspace.Query{ProjectID: scope.ProjectID, Limit: b.quota.Projects})
		if err != nil {
			return fmt.Errorf("fetching projects: %w", err)
		}
		snap.Projects = capped(rows, b.quota.Projects)
		return nil
	})
	g.Go(func() error {
		rows, err := b.reader.Events(gctx, userID, workspace.Query{ProjectID: scope.ProjectID, Limit: b.quota.Events})
		if err != nil {
			return fmt.Errorf("fetching events: %w", err)
		}
		snap.Events = capped(rows, b.quota.Events)
		return nil
	})
	g.Go(func() error {
		rows, err := b.reader.Tasks(gctx, userID, workspace.Query{ProjectID: scope.ProjectID, Limit: b.quota.Tasks})
		if err != nil {
			return fmt.Errorf("fetching tasks: %w", err)
		}
		snap.Tasks = capped(rows, b.quota.Tasks)
		return nil
	})
	g.Go(func() error {
		rows, err := b.reader.Notes(gctx, userID, workspace.Query{ProjectID: scope.ProjectID, Limit: b.quota.Notes})
		if err != nil {
			return fmt.Errorf("fetching notes: %w", err)
		}
		snap.Notes = capped(rows, b.quota.Notes)
		return nil
	})
	g.Go(func() error {
		rows, err := b.reader.Notifications(gctx, userID, b.quota.Notifications)
		if err != nil {
			return fmt.Errorf("fetching notifications: %w", err)
		}
		snap.Notifications = capped(rows, b.quota.Notifications)
		return nil
	})

	if err := g.Wait(); err != nil {
		return workspace.Snapshot{}, err
	}
	return snap, nil
}

// capped trims rows to n and never returns nil. A non-positive n yields an
// empty slice.
func capped[T any](rows []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(rows) > n {
		rows = rows[:n]
	}
	if rows == nil {
		return []T{}
	}
	return rows
}
