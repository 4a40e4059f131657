package workspace

import (
	"context"
	"fmt"
)

// SeedResult reports the ids created by Seed.
type SeedResult struct {
	ProjectID int64   `json:"projectId"`
	EventIDs  []int64 `json:"eventIds"`
	TaskIDs   []int64 `json:"taskIds"`
	NoteIDs   []int64 `json:"noteIds"`
}

// Seed writes a small demo workspace for userID: one project with two
// events, two tasks, a note, a comment and a notification. Run it inside
// a transaction.
func Seed(ctx context.Context, s *Store, userID string) (*SeedResult, error) {
	str := func(v string) *string { return &v }

	pid, err := s.Create(ctx, userID, KindProject, Fields{
		Name:        str("Community meetup"),
		Description: str("Monthly meetup planning"),
	})
	if err != nil {
		return nil, fmt.Errorf("seeding project: %w", err)
	}
	res := &SeedResult{ProjectID: pid}

	events := []Fields{
		{Title: str("Friday social"), StartsAt: str("2026-10-16T18:00:00Z"), Location: str("Main hall"), ProjectID: &pid},
		{Title: str("Rescheduled social"), StartsAt: str("2026-10-23T18:00:00Z"), Location: str("Main hall"), ProjectID: &pid},
	}
	for _, f := range events {
		id, err := s.Create(ctx, userID, KindEvent, f)
		if err != nil {
			return nil, fmt.Errorf("seeding event: %w", err)
		}
		res.EventIDs = append(res.EventIDs, id)
	}

	tasks := []Fields{
		{Title: str("Book the venue"), DueDate: str("2026-10-20"), ProjectID: &pid},
		{Title: str("Order snacks"), ProjectID: &pid},
	}
	for _, f := range tasks {
		id, err := s.Create(ctx, userID, KindTask, f)
		if err != nil {
			return nil, fmt.Errorf("seeding task: %w", err)
		}
		res.TaskIDs = append(res.TaskIDs, id)
	}

	nid, err := s.Create(ctx, userID, KindNote, Fields{
		Title: str("Speaker ideas"), Body: str("Ask about the Go runtime talk."), ProjectID: &pid,
	})
	if err != nil {
		return nil, fmt.Errorf("seeding note: %w", err)
	}
	res.NoteIDs = append(res.NoteIDs, nid)

	if _, err := s.AddComment(ctx, userID, KindEvent, res.EventIDs[0], "Bring name tags."); err != nil {
		return nil, fmt.Errorf("seeding comment: %w", err)
	}
	if _, err := s.AddNotification(ctx, userID, "Venue confirmed for the rescheduled social."); err != nil {
		return nil, fmt.Errorf("seeding notification: %w", err)
	}
	return res, nil
}
