package workspace

import "sort"

// Snapshot is a bounded, read-only view of a user's workspace. It is the
// only source of ids a generated plan may reference.
type Snapshot struct {
	UserID        string         `json:"userId"`
	ProjectID     int64          `json:"projectId,omitempty"`
	Projects      []Project      `json:"projects"`
	Events        []Event        `json:"events"`
	Tasks         []Task         `json:"tasks"`
	Notes         []Note         `json:"notes"`
	Notifications []Notification `json:"notifications"`
	// Omitted counts records dropped to respect size bounds.
	Omitted int `json:"omitted,omitempty"`
}

// NewSnapshot returns an empty snapshot with non-nil slices.
func NewSnapshot(userID string, projectID int64) Snapshot {
	return Snapshot{
		UserID:        userID,
		ProjectID:     projectID,
		Projects:      []Project{},
		Events:        []Event{},
		Tasks:         []Task{},
		Notes:         []Note{},
		Notifications: []Notification{},
	}
}

// Len returns the number of top-level records.
func (s Snapshot) Len() int {
	return len(s.Projects) + len(s.Events) + len(s.Tasks) + len(s.Notes) + len(s.Notifications)
}

// IDs returns the sorted ids visible for kind. For KindComment it returns
// the ids of every embedded comment.
func (s Snapshot) IDs(kind Kind) []int64 {
	var ids []int64
	switch kind {
	case KindProject:
		for _, p := range s.Projects {
			ids = append(ids, p.ID)
		}
	case KindEvent:
		for _, e := range s.Events {
			ids = append(ids, e.ID)
		}
	case KindTask:
		for _, t := range s.Tasks {
			ids = append(ids, t.ID)
		}
	case KindNote:
		for _, n := range s.Notes {
			ids = append(ids, n.ID)
		}
	case KindComment:
		for _, e := range s.Events {
			for _, c := range e.Comments {
				ids = append(ids, c.ID)
			}
		}
		for _, t := range s.Tasks {
			for _, c := range t.Comments {
				ids = append(ids, c.ID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Has reports whether ref is visible in the snapshot.
func (s Snapshot) Has(ref Ref) bool {
	for _, id := range s.IDs(ref.Kind) {
		if id == ref.ID {
			return true
		}
	}
	return false
}

// Comment returns the embedded comment with the given id.
func (s Snapshot) Comment(id int64) (Comment, bool) {
	for _, e := range s.Events {
		for _, c := range e.Comments {
			if c.ID == id {
				return c, true
			}
		}
	}
	for _, t := range s.Tasks {
		for _, c := range t.Comments {
			if c.ID == id {
				return c, true
			}
		}
	}
	return Comment{}, false
}

// Current returns the writable fields of an entity as it appears in the
// snapshot, so patches can be checked for echoed values.
func (s Snapshot) Current(ref Ref) (Fields, bool) {
	switch ref.Kind {
	case KindProject:
		for _, p := range s.Projects {
			if p.ID == ref.ID {
				return Fields{Name: &p.Name, Description: &p.Description}, true
			}
		}
	case KindEvent:
		for _, e := range s.Events {
			if e.ID == ref.ID {
				return Fields{
					Title: &e.Title, Description: &e.Description, StartsAt: &e.StartsAt,
					Location: &e.Location, ProjectID: &e.ProjectID,
				}, true
			}
		}
	case KindTask:
		for _, t := range s.Tasks {
			if t.ID == ref.ID {
				return Fields{
					Title: &t.Title, Description: &t.Description, DueDate: &t.DueDate,
					ProjectID: &t.ProjectID,
				}, true
			}
		}
	case KindNote:
		for _, n := range s.Notes {
			if n.ID == ref.ID {
				return Fields{Title: &n.Title, Body: &n.Body, ProjectID: &n.ProjectID}, true
			}
		}
	}
	return Fields{}, false
}
