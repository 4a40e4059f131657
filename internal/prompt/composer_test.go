package prompt

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

func newComposer(t *testing.T, maxChars int) *Composer {
	t.Helper()
	rules, err := LoadRules()
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	c, err := NewComposer(rules, plan.DefaultLimits(), maxChars)
	if err != nil {
		t.Fatalf("NewComposer: %v", err)
	}
	return c
}

func sampleSnapshot() workspace.Snapshot {
	snap := workspace.NewSnapshot("alice", 0)
	snap.Projects = []workspace.Project{{ID: 1, Name: "Meetup"}}
	snap.Events = []workspace.Event{
		{ID: 9, ProjectID: 1, Title: "Later", StartsAt: "2026-10-23T18:00:00Z", Comments: []workspace.Comment{}},
		{ID: 7, ProjectID: 1, Title: "Friday social", StartsAt: "2026-10-16T18:00:00Z",
			Comments: []workspace.Comment{{ID: 40, EntityKind: workspace.KindEvent, EntityID: 7, Text: "tags"}}},
	}
	snap.Notes = []workspace.Note{{ID: 2, ProjectID: 1, Title: "Ideas", Body: "talks"}}
	for i := 0; i < 4; i++ {
		snap.Notifications = append(snap.Notifications, workspace.Notification{ID: int64(i + 1), Message: strings.Repeat("n", 100)})
	}
	return snap
}

func TestLoadRules_DescribesEveryAgent(t *testing.T) {
	rules, err := LoadRules()
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules.Common) == 0 || rules.OutputSchema == "" {
		t.Error("rules missing common section or output schema")
	}
	for _, a := range plan.Agents() {
		if rules.Agents[string(a)].Description == "" {
			t.Errorf("agent %q has no description", a)
		}
	}
}

func TestParseRules_RejectsMissingAgent(t *testing.T) {
	_, err := ParseRules([]byte("common: [x]\nagents:\n  notes_writer:\n    kind: note\n"))
	if err == nil {
		t.Fatal("expected error for missing agents")
	}
}

func TestParseRules_RejectsWrongKind(t *testing.T) {
	doc := "agents:\n"
	for _, a := range plan.Agents() {
		doc += fmt.Sprintf("  %s:\n    kind: %s\n", a, "project")
	}
	if _, err := ParseRules([]byte(doc)); err == nil {
		t.Fatal("expected error for mismatched kind")
	}
}

func TestCompose_EmbedsSortedValidIDs(t *testing.T) {
	out, err := newComposer(t, 0).Compose(sampleSnapshot(), plan.AgentEventsPublisher)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for _, want := range []string{
		"You are the events_publisher agent.",
		"event: 7, 9",
		"project: 1",
		"task: (none)",
		"comment: 40",
		`"dangerous": true`,
	} {
		if !strings.Contains(out.System, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if out.Snapshot.Omitted != 0 {
		t.Errorf("Omitted = %d, want 0 without a budget", out.Snapshot.Omitted)
	}
}

func TestCompose_WithoutAgentListsAll(t *testing.T) {
	out, err := newComposer(t, 0).Compose(sampleSnapshot(), "")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for _, a := range plan.Agents() {
		if !strings.Contains(out.System, "- "+string(a)+" (") {
			t.Errorf("prompt does not describe %q", a)
		}
	}
}

func TestCompose_IsDeterministic(t *testing.T) {
	c := newComposer(t, 0)
	a, _ := c.Compose(sampleSnapshot(), plan.AgentTasksPlanner)
	b, _ := c.Compose(sampleSnapshot(), plan.AgentTasksPlanner)
	if a.System != b.System {
		t.Error("same inputs rendered different prompts")
	}
}

func TestCompose_UnknownAgent(t *testing.T) {
	_, err := newComposer(t, 0).Compose(sampleSnapshot(), "wizard")
	if !agenterr.Is(err, agenterr.BadRequest) {
		t.Errorf("err = %v, want BadRequest", err)
	}
}

func TestCompose_TruncatesLowestPriorityFirst(t *testing.T) {
	full, err := newComposer(t, 0).Compose(sampleSnapshot(), plan.AgentEventsPublisher)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	// Just below full size forces at least one drop.
	c := newComposer(t, len(full.System)-1)
	in := sampleSnapshot()
	out, err := c.Compose(in, plan.AgentEventsPublisher)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(out.System) > len(full.System)-1 {
		t.Errorf("prompt is %d chars, budget %d", len(out.System), len(full.System)-1)
	}
	if out.Snapshot.Omitted == 0 {
		t.Fatal("expected omitted records")
	}
	if len(out.Snapshot.Notifications) != 3 || len(out.Snapshot.Events) != 2 {
		t.Errorf("dropped the wrong records: notifications=%d events=%d",
			len(out.Snapshot.Notifications), len(out.Snapshot.Events))
	}
	if !strings.Contains(out.System, "records omitted") {
		t.Error("prompt should mention omitted records")
	}
	if len(in.Notifications) != 4 {
		t.Error("Compose must not modify the caller's snapshot")
	}
}

func TestCompose_TruncatedIDsMatchSnapshot(t *testing.T) {
	c := newComposer(t, 0)
	full, _ := c.Compose(sampleSnapshot(), plan.AgentNotesWriter)

	// Budget that forces every event out before notes.
	small := newComposer(t, len(full.System)-900)
	out, err := small.Compose(sampleSnapshot(), plan.AgentNotesWriter)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(out.Snapshot.Notes) != 1 {
		t.Errorf("target kind dropped before others: notes=%d", len(out.Snapshot.Notes))
	}
	for _, e := range out.Snapshot.Events {
		if !strings.Contains(out.System, fmt.Sprintf(`"id":%d`, e.ID)) {
			t.Errorf("event %d kept in snapshot but missing from prompt", e.ID)
		}
	}
	for _, id := range []int64{7, 9} {
		kept := out.Snapshot.Has(workspace.Ref{Kind: workspace.KindEvent, ID: id})
		if !kept && strings.Contains(out.System, fmt.Sprintf(`"title":"%s"`, titleOf(sampleSnapshot(), id))) {
			t.Errorf("dropped event %d still rendered", id)
		}
	}
}

func TestCompose_BudgetTooSmall(t *testing.T) {
	_, err := newComposer(t, 10).Compose(sampleSnapshot(), plan.AgentEventsPublisher)
	if err == nil {
		t.Fatal("expected error when even the empty prompt exceeds the budget")
	}
}

func TestDropOrder_TargetKindLast(t *testing.T) {
	order := dropOrder(plan.AgentNotesWriter)
	if order[len(order)-1] != workspace.KindNote {
		t.Errorf("last = %q, want note", order[len(order)-1])
	}
	if order[0] != kindNotification {
		t.Errorf("first = %q, want notification", order[0])
	}
}

func TestRepair_IncludesCause(t *testing.T) {
	msg := Repair(`{"oops"`, errors.New("unexpected EOF"))
	if !strings.Contains(msg, "unexpected EOF") || !strings.Contains(msg, `{"oops"`) {
		t.Errorf("repair message = %q", msg)
	}
}

func titleOf(s workspace.Snapshot, id int64) string {
	for _, e := range s.Events {
		if e.ID == id {
			return e.Title
		}
	}
	return ""
}
