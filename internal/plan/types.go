// Package plan defines the structured mutation plan an agent proposes, the
// closed set of operations it may contain, and the validator that decides
// whether untrusted generator output is a plan at all.
//
// A Plan never touches storage. It is parsed, validated against the
// snapshot the generator was shown, hashed, and handed to the draft
// pipeline as an immutable value.
package plan

import (
	"fmt"

	"github.com/HendryAvila/stagehand/internal/workspace"
)

// --- Agents ---

// AgentID names a specialized agent. Each agent targets exactly one kind.
type AgentID string

const (
	AgentEventsPublisher AgentID = "events_publisher"
	AgentTasksPlanner    AgentID = "tasks_planner"
	AgentNotesWriter     AgentID = "notes_writer"
	AgentProjectsManager AgentID = "projects_manager"
)

var agentKinds = map[AgentID]workspace.Kind{
	AgentEventsPublisher: workspace.KindEvent,
	AgentTasksPlanner:    workspace.KindTask,
	AgentNotesWriter:     workspace.KindNote,
	AgentProjectsManager: workspace.KindProject,
}

// Agents returns every known agent id in a fixed order.
func Agents() []AgentID {
	return []AgentID{AgentEventsPublisher, AgentTasksPlanner, AgentNotesWriter, AgentProjectsManager}
}

// Kind returns the entity kind the agent mutates, or "" if unknown.
func (a AgentID) Kind() workspace.Kind {
	return agentKinds[a]
}

// ValidateAgent returns an error if the agent id is not recognized.
func ValidateAgent(a AgentID) error {
	if _, ok := agentKinds[a]; !ok {
		return fmt.Errorf("invalid agent %q: must be one of: events_publisher, tasks_planner, notes_writer, projects_manager", a)
	}
	return nil
}

// --- Dangerous tag ---

// DangerTag marks an operation the user must explicitly assent to. Its only
// JSON form is the literal true; an absent tag is a nil *DangerTag.
type DangerTag struct{}

func (DangerTag) MarshalJSON() ([]byte, error) {
	return []byte("true"), nil
}

func (*DangerTag) UnmarshalJSON(b []byte) error {
	if string(b) != "true" {
		return fmt.Errorf("dangerous must be true, got %s", b)
	}
	return nil
}

// Danger returns a set tag.
func Danger() *DangerTag { return &DangerTag{} }

// --- Operations ---

// OpKind tags an Operation.
type OpKind string

const (
	OpCreate        OpKind = "create"
	OpUpdate        OpKind = "update"
	OpStatusToggle  OpKind = "statusToggle"
	OpCommentAdd    OpKind = "commentAdd"
	OpCommentRemove OpKind = "commentRemove"
	OpDelete        OpKind = "delete"
)

// Operation is one mutation in a plan. The set of implementations is closed:
// CreateOp, UpdateOp, StatusToggleOp, CommentAddOp, CommentRemoveOp, DeleteOp.
type Operation interface {
	OpKind() OpKind
	operation()
}

// CreateOp creates a new entity of the agent's kind.
type CreateOp struct {
	ClientRequestID string           `json:"clientRequestId" validate:"required,max=64"`
	Fields          workspace.Fields `json:"fields"`
}

// UpdateOp patches an existing entity with changed fields only.
type UpdateOp struct {
	EntityID int64            `json:"entityId" validate:"required,gt=0"`
	Patch    workspace.Fields `json:"patch"`
}

// DeleteOp removes an existing entity. Always dangerous.
type DeleteOp struct {
	EntityID  int64      `json:"entityId" validate:"required,gt=0"`
	Reason    string     `json:"reason" validate:"max=500"`
	Dangerous *DangerTag `json:"dangerous,omitempty"`
}

// StatusToggleOp sets the kind's boolean status flag.
type StatusToggleOp struct {
	EntityID int64 `json:"entityId" validate:"required,gt=0"`
	Value    *bool `json:"value" validate:"required"`
}

// CommentAddOp comments on an existing entity (EntityID) or on one created
// earlier in the same plan (EntityRef, a CreateOp's ClientRequestID).
type CommentAddOp struct {
	EntityID  int64  `json:"entityId,omitempty" validate:"omitempty,gt=0"`
	EntityRef string `json:"entityRef,omitempty" validate:"omitempty,max=64"`
	Text      string `json:"text" validate:"required,max=2000"`
}

// CommentRemoveOp deletes an existing comment. Always dangerous.
type CommentRemoveOp struct {
	CommentID int64      `json:"commentId" validate:"required,gt=0"`
	Reason    string     `json:"reason" validate:"max=500"`
	Dangerous *DangerTag `json:"dangerous,omitempty"`
}

func (CreateOp) OpKind() OpKind        { return OpCreate }
func (UpdateOp) OpKind() OpKind        { return OpUpdate }
func (DeleteOp) OpKind() OpKind        { return OpDelete }
func (StatusToggleOp) OpKind() OpKind  { return OpStatusToggle }
func (CommentAddOp) OpKind() OpKind    { return OpCommentAdd }
func (CommentRemoveOp) OpKind() OpKind { return OpCommentRemove }

func (CreateOp) operation()        {}
func (UpdateOp) operation()        {}
func (DeleteOp) operation()        {}
func (StatusToggleOp) operation()  {}
func (CommentAddOp) operation()    {}
func (CommentRemoveOp) operation() {}

// CommentOps groups comment additions and removals.
type CommentOps struct {
	Add    []CommentAddOp    `json:"add" validate:"dive"`
	Remove []CommentRemoveOp `json:"remove" validate:"dive"`
}

// --- Plan ---

// Plan is a validated mutation proposal.
type Plan struct {
	AgentID          AgentID          `json:"agentId" validate:"required,oneof=events_publisher tasks_planner notes_writer projects_manager"`
	Creates          []CreateOp       `json:"creates" validate:"dive"`
	Updates          []UpdateOp       `json:"updates" validate:"dive"`
	Deletes          []DeleteOp       `json:"deletes" validate:"dive"`
	StatusToggles    []StatusToggleOp `json:"statusToggles" validate:"dive"`
	Comments         CommentOps       `json:"comments"`
	Summary          string           `json:"summary" validate:"required,max=1000"`
	Risks            []string         `json:"risks" validate:"dive,required,max=300"`
	QuestionsForUser []string         `json:"questionsForUser" validate:"dive,required,max=300"`
	DiffPreview      []string         `json:"diffPreview"`
}

// Operations returns every operation in plan order: creates, updates,
// status toggles, comment additions, comment removals, deletes.
func (p *Plan) Operations() []Operation {
	out := make([]Operation, 0, p.OpCount())
	for _, op := range p.Creates {
		out = append(out, op)
	}
	for _, op := range p.Updates {
		out = append(out, op)
	}
	for _, op := range p.StatusToggles {
		out = append(out, op)
	}
	for _, op := range p.Comments.Add {
		out = append(out, op)
	}
	for _, op := range p.Comments.Remove {
		out = append(out, op)
	}
	for _, op := range p.Deletes {
		out = append(out, op)
	}
	return out
}

// OpCount returns the total number of operations.
func (p *Plan) OpCount() int {
	return len(p.Creates) + len(p.Updates) + len(p.Deletes) + len(p.StatusToggles) +
		len(p.Comments.Add) + len(p.Comments.Remove)
}

// NeedsInput reports whether the plan is a clarification request.
func (p *Plan) NeedsInput() bool {
	return len(p.QuestionsForUser) > 0
}

// Dangerous reports whether the plan contains any dangerous operation.
func (p *Plan) Dangerous() bool {
	return len(p.Deletes) > 0 || len(p.Comments.Remove) > 0
}

// Refs returns the existing entities the plan touches, sorted and
// deduplicated. Comments being removed are included as KindComment refs.
func (p *Plan) Refs() []workspace.Ref {
	kind := p.AgentID.Kind()
	seen := map[workspace.Ref]bool{}
	var out []workspace.Ref
	add := func(ref workspace.Ref) {
		if ref.ID > 0 && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	for _, op := range p.Updates {
		add(workspace.Ref{Kind: kind, ID: op.EntityID})
	}
	for _, op := range p.Deletes {
		add(workspace.Ref{Kind: kind, ID: op.EntityID})
	}
	for _, op := range p.StatusToggles {
		add(workspace.Ref{Kind: kind, ID: op.EntityID})
	}
	for _, op := range p.Comments.Add {
		add(workspace.Ref{Kind: kind, ID: op.EntityID})
	}
	for _, op := range p.Comments.Remove {
		add(workspace.Ref{Kind: workspace.KindComment, ID: op.CommentID})
	}
	for _, op := range p.Creates {
		if op.Fields.ProjectID != nil && kind != workspace.KindProject {
			add(workspace.Ref{Kind: workspace.KindProject, ID: *op.Fields.ProjectID})
		}
	}
	for _, op := range p.Updates {
		if op.Patch.ProjectID != nil {
			add(workspace.Ref{Kind: workspace.KindProject, ID: *op.Patch.ProjectID})
		}
	}
	workspace.SortRefs(out)
	return out
}

// Counts is a per-kind operation tally, shown to the user at confirm time.
type Counts struct {
	Entity         workspace.Kind `json:"entity"`
	Creates        int            `json:"creates"`
	Updates        int            `json:"updates"`
	Deletes        int            `json:"deletes"`
	StatusToggles  int            `json:"statusToggles"`
	CommentsAdd    int            `json:"commentsAdd"`
	CommentsRemove int            `json:"commentsRemove"`
	Dangerous      bool           `json:"dangerous"`
}

// Counts tallies the plan's operations.
func (p *Plan) Counts() Counts {
	return Counts{
		Entity:         p.AgentID.Kind(),
		Creates:        len(p.Creates),
		Updates:        len(p.Updates),
		Deletes:        len(p.Deletes),
		StatusToggles:  len(p.StatusToggles),
		CommentsAdd:    len(p.Comments.Add),
		CommentsRemove: len(p.Comments.Remove),
		Dangerous:      p.Dangerous(),
	}
}

// normalize replaces nil lists with empty ones so the JSON form is stable.
func (p *Plan) normalize() {
	if p.Creates == nil {
		p.Creates = []CreateOp{}
	}
	if p.Updates == nil {
		p.Updates = []UpdateOp{}
	}
	if p.Deletes == nil {
		p.Deletes = []DeleteOp{}
	}
	if p.StatusToggles == nil {
		p.StatusToggles = []StatusToggleOp{}
	}
	if p.Comments.Add == nil {
		p.Comments.Add = []CommentAddOp{}
	}
	if p.Comments.Remove == nil {
		p.Comments.Remove = []CommentRemoveOp{}
	}
	if p.Risks == nil {
		p.Risks = []string{}
	}
	if p.QuestionsForUser == nil {
		p.QuestionsForUser = []string{}
	}
	if p.DiffPreview == nil {
		p.DiffPreview = []string{}
	}
}
