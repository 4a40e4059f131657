package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// Limits bounds the size of each plan list.
type Limits struct {
	Creates        int `mapstructure:"creates" json:"creates"`
	Updates        int `mapstructure:"updates" json:"updates"`
	Deletes        int `mapstructure:"deletes" json:"deletes"`
	StatusToggles  int `mapstructure:"status_toggles" json:"statusToggles"`
	CommentsAdd    int `mapstructure:"comments_add" json:"commentsAdd"`
	CommentsRemove int `mapstructure:"comments_remove" json:"commentsRemove"`
	Risks          int `mapstructure:"risks" json:"risks"`
	Questions      int `mapstructure:"questions" json:"questions"`
}

// DefaultLimits returns the stock list bounds.
func DefaultLimits() Limits {
	return Limits{
		Creates:        10,
		Updates:        20,
		Deletes:        5,
		StatusToggles:  20,
		CommentsAdd:    10,
		CommentsRemove: 5,
		Risks:          10,
		Questions:      5,
	}
}

// Validator turns raw generator output into a Plan, or explains why it
// cannot. It is safe for concurrent use.
type Validator struct {
	limits Limits
	v      *validator.Validate
}

// NewValidator creates a Validator enforcing limits.
func NewValidator(limits Limits) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{limits: limits, v: v}
}

// Check runs every validation step over raw and returns the plan with its
// diff preview derived. want restricts the agent; "" accepts any agent.
// Every failure is a ValidationError.
func (v *Validator) Check(raw string, snap workspace.Snapshot, want AgentID) (*Plan, error) {
	p, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(p, snap, want); err != nil {
		return nil, err
	}
	p.DiffPreview = BuildDiffPreview(p)
	return p, nil
}

// Parse decodes exactly one JSON object with nothing but whitespace around
// it. Every key must match a field name exactly and appear once per object.
func Parse(raw string) (*Plan, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, agenterr.New(agenterr.ValidationError, "output must be a single JSON object with no surrounding text")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, agenterr.Wrap(agenterr.ValidationError, err, "invalid plan JSON")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, agenterr.New(agenterr.ValidationError, "unexpected content after the plan object")
	}
	if err := checkKeys(json.NewDecoder(strings.NewReader(trimmed)), reflect.TypeFor[Plan](), ""); err != nil {
		return nil, agenterr.Wrap(agenterr.ValidationError, err, "invalid plan JSON")
	}
	p.normalize()
	return &p, nil
}

// Validate runs the structural, cross-reference, cardinality and dangerous
// checks, in that order.
func (v *Validator) Validate(p *Plan, snap workspace.Snapshot, want AgentID) error {
	for _, step := range []func() error{
		func() error { return v.structural(p, want) },
		func() error { return crossReference(p, snap) },
		func() error { return v.cardinality(p) },
		func() error { return dangerous(p) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return agenterr.New(agenterr.ValidationError, format, args...)
}

// --- Step 2: structural ---

func (v *Validator) structural(p *Plan, want AgentID) error {
	if err := v.v.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return invalid("field %s failed %q", trimRoot(fe.Namespace()), fe.Tag())
		}
		return agenterr.Wrap(agenterr.ValidationError, err, "plan structure")
	}
	if want != "" && p.AgentID != want {
		return invalid("agentId %q does not match requested agent %q", p.AgentID, want)
	}
	if p.NeedsInput() && p.OpCount() > 0 {
		return invalid("a plan with questionsForUser must not contain operations")
	}

	kind := p.AgentID.Kind()
	for i, op := range p.Creates {
		if err := workspace.CheckFields(kind, op.Fields); err != nil {
			return invalid("creates[%d]: %s", i, agenterr.Message(err))
		}
		have := map[string]bool{}
		for _, n := range op.Fields.Names() {
			have[n] = true
		}
		for _, req := range workspace.RequiredFields(kind) {
			if !have[req] {
				return invalid("creates[%d]: %s requires %q", i, kind, req)
			}
		}
	}
	for i, op := range p.Updates {
		if len(op.Patch.Names()) == 0 {
			return invalid("updates[%d]: empty patch", i)
		}
		if err := workspace.CheckFields(kind, op.Patch); err != nil {
			return invalid("updates[%d]: %s", i, agenterr.Message(err))
		}
	}
	if !kind.Commentable() && len(p.Comments.Add)+len(p.Comments.Remove) > 0 {
		return invalid("%s does not accept comments", kind)
	}
	for i, op := range p.Comments.Add {
		if (op.EntityID > 0) == (op.EntityRef != "") {
			return invalid("comments.add[%d]: exactly one of entityId or entityRef is required", i)
		}
		if strings.TrimSpace(op.Text) == "" {
			return invalid("comments.add[%d]: text is blank", i)
		}
	}
	return nil
}

func trimRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// --- Step 3: cross-reference ---

func crossReference(p *Plan, snap workspace.Snapshot) error {
	kind := p.AgentID.Kind()
	visible := func(k workspace.Kind, id int64) bool {
		return snap.Has(workspace.Ref{Kind: k, ID: id})
	}

	requests := map[string]bool{}
	for i, op := range p.Creates {
		if requests[op.ClientRequestID] {
			return invalid("creates[%d]: duplicate clientRequestId %q", i, op.ClientRequestID)
		}
		requests[op.ClientRequestID] = true
		if op.Fields.ProjectID != nil && !visible(workspace.KindProject, *op.Fields.ProjectID) {
			return invalid("creates[%d]: unknown project %d", i, *op.Fields.ProjectID)
		}
	}

	targets := func(list string, ids []int64) error {
		seen := map[int64]bool{}
		for i, id := range ids {
			if !visible(kind, id) {
				return invalid("%s[%d]: unknown %s %d", list, i, kind, id)
			}
			if seen[id] {
				return invalid("%s[%d]: duplicate target %d", list, i, id)
			}
			seen[id] = true
		}
		return nil
	}
	var ids []int64
	for _, op := range p.Updates {
		ids = append(ids, op.EntityID)
	}
	if err := targets("updates", ids); err != nil {
		return err
	}
	ids = ids[:0]
	for _, op := range p.Deletes {
		ids = append(ids, op.EntityID)
	}
	if err := targets("deletes", ids); err != nil {
		return err
	}
	ids = ids[:0]
	for _, op := range p.StatusToggles {
		ids = append(ids, op.EntityID)
	}
	if err := targets("statusToggles", ids); err != nil {
		return err
	}

	for i, op := range p.Updates {
		ref := workspace.Ref{Kind: kind, ID: op.EntityID}
		if op.Patch.ProjectID != nil && !visible(workspace.KindProject, *op.Patch.ProjectID) {
			return invalid("updates[%d]: unknown project %d", i, *op.Patch.ProjectID)
		}
		if cur, ok := snap.Current(ref); ok {
			if field := echoed(op.Patch, cur); field != "" {
				return invalid("updates[%d]: %s already has this value", i, field)
			}
		}
	}

	for i, op := range p.Comments.Add {
		if op.EntityRef != "" {
			if !requests[op.EntityRef] {
				return invalid("comments.add[%d]: entityRef %q names no create in this plan", i, op.EntityRef)
			}
			continue
		}
		if !visible(kind, op.EntityID) {
			return invalid("comments.add[%d]: unknown %s %d", i, kind, op.EntityID)
		}
	}

	removed := map[int64]bool{}
	for i, op := range p.Comments.Remove {
		c, ok := snap.Comment(op.CommentID)
		if !ok || c.EntityKind != kind {
			return invalid("comments.remove[%d]: unknown comment %d", i, op.CommentID)
		}
		if removed[op.CommentID] {
			return invalid("comments.remove[%d]: duplicate target %d", i, op.CommentID)
		}
		removed[op.CommentID] = true
	}
	return nil
}

// echoed returns the first patch field equal to the current value, or "".
func echoed(patch, cur workspace.Fields) string {
	str := []struct {
		name  string
		patch *string
		cur   *string
	}{
		{"name", patch.Name, cur.Name},
		{"title", patch.Title, cur.Title},
		{"description", patch.Description, cur.Description},
		{"body", patch.Body, cur.Body},
		{"location", patch.Location, cur.Location},
		{"startsAt", patch.StartsAt, cur.StartsAt},
		{"dueDate", patch.DueDate, cur.DueDate},
	}
	for _, f := range str {
		if f.patch != nil && f.cur != nil && *f.patch == *f.cur {
			return f.name
		}
	}
	if patch.ProjectID != nil && cur.ProjectID != nil && *patch.ProjectID == *cur.ProjectID {
		return "projectId"
	}
	return ""
}

// --- Step 4: cardinality ---

func (v *Validator) cardinality(p *Plan) error {
	for _, c := range []struct {
		name  string
		n     int
		limit int
	}{
		{"creates", len(p.Creates), v.limits.Creates},
		{"updates", len(p.Updates), v.limits.Updates},
		{"deletes", len(p.Deletes), v.limits.Deletes},
		{"statusToggles", len(p.StatusToggles), v.limits.StatusToggles},
		{"comments.add", len(p.Comments.Add), v.limits.CommentsAdd},
		{"comments.remove", len(p.Comments.Remove), v.limits.CommentsRemove},
		{"risks", len(p.Risks), v.limits.Risks},
		{"questionsForUser", len(p.QuestionsForUser), v.limits.Questions},
	} {
		if c.n > c.limit {
			return invalid("%s has %d entries, limit is %d", c.name, c.n, c.limit)
		}
	}
	return nil
}

// --- Step 5: dangerous ---

func dangerous(p *Plan) error {
	for i, op := range p.Deletes {
		if err := assent(fmt.Sprintf("deletes[%d]", i), op.Dangerous, op.Reason); err != nil {
			return err
		}
	}
	for i, op := range p.Comments.Remove {
		if err := assent(fmt.Sprintf("comments.remove[%d]", i), op.Dangerous, op.Reason); err != nil {
			return err
		}
	}
	return nil
}

func assent(path string, tag *DangerTag, reason string) error {
	if tag == nil {
		return invalid("%s: dangerous operation must carry dangerous: true", path)
	}
	if strings.TrimSpace(reason) == "" {
		return invalid("%s: dangerous operation requires a reason", path)
	}
	return nil
}
