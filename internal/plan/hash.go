package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/stagehand/internal/workspace"
)

// Hash returns the hex sha256 of the plan's canonical JSON encoding. The
// encoding follows struct field order, so input key order never matters and
// any value change does.
func Hash(p *Plan) (string, error) {
	c := *p
	c.normalize()
	b, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("encoding plan: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// BuildDiffPreview renders one line per operation, grouped in plan order.
func BuildDiffPreview(p *Plan) []string {
	kind := p.AgentID.Kind()
	lines := make([]string, 0, p.OpCount())

	for _, op := range p.Operations() {
		switch op := op.(type) {
		case CreateOp:
			lines = append(lines, fmt.Sprintf("+ create %s %q (%s)", kind, label(op.Fields), op.ClientRequestID))
		case UpdateOp:
			lines = append(lines, fmt.Sprintf("~ update %s %d: %s", kind, op.EntityID, describe(op.Patch)))
		case StatusToggleOp:
			lines = append(lines, fmt.Sprintf("~ set %s %d %s=%t", kind, op.EntityID, kind.FlagName(), *op.Value))
		case CommentAddOp:
			target := fmt.Sprintf("%s %d", kind, op.EntityID)
			if op.EntityRef != "" {
				target = fmt.Sprintf("new %s (%s)", kind, op.EntityRef)
			}
			lines = append(lines, fmt.Sprintf("+ comment on %s: %q", target, clip(op.Text, 80)))
		case CommentRemoveOp:
			lines = append(lines, fmt.Sprintf("! remove comment %d (dangerous): %s", op.CommentID, op.Reason))
		case DeleteOp:
			lines = append(lines, fmt.Sprintf("! delete %s %d (dangerous): %s", kind, op.EntityID, op.Reason))
		}
	}
	return lines
}

func label(f workspace.Fields) string {
	switch {
	case f.Title != nil:
		return *f.Title
	case f.Name != nil:
		return *f.Name
	default:
		return ""
	}
}

func describe(f workspace.Fields) string {
	var parts []string
	for _, p := range []struct {
		name string
		v    *string
	}{
		{"name", f.Name}, {"title", f.Title}, {"description", f.Description}, {"body", f.Body},
		{"location", f.Location}, {"startsAt", f.StartsAt}, {"dueDate", f.DueDate},
	} {
		if p.v != nil {
			parts = append(parts, fmt.Sprintf("%s=%q", p.name, clip(*p.v, 60)))
		}
	}
	if f.ProjectID != nil {
		parts = append(parts, fmt.Sprintf("projectId=%d", *f.ProjectID))
	}
	return strings.Join(parts, ", ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
