// Package prompt renders the system prompt an agent sees: domain rules,
// output format, the exact set of ids it may reference and the workspace
// snapshot. Rendering is pure; the same inputs always produce the same text.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

//go:embed rules.yaml
var rulesYAML []byte

//go:embed system.tmpl
var systemTmpl string

// AgentRules describes one agent to the model.
type AgentRules struct {
	Kind        workspace.Kind `yaml:"kind"`
	Description string         `yaml:"description"`
	Rules       []string       `yaml:"rules"`
}

// Rules is the parsed domain rule document.
type Rules struct {
	Common       []string              `yaml:"common"`
	Agents       map[string]AgentRules `yaml:"agents"`
	OutputSchema string                `yaml:"output_schema"`
}

// LoadRules parses the embedded rule document.
func LoadRules() (Rules, error) {
	return ParseRules(rulesYAML)
}

// ParseRules parses a rule document and checks that every agent is described.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parsing rules: %w", err)
	}
	for _, a := range plan.Agents() {
		ar, ok := r.Agents[string(a)]
		if !ok {
			return Rules{}, fmt.Errorf("rules: agent %q is not described", a)
		}
		if ar.Kind != a.Kind() {
			return Rules{}, fmt.Errorf("rules: agent %q has kind %q, want %q", a, ar.Kind, a.Kind())
		}
	}
	return r, nil
}

// Composed is a rendered prompt plus the snapshot it embeds. The snapshot
// may be smaller than the one passed in when records were dropped to fit.
type Composed struct {
	System   string
	Snapshot workspace.Snapshot
}

// Composer renders system prompts.
type Composer struct {
	tmpl     *template.Template
	rules    Rules
	limits   plan.Limits
	maxChars int
}

// NewComposer creates a Composer. maxChars <= 0 disables truncation.
func NewComposer(rules Rules, limits plan.Limits, maxChars int) (*Composer, error) {
	tmpl, err := template.New("system").Funcs(template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"join": func(ids []int64) string {
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = strconv.FormatInt(id, 10)
			}
			return strings.Join(parts, ", ")
		},
	}).Parse(systemTmpl)
	if err != nil {
		return nil, fmt.Errorf("parsing system template: %w", err)
	}
	return &Composer{tmpl: tmpl, rules: rules, limits: limits, maxChars: maxChars}, nil
}

type idSet struct {
	Kind workspace.Kind
	IDs  []int64
}

type view struct {
	Agent      plan.AgentID
	AgentRules AgentRules
	Extra      []string
	Rules      Rules
	Limits     plan.Limits
	ValidIDs   []idSet
	Snapshot   workspace.Snapshot
}

// Compose renders the prompt for agent ("" lets the model pick one). When
// the text exceeds the character budget, records are dropped from the tail
// of the lowest-priority kinds until it fits.
func (c *Composer) Compose(snap workspace.Snapshot, agent plan.AgentID) (Composed, error) {
	if agent != "" {
		if err := plan.ValidateAgent(agent); err != nil {
			return Composed{}, agenterr.Wrap(agenterr.BadRequest, err, "unknown agent")
		}
	}

	snap = copySnapshot(snap)
	for {
		text, err := c.render(snap, agent)
		if err != nil {
			return Composed{}, err
		}
		if c.maxChars <= 0 || len(text) <= c.maxChars {
			return Composed{System: text, Snapshot: snap}, nil
		}
		if !drop(&snap, dropOrder(agent)) {
			return Composed{}, fmt.Errorf("prompt needs %d chars with an empty workspace, budget is %d", len(text), c.maxChars)
		}
	}
}

func (c *Composer) render(snap workspace.Snapshot, agent plan.AgentID) (string, error) {
	v := view{
		Agent:    agent,
		Rules:    c.rules,
		Limits:   c.limits,
		Snapshot: snap,
	}
	if agent != "" {
		v.AgentRules = c.rules.Agents[string(agent)]
		v.Extra = v.AgentRules.Rules
	}
	for _, k := range []workspace.Kind{
		workspace.KindProject, workspace.KindEvent, workspace.KindTask, workspace.KindNote, workspace.KindComment,
	} {
		v.ValidIDs = append(v.ValidIDs, idSet{Kind: k, IDs: snap.IDs(k)})
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return buf.String(), nil
}

// kindNotification is read-only context, never a plan target.
const kindNotification workspace.Kind = "notification"

// dropOrder lists kinds from least to most important. The agent's own kind
// goes last, projects just before it.
func dropOrder(agent plan.AgentID) []workspace.Kind {
	order := []workspace.Kind{kindNotification, workspace.KindNote, workspace.KindTask, workspace.KindEvent, workspace.KindProject}
	target := agent.Kind()
	if target == "" {
		return order
	}
	out := make([]workspace.Kind, 0, len(order))
	for _, k := range order {
		if k != target {
			out = append(out, k)
		}
	}
	return append(out, target)
}

// drop removes the last record of the first non-empty kind in order.
func drop(s *workspace.Snapshot, order []workspace.Kind) bool {
	for _, k := range order {
		switch k {
		case kindNotification:
			if n := len(s.Notifications); n > 0 {
				s.Notifications = s.Notifications[:n-1]
				s.Omitted++
				return true
			}
		case workspace.KindNote:
			if n := len(s.Notes); n > 0 {
				s.Notes = s.Notes[:n-1]
				s.Omitted++
				return true
			}
		case workspace.KindTask:
			if n := len(s.Tasks); n > 0 {
				s.Tasks = s.Tasks[:n-1]
				s.Omitted++
				return true
			}
		case workspace.KindEvent:
			if n := len(s.Events); n > 0 {
				s.Events = s.Events[:n-1]
				s.Omitted++
				return true
			}
		case workspace.KindProject:
			if n := len(s.Projects); n > 0 {
				s.Projects = s.Projects[:n-1]
				s.Omitted++
				return true
			}
		}
	}
	return false
}

func copySnapshot(s workspace.Snapshot) workspace.Snapshot {
	out := s
	out.Projects = append([]workspace.Project{}, s.Projects...)
	out.Events = append([]workspace.Event{}, s.Events...)
	out.Tasks = append([]workspace.Task{}, s.Tasks...)
	out.Notes = append([]workspace.Note{}, s.Notes...)
	out.Notifications = append([]workspace.Notification{}, s.Notifications...)
	return out
}

// --- User-turn messages ---

// Request renders the user turn for a message.
func Request(message string) string {
	return "REQUEST\n" + strings.TrimSpace(message)
}

// Repair renders the follow-up turn after rejected output.
func Repair(lastOutput string, cause error) string {
	return fmt.Sprintf(
		"Your previous reply was rejected: %s\n\nPrevious reply:\n%s\n\nReply again with one corrected JSON object only.",
		cause, clip(lastOutput, 4000))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
