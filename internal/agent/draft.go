package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/completion"
	"github.com/HendryAvila/stagehand/internal/contextbuild"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/metrics"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/prompt"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// DraftRequest is a free-text request for changes.
type DraftRequest struct {
	Message   string
	ProjectID int64
	AgentID   plan.AgentID
}

// DraftOutcome says what a draft request produced.
type DraftOutcome string

const (
	// OutcomeStaged means a draft was stored and awaits confirmation.
	OutcomeStaged DraftOutcome = "staged"
	// OutcomeNeedsInput means the agent asked clarifying questions.
	OutcomeNeedsInput DraftOutcome = "needs_input"
	// OutcomeNoChanges means the agent found nothing to do.
	OutcomeNoChanges DraftOutcome = "no_changes"
	// OutcomeFallback means no valid plan could be generated.
	OutcomeFallback DraftOutcome = "fallback"
)

// Fallback is the answer given when generation fails. It never stages a draft.
type Fallback struct {
	Summary string `json:"summary"`
	Reason  string `json:"reason"`
}

// DraftResult is returned by Draft.
type DraftResult struct {
	Outcome   DraftOutcome  `json:"outcome"`
	DraftID   string        `json:"draftId,omitempty"`
	Status    drafts.Status `json:"status,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	Plan      *plan.Plan    `json:"plan,omitempty"`
	Fallback  *Fallback     `json:"fallback,omitempty"`
}

// Draft builds context, asks the generator for a plan, validates it with
// repair retries and stages it. Plans that ask questions or change nothing
// are returned without staging.
func (s *Service) Draft(ctx context.Context, userID string, req DraftRequest) (*DraftResult, error) {
	res, err := s.draft(ctx, userID, req)
	if err != nil {
		metrics.DraftOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.DraftOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

func (s *Service) draft(ctx context.Context, userID string, req DraftRequest) (*DraftResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, agenterr.New(agenterr.BadRequest, "message is required")
	}
	if req.AgentID != "" {
		if err := plan.ValidateAgent(req.AgentID); err != nil {
			return nil, agenterr.New(agenterr.BadRequest, "%s", err.Error())
		}
	}

	snap, err := s.builder.Build(ctx, userID, contextbuild.Scope{ProjectID: req.ProjectID})
	if err != nil {
		return nil, err
	}
	composed, err := s.composer.Compose(snap, req.AgentID)
	if err != nil {
		return nil, err
	}

	p, err := s.generate(ctx, userID, composed, message, req.AgentID)
	if err != nil {
		if !agenterr.Is(err, agenterr.GenerationFailed) {
			return nil, err
		}
		s.logger.Warn("draft fell back", "user_id", userID, "error", err)
		return &DraftResult{
			Outcome:  OutcomeFallback,
			Fallback: &Fallback{Summary: fallbackSummary(composed.Snapshot), Reason: fallbackReason(err)},
		}, nil
	}

	if p.NeedsInput() {
		return &DraftResult{Outcome: OutcomeNeedsInput, Plan: p}, nil
	}
	if p.OpCount() == 0 {
		return &DraftResult{Outcome: OutcomeNoChanges, Plan: p}, nil
	}

	d, err := drafts.NewDraft(userID, message, drafts.Scope{ProjectID: req.ProjectID, AgentID: req.AgentID}, p, s.cfg.DraftTTL)
	if err != nil {
		return nil, err
	}
	if err := drafts.NewStore(s.db.Conn()).Create(ctx, d); err != nil {
		return nil, err
	}

	metrics.DraftsStaged.WithLabelValues(string(p.AgentID)).Inc()
	s.logger.Info("draft staged",
		"draft_id", d.ID,
		"user_id", userID,
		"agent", p.AgentID,
		"operations", p.OpCount(),
		"dangerous", p.Dangerous())
	return &DraftResult{
		Outcome:   OutcomeStaged,
		DraftID:   d.ID,
		Status:    d.Status,
		ExpiresAt: &d.ExpiresAt,
		Plan:      p,
	}, nil
}

// generate is the repair loop. Attempts run sequentially; each failed one
// feeds the raw output and the validation error back to the generator.
// Generation errors use up the same budget.
func (s *Service) generate(ctx context.Context, userID string, composed prompt.Composed, message string, agent plan.AgentID) (*plan.Plan, error) {
	messages := []completion.Message{
		{Role: completion.RoleSystem, Content: composed.System},
		{Role: completion.RoleUser, Content: prompt.Request(message)},
	}
	opts := completion.Options{Temperature: s.cfg.Temperature, JSONMode: true, MaxTokens: s.cfg.MaxTokens}
	attempts := 1 + s.cfg.RepairRetries

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, agenterr.Wrap(agenterr.GenerationFailed, err, "request cancelled")
		}

		resp, err := s.client.Complete(ctx, messages, opts)
		if err != nil {
			metrics.GenerationAttempts.WithLabelValues("error").Inc()
			lastErr = generationError(err)
			s.logger.Warn("generation attempt failed", "user_id", userID, "attempt", attempt, "error", err)
			continue
		}

		p, err := s.validator.Check(resp.Content, composed.Snapshot, agent)
		if err == nil {
			metrics.GenerationAttempts.WithLabelValues("valid").Inc()
			s.logger.Debug("plan accepted", "user_id", userID, "attempt", attempt)
			return p, nil
		}
		metrics.GenerationAttempts.WithLabelValues("invalid").Inc()
		lastErr = err
		s.logger.Info("plan rejected", "user_id", userID, "attempt", attempt, "error", err)
		messages = append(messages,
			completion.Message{Role: completion.RoleAssistant, Content: resp.Content},
			completion.Message{Role: completion.RoleUser, Content: prompt.Repair(resp.Content, err)},
		)
	}
	return nil, agenterr.Wrap(agenterr.GenerationFailed, lastErr, "no valid plan after %d attempts", attempts)
}

// fallbackReason names the exhausted budget and, when it is classified, the
// last attempt's failure. Unclassified causes stay out of client output.
func fallbackReason(err error) string {
	reason := agenterr.Message(err)
	var last *agenterr.Error
	if errors.As(errors.Unwrap(err), &last) {
		reason += ": " + last.Message
	}
	return reason
}

func generationError(err error) error {
	var ae *agenterr.Error
	if errors.As(err, &ae) {
		return err
	}
	return agenterr.Wrap(agenterr.GenerationError, err, "completion failed")
}

// fallbackSummary describes the snapshot in plain words. It depends only on
// the snapshot, so the same workspace always gets the same answer.
func fallbackSummary(snap workspace.Snapshot) string {
	var parts []string
	add := func(n int, one, many string, titles []string) {
		if n == 0 {
			return
		}
		noun := many
		if n == 1 {
			noun = one
		}
		part := fmt.Sprintf("%d %s", n, noun)
		if len(titles) > 0 {
			part += " (" + strings.Join(titles, ", ") + ")"
		}
		parts = append(parts, part)
	}

	var names []string
	for i, p := range snap.Projects {
		if i == 3 {
			break
		}
		names = append(names, p.Name)
	}
	add(len(snap.Projects), "project", "projects", names)

	names = nil
	for i, e := range snap.Events {
		if i == 3 {
			break
		}
		names = append(names, e.Title)
	}
	add(len(snap.Events), "event", "events", names)
	add(len(snap.Tasks), "task", "tasks", nil)
	add(len(snap.Notes), "note", "notes", nil)

	unread := 0
	for _, n := range snap.Notifications {
		if !n.Read {
			unread++
		}
	}
	add(unread, "unread notification", "unread notifications", nil)

	if len(parts) == 0 {
		return "I could not turn that request into a change plan, and your workspace is empty. Try creating a project first."
	}
	return "I could not turn that request into a change plan. Here is what I can see: " +
		strings.Join(parts, ", ") + ". Try naming the exact item you want to change."
}
