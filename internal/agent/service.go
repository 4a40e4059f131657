// Package agent runs the three-phase protocol that turns a free-text request
// into workspace writes: Draft (generate, validate, stage), Confirm (issue a
// single-use token bound to the plan and the state it reads) and Apply (one
// transaction that consumes the token and executes the plan).
//
// Nothing is written to the workspace before Apply, and Apply only runs for
// a draft a human confirmed.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/completion"
	"github.com/HendryAvila/stagehand/internal/contextbuild"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/ledger"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/prompt"
	"github.com/HendryAvila/stagehand/internal/storage"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Config tunes the protocol.
type Config struct {
	RepairRetries  int
	DraftTTL       time.Duration
	LedgerTTL      time.Duration
	DraftRetention time.Duration
	Temperature    *float64
	MaxTokens      int
}

// DefaultConfig returns the stock protocol settings.
func DefaultConfig() Config {
	return Config{
		RepairRetries:  2,
		DraftTTL:       drafts.DefaultTTL,
		LedgerTTL:      ledger.DefaultTTL,
		DraftRetention: 7 * 24 * time.Hour,
	}
}

// Deps are the collaborators a Service is composed from.
type Deps struct {
	DB        *storage.DB
	Builder   *contextbuild.Builder
	Composer  *prompt.Composer
	Client    completion.Client
	Validator *plan.Validator
	Logger    *slog.Logger
}

// Service implements the draft, confirm, apply, reject and status operations.
type Service struct {
	db        *storage.DB
	builder   *contextbuild.Builder
	composer  *prompt.Composer
	client    completion.Client
	validator *plan.Validator
	logger    *slog.Logger
	cfg       Config
}

// New creates a Service.
func New(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RepairRetries < 0 {
		cfg.RepairRetries = 0
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = drafts.DefaultTTL
	}
	if cfg.LedgerTTL <= 0 {
		cfg.LedgerTTL = ledger.DefaultTTL
	}
	return &Service{
		db:        deps.DB,
		builder:   deps.Builder,
		composer:  deps.Composer,
		client:    deps.Client,
		validator: deps.Validator,
		logger:    logger,
		cfg:       cfg,
	}
}

// loadDraft reads a draft through conn.
func loadDraft(ctx context.Context, conn storage.Conn, userID, draftID string) (*drafts.Draft, error) {
	return drafts.NewStore(conn).Get(ctx, userID, draftID)
}

// statusError maps a draft's effective status to the error a phase reports
// when it cannot proceed. ok is the status the phase requires.
func statusError(d *drafts.Draft, now time.Time, ok drafts.Status) error {
	st := d.EffectiveStatus(now)
	if st == ok {
		return nil
	}
	switch st {
	case drafts.StatusExpired:
		return agenterr.New(agenterr.DraftExpired, "draft %s expired at %s", d.ID, d.ExpiresAt.Format(time.RFC3339))
	case drafts.StatusRejected:
		return agenterr.New(agenterr.DraftRejected, "draft %s was rejected", d.ID)
	case drafts.StatusProposed:
		return agenterr.New(agenterr.DraftNotConfirmed, "draft %s has not been confirmed", d.ID)
	case drafts.StatusConfirmed:
		return agenterr.New(agenterr.DraftAlreadyConfirmed, "draft %s is already confirmed", d.ID)
	case drafts.StatusApplied:
		if ok == drafts.StatusConfirmed {
			return agenterr.New(agenterr.TokenAlreadyUsed, "draft %s was already applied", d.ID)
		}
		return agenterr.New(agenterr.DraftAlreadyConfirmed, "draft %s was already applied", d.ID)
	default:
		return fmt.Errorf("draft %s has unknown status %q", d.ID, st)
	}
}

// requireOwned checks that every ref still exists and belongs to userID and
// returns their current versions.
func requireOwned(ctx context.Context, r workspace.Reader, userID string, refs []workspace.Ref) (map[workspace.Ref]string, error) {
	versions, err := r.Versions(ctx, userID, refs)
	if err != nil {
		return nil, fmt.Errorf("reading entity versions: %w", err)
	}
	for _, ref := range refs {
		if _, ok := versions[ref]; !ok {
			return nil, agenterr.New(agenterr.Forbidden, "%s no longer exists or is not owned by you", ref)
		}
	}
	return versions, nil
}

// resultLabel is the metrics label for an operation outcome.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return string(agenterr.KindOf(err))
}
