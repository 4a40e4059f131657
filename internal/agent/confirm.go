package agent

import (
	"context"
	"errors"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/metrics"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/storage"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// ConfirmResult carries the one-time token the user presents to Apply and
// the per-kind operation counts. The plan itself was shown at draft time.
type ConfirmResult struct {
	DraftID           string      `json:"draftId"`
	ConfirmationToken string      `json:"confirmationToken"`
	Summary           plan.Counts `json:"summary"`
	ExpiresAt         time.Time   `json:"expiresAt"`
}

// Confirm moves a proposed draft to confirmed and issues a token bound to
// the plan hash and the current versions of every entity the plan reads.
// Among concurrent callers exactly one wins; the others see
// DraftAlreadyConfirmed.
func (s *Service) Confirm(ctx context.Context, userID, draftID string) (*ConfirmResult, error) {
	res, err := s.confirm(ctx, userID, draftID)
	metrics.ConfirmResults.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.logger.Info("confirm refused", "draft_id", draftID, "user_id", userID, "kind", agenterr.KindOf(err), "error", err)
		return nil, err
	}
	s.logger.Info("draft confirmed", "draft_id", draftID, "user_id", userID)
	return res, nil
}

func (s *Service) confirm(ctx context.Context, userID, draftID string) (*ConfirmResult, error) {
	plain, hash, err := drafts.NewTokenSecret()
	if err != nil {
		return nil, err
	}

	var res *ConfirmResult
	err = s.db.InTx(ctx, func(tx storage.Conn) error {
		now := timeNow()
		store := drafts.NewStore(tx)

		d, err := store.Get(ctx, userID, draftID)
		if err != nil {
			return err
		}
		if err := statusError(d, now, drafts.StatusProposed); err != nil {
			return err
		}

		refs := d.Plan.Refs()
		versions, err := requireOwned(ctx, workspace.NewStore(tx), userID, refs)
		if err != nil {
			return err
		}

		if err := store.Transition(ctx, d.ID, drafts.StatusProposed, drafts.StatusConfirmed, now, ""); err != nil {
			if errors.Is(err, drafts.ErrStatusChanged) {
				return agenterr.New(agenterr.DraftAlreadyConfirmed, "draft %s is already confirmed", d.ID)
			}
			return err
		}
		if err := store.InsertToken(ctx, &drafts.Token{
			Hash:      hash,
			DraftID:   d.ID,
			UserID:    userID,
			PlanHash:  d.PlanHash,
			StateHash: fingerprint(refs, versions),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		res = &ConfirmResult{
			DraftID:           d.ID,
			ConfirmationToken: plain,
			Summary:           d.Plan.Counts(),
			ExpiresAt:         d.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
