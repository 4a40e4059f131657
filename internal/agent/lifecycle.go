package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/ledger"
	"github.com/HendryAvila/stagehand/internal/metrics"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/storage"
)

// RejectResult is returned by Reject.
type RejectResult struct {
	DraftID string        `json:"draftId"`
	Status  drafts.Status `json:"status"`
	Reason  string        `json:"reason,omitempty"`
}

// Reject discards a proposed or confirmed draft. A confirmed draft's token
// becomes useless because Apply requires the confirmed status.
func (s *Service) Reject(ctx context.Context, userID, draftID, reason string) (*RejectResult, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, agenterr.New(agenterr.BadRequest, "reason is longer than 500 characters")
	}

	err := s.db.InTx(ctx, func(tx storage.Conn) error {
		now := timeNow()
		d, err := loadDraft(ctx, tx, userID, draftID)
		if err != nil {
			return err
		}
		st := d.EffectiveStatus(now)
		if !st.CanTransitionTo(drafts.StatusRejected) {
			return statusError(d, now, drafts.StatusProposed)
		}
		if err := drafts.NewStore(tx).Transition(ctx, d.ID, st, drafts.StatusRejected, now, reason); err != nil {
			if errors.Is(err, drafts.ErrStatusChanged) {
				return agenterr.New(agenterr.DraftAlreadyConfirmed, "draft %s changed state; reload it", d.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("draft rejected", "draft_id", draftID, "user_id", userID)
	return &RejectResult{DraftID: draftID, Status: drafts.StatusRejected, Reason: reason}, nil
}

// StatusResult describes a draft as its owner sees it.
type StatusResult struct {
	DraftID      string        `json:"draftId"`
	Status       drafts.Status `json:"status"`
	Message      string        `json:"message"`
	Summary      plan.Counts   `json:"summary"`
	Plan         *plan.Plan    `json:"plan"`
	CreatedAt    time.Time     `json:"createdAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	ConfirmedAt  *time.Time    `json:"confirmedAt,omitempty"`
	AppliedAt    *time.Time    `json:"appliedAt,omitempty"`
	RejectReason string        `json:"rejectReason,omitempty"`
}

// Status reports a draft's effective status. A draft past its deadline is
// reported as expired even before the sweeper records it.
func (s *Service) Status(ctx context.Context, userID, draftID string) (*StatusResult, error) {
	d, err := loadDraft(ctx, s.db.Conn(), userID, draftID)
	if err != nil {
		return nil, err
	}
	return statusOf(d, timeNow()), nil
}

// ListPending returns the user's proposed and confirmed drafts that have
// not expired, newest first.
func (s *Service) ListPending(ctx context.Context, userID string) ([]StatusResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, agenterr.New(agenterr.Unauthorized, "no authenticated user")
	}
	now := timeNow()
	list, err := drafts.NewStore(s.db.Conn()).ListLive(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	out := make([]StatusResult, 0, len(list))
	for i := range list {
		out = append(out, *statusOf(&list[i], now))
	}
	return out, nil
}

func statusOf(d *drafts.Draft, now time.Time) *StatusResult {
	return &StatusResult{
		DraftID:      d.ID,
		Status:       d.EffectiveStatus(now),
		Message:      d.Message,
		Summary:      d.Plan.Counts(),
		Plan:         d.Plan,
		CreatedAt:    d.CreatedAt,
		ExpiresAt:    d.ExpiresAt,
		ConfirmedAt:  d.ConfirmedAt,
		AppliedAt:    d.AppliedAt,
		RejectReason: d.RejectReason,
	}
}

// SweepStats counts what one sweep changed.
type SweepStats struct {
	Expired int64
	Purged  int64
	Evicted int64
}

// Sweep persists expiry for overdue drafts, purges finished drafts older
// than the retention window and evicts expired ledger entries.
func (s *Service) Sweep(ctx context.Context) (SweepStats, error) {
	var st SweepStats
	err := s.db.InTx(ctx, func(tx storage.Conn) error {
		now := timeNow()
		store := drafts.NewStore(tx)
		var err error
		if st.Expired, err = store.ExpireStale(ctx, now); err != nil {
			return err
		}
		if s.cfg.DraftRetention > 0 {
			if st.Purged, err = store.Purge(ctx, now.Add(-s.cfg.DraftRetention)); err != nil {
				return err
			}
		}
		st.Evicted, err = ledger.New(tx, s.cfg.LedgerTTL).Evict(ctx)
		return err
	})
	if err != nil {
		return SweepStats{}, err
	}
	metrics.SweptRecords.WithLabelValues("expired").Add(float64(st.Expired))
	metrics.SweptRecords.WithLabelValues("purged").Add(float64(st.Purged))
	metrics.SweptRecords.WithLabelValues("evicted").Add(float64(st.Evicted))
	return st, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if st.Expired+st.Purged+st.Evicted > 0 {
				s.logger.Debug("sweep finished", "expired", st.Expired, "purged", st.Purged, "evicted", st.Evicted)
			}
		}
	}
}
