package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/ledger"
	"github.com/HendryAvila/stagehand/internal/metrics"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/storage"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// ApplyRequest names the draft and the token issued for it.
type ApplyRequest struct {
	DraftID           string
	ConfirmationToken string
}

// ApplyResults groups affected ids by operation.
type ApplyResults struct {
	Entity            workspace.Kind `json:"entity"`
	CreatedIDs        []int64        `json:"createdIds"`
	UpdatedIDs        []int64        `json:"updatedIds"`
	DeletedIDs        []int64        `json:"deletedIds"`
	ToggledIDs        []int64        `json:"toggledIds"`
	CommentsAdded     int            `json:"commentsAdded"`
	CommentsRemoved   int            `json:"commentsRemoved"`
	DeletedEventIDs   []int64        `json:"deletedEventIds,omitempty"`
	DeletedTaskIDs    []int64        `json:"deletedTaskIds,omitempty"`
	DeletedNoteIDs    []int64        `json:"deletedNoteIds,omitempty"`
	DeletedProjectIDs []int64        `json:"deletedProjectIds,omitempty"`
}

// OpOutcome reports what one operation did.
type OpOutcome struct {
	Index           int         `json:"index"`
	Op              plan.OpKind `json:"op"`
	EntityID        int64       `json:"entityId,omitempty"`
	ClientRequestID string      `json:"clientRequestId,omitempty"`
	Replayed        bool        `json:"replayed,omitempty"`
}

// ApplyResult is returned by a successful Apply.
type ApplyResult struct {
	Applied    bool         `json:"applied"`
	DraftID    string       `json:"draftId"`
	Results    ApplyResults `json:"results"`
	Operations []OpOutcome  `json:"operations"`
}

// Apply executes a confirmed plan. All checks and every write run in one
// transaction: the token is consumed, the operations run in plan order and
// the draft becomes applied, or nothing happens at all.
func (s *Service) Apply(ctx context.Context, userID string, req ApplyRequest) (*ApplyResult, error) {
	start := time.Now()
	res, err := s.apply(ctx, userID, req)
	metrics.ApplyResults.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.logger.Info("apply refused", "draft_id", req.DraftID, "user_id", userID, "kind", agenterr.KindOf(err), "error", err)
		return nil, err
	}
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("draft applied",
		"draft_id", req.DraftID,
		"user_id", userID,
		"operations", len(res.Operations),
		"duration", time.Since(start))
	return res, nil
}

func (s *Service) apply(ctx context.Context, userID string, req ApplyRequest) (*ApplyResult, error) {
	token := strings.TrimSpace(req.ConfirmationToken)
	if token == "" {
		return nil, agenterr.New(agenterr.TokenInvalid, "confirmation token is required")
	}
	hash := drafts.HashToken(token)

	var res *ApplyResult
	err := s.db.InTx(ctx, func(tx storage.Conn) error {
		now := timeNow()
		store := drafts.NewStore(tx)

		d, err := store.Get(ctx, userID, req.DraftID)
		if err != nil {
			return err
		}
		tok, err := store.TokenByHash(ctx, hash)
		if err != nil {
			return err
		}
		if tok.DraftID != d.ID || tok.UserID != userID {
			return agenterr.New(agenterr.TokenInvalid, "confirmation token is not valid for draft %s", d.ID)
		}
		if tok.ConsumedAt != nil {
			return agenterr.New(agenterr.TokenAlreadyUsed, "confirmation token was already used")
		}
		if err := statusError(d, now, drafts.StatusConfirmed); err != nil {
			return err
		}

		current, err := plan.Hash(d.Plan)
		if err != nil {
			return err
		}
		if current != d.PlanHash || d.PlanHash != tok.PlanHash {
			return agenterr.New(agenterr.PlanStale, "draft %s changed after confirmation", d.ID)
		}

		ws := workspace.NewStore(tx)
		refs := d.Plan.Refs()
		versions, err := requireOwned(ctx, ws, userID, refs)
		if err != nil {
			return err
		}
		if fingerprint(refs, versions) != tok.StateHash {
			return agenterr.New(agenterr.PlanStale, "entities in draft %s changed after confirmation; draft again", d.ID)
		}

		ok, err := store.ConsumeToken(ctx, hash, now)
		if err != nil {
			return err
		}
		if !ok {
			return agenterr.New(agenterr.TokenAlreadyUsed, "confirmation token was already used")
		}
		led := ledger.New(tx, s.cfg.LedgerTTL)
		if won, err := led.Claim(ctx, userID, "token/"+hash, d.ID); err != nil {
			return err
		} else if !won {
			return agenterr.New(agenterr.TokenAlreadyUsed, "confirmation token was already used")
		}

		ex := &executor{
			userID:  userID,
			draftID: d.ID,
			kind:    d.Plan.AgentID.Kind(),
			mut:     ws,
			ledger:  led,
			created: map[string]int64{},
		}
		results, outcomes, err := ex.run(ctx, d.Plan)
		if err != nil {
			return err
		}

		if err := store.Transition(ctx, d.ID, drafts.StatusConfirmed, drafts.StatusApplied, now, ""); err != nil {
			if errors.Is(err, drafts.ErrStatusChanged) {
				return agenterr.New(agenterr.TokenAlreadyUsed, "draft %s was already applied", d.ID)
			}
			return err
		}

		res = &ApplyResult{Applied: true, DraftID: d.ID, Results: results, Operations: outcomes}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// executor runs a plan's operations against a transaction-bound mutator.
type executor struct {
	userID  string
	draftID string
	kind    workspace.Kind
	mut     workspace.Mutator
	ledger  *ledger.Ledger
	created map[string]int64 // clientRequestId -> new id
}

func (e *executor) run(ctx context.Context, p *plan.Plan) (ApplyResults, []OpOutcome, error) {
	results := ApplyResults{
		Entity:     e.kind,
		CreatedIDs: []int64{},
		UpdatedIDs: []int64{},
		DeletedIDs: []int64{},
		ToggledIDs: []int64{},
	}
	ops := p.Operations()
	outcomes := make([]OpOutcome, 0, len(ops))

	for i, op := range ops {
		out := OpOutcome{Index: i, Op: op.OpKind()}
		var err error

		switch op := op.(type) {
		case plan.CreateOp:
			out.ClientRequestID = op.ClientRequestID
			out.EntityID, out.Replayed, err = e.create(ctx, op)
			if err == nil {
				results.CreatedIDs = append(results.CreatedIDs, out.EntityID)
			}
		case plan.UpdateOp:
			out.EntityID = op.EntityID
			err = e.mut.Update(ctx, e.userID, e.kind, op.EntityID, op.Patch)
			if err == nil {
				results.UpdatedIDs = append(results.UpdatedIDs, op.EntityID)
			}
		case plan.StatusToggleOp:
			out.EntityID = op.EntityID
			err = e.mut.SetFlag(ctx, e.userID, e.kind, op.EntityID, *op.Value)
			if err == nil {
				results.ToggledIDs = append(results.ToggledIDs, op.EntityID)
			}
		case plan.CommentAddOp:
			target := op.EntityID
			if op.EntityRef != "" {
				id, ok := e.created[op.EntityRef]
				if !ok {
					err = agenterr.New(agenterr.ValidationError, "entityRef %q names no create in this plan", op.EntityRef)
					break
				}
				target = id
			}
			out.EntityID, err = e.mut.AddComment(ctx, e.userID, e.kind, target, op.Text)
			if err == nil {
				results.CommentsAdded++
			}
		case plan.CommentRemoveOp:
			out.EntityID = op.CommentID
			err = e.mut.RemoveComment(ctx, e.userID, op.CommentID)
			if err == nil {
				results.CommentsRemoved++
			}
		case plan.DeleteOp:
			out.EntityID = op.EntityID
			err = e.mut.Delete(ctx, e.userID, e.kind, op.EntityID)
			if err == nil {
				results.DeletedIDs = append(results.DeletedIDs, op.EntityID)
				results.addDeleted(e.kind, op.EntityID)
			}
		default:
			err = agenterr.New(agenterr.Internal, "unsupported operation %T", op)
		}

		if err != nil {
			return ApplyResults{}, nil, agenterr.Wrap(agenterr.KindOf(err), err, "operation %d (%s) failed", i, op.OpKind())
		}
		outcomes = append(outcomes, out)
	}
	return results, outcomes, nil
}

// create runs a CreateOp at most once per draft and client request id. A
// repeated request reuses the id recorded in the ledger.
//
// The consumed token already keeps a draft from applying twice, so the
// ledger is a second guard: it only hits when a draft's writes survived
// without the draft leaving the confirmed state.
func (e *executor) create(ctx context.Context, op plan.CreateOp) (int64, bool, error) {
	key := e.draftID + "/" + op.ClientRequestID
	if v, ok, err := e.ledger.Lookup(ctx, e.userID, key); err != nil {
		return 0, false, err
	} else if ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("ledger entry %s: %w", key, err)
		}
		e.created[op.ClientRequestID] = id
		return id, true, nil
	}

	id, err := e.mut.Create(ctx, e.userID, e.kind, op.Fields)
	if err != nil {
		return 0, false, err
	}
	if err := e.ledger.Record(ctx, e.userID, key, strconv.FormatInt(id, 10)); err != nil {
		return 0, false, err
	}
	e.created[op.ClientRequestID] = id
	return id, false, nil
}

func (r *ApplyResults) addDeleted(kind workspace.Kind, id int64) {
	switch kind {
	case workspace.KindEvent:
		r.DeletedEventIDs = append(r.DeletedEventIDs, id)
	case workspace.KindTask:
		r.DeletedTaskIDs = append(r.DeletedTaskIDs, id)
	case workspace.KindNote:
		r.DeletedNoteIDs = append(r.DeletedNoteIDs, id)
	case workspace.KindProject:
		r.DeletedProjectIDs = append(r.DeletedProjectIDs, id)
	}
}
