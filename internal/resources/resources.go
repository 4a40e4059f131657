// Package resources implements MCP resource handlers.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (stagehand://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/agent"
	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/identity"
	"github.com/HendryAvila/stagehand/internal/plan"
)

// PendingURI addresses the caller's live drafts.
const PendingURI = "stagehand://drafts/pending"

// PendingLister lists a user's live drafts. *agent.Service implements it.
type PendingLister interface {
	ListPending(ctx context.Context, userID string) ([]agent.StatusResult, error)
}

// Handler manages resource endpoints.
type Handler struct {
	drafts PendingLister
	users  identity.Resolver
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(drafts PendingLister, users identity.Resolver) *Handler {
	return &Handler{drafts: drafts, users: users}
}

// PendingResource returns the MCP resource definition for pending drafts.
func (h *Handler) PendingResource() mcp.Resource {
	return mcp.NewResource(
		PendingURI,
		"Pending drafts",
		mcp.WithResourceDescription("Your proposed and confirmed drafts that have not expired, newest first"),
		mcp.WithMIMEType("application/json"),
	)
}

type pendingDraft struct {
	DraftID     string      `json:"draftId"`
	Status      string      `json:"status"`
	Message     string      `json:"message"`
	Summary     plan.Counts `json:"summary"`
	DiffPreview []string    `json:"diffPreview"`
	ExpiresAt   string      `json:"expiresAt"`
}

// HandlePending returns the caller's pending drafts as JSON.
func (h *Handler) HandlePending(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	userID, err := h.users.UserID(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}
	list, err := h.drafts.ListPending(ctx, userID)
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}

	out := make([]pendingDraft, 0, len(list))
	for _, d := range list {
		out = append(out, pendingDraft{
			DraftID:     d.DraftID,
			Status:      string(d.Status),
			Message:     d.Message,
			Summary:     d.Summary,
			DiffPreview: d.Plan.DiffPreview,
			ExpiresAt:   d.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(map[string]any{"drafts": out}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling pending drafts: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri string, err error) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s: %s", agenterr.KindOf(err), agenterr.Message(err)),
		},
	}
}
