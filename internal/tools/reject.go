package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/identity"
)

// RejectTool handles the agent_reject MCP tool.
type RejectTool struct {
	svc   Protocol
	users identity.Resolver
}

// NewRejectTool creates a RejectTool.
func NewRejectTool(svc Protocol, users identity.Resolver) *RejectTool {
	return &RejectTool{svc: svc, users: users}
}

// Definition returns the MCP tool definition for registration.
func (t *RejectTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_reject",
		mcp.WithDescription(
			"Discard a draft the user does not want. Works on proposed and confirmed drafts; "+
				"an issued confirmation token stops working.",
		),
		mcp.WithString("draft_id",
			mcp.Required(),
			mcp.Description("The draftId to discard."),
		),
		mcp.WithString("reason",
			mcp.Description("Why the user declined, kept with the draft."),
		),
	)
}

// Handle processes the agent_reject tool call.
func (t *RejectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, res := resolveUser(ctx, t.users)
	if res != nil {
		return res, nil
	}
	draftID, res := requireDraftID(req)
	if res != nil {
		return res, nil
	}

	out, err := t.svc.Reject(ctx, userID, draftID, req.GetString("reason", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(out)
}
