package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/identity"
)

// ConfirmTool handles the agent_confirm MCP tool.
type ConfirmTool struct {
	svc   Protocol
	users identity.Resolver
}

// NewConfirmTool creates a ConfirmTool.
func NewConfirmTool(svc Protocol, users identity.Resolver) *ConfirmTool {
	return &ConfirmTool{svc: svc, users: users}
}

// Definition returns the MCP tool definition for registration.
func (t *ConfirmTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_confirm",
		mcp.WithDescription(
			"Record the user's approval of a staged draft. Call this only after showing the user "+
				"the draft's diff preview and getting an explicit yes. Returns a single-use "+
				"confirmation token and a count of the operations that will run.",
		),
		mcp.WithString("draft_id",
			mcp.Required(),
			mcp.Description("The draftId returned by agent_draft."),
		),
	)
}

// Handle processes the agent_confirm tool call.
func (t *ConfirmTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, res := resolveUser(ctx, t.users)
	if res != nil {
		return res, nil
	}
	draftID, res := requireDraftID(req)
	if res != nil {
		return res, nil
	}

	out, err := t.svc.Confirm(ctx, userID, draftID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(out)
}
