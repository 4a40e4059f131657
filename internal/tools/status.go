package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/identity"
)

// StatusTool handles the agent_draft_status MCP tool.
type StatusTool struct {
	svc   Protocol
	users identity.Resolver
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(svc Protocol, users identity.Resolver) *StatusTool {
	return &StatusTool{svc: svc, users: users}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_draft_status",
		mcp.WithDescription(
			"Show a draft's current status (proposed, confirmed, applied, expired or rejected), "+
				"its plan and its deadline.",
		),
		mcp.WithString("draft_id",
			mcp.Required(),
			mcp.Description("The draftId to inspect."),
		),
	)
}

// Handle processes the agent_draft_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, res := resolveUser(ctx, t.users)
	if res != nil {
		return res, nil
	}
	draftID, res := requireDraftID(req)
	if res != nil {
		return res, nil
	}

	out, err := t.svc.Status(ctx, userID, draftID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(out)
}
