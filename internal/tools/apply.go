package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/agent"
	"github.com/HendryAvila/stagehand/internal/identity"
)

// ApplyTool handles the agent_apply MCP tool.
type ApplyTool struct {
	svc   Protocol
	users identity.Resolver
}

// NewApplyTool creates an ApplyTool.
func NewApplyTool(svc Protocol, users identity.Resolver) *ApplyTool {
	return &ApplyTool{svc: svc, users: users}
}

// Definition returns the MCP tool definition for registration.
func (t *ApplyTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_apply",
		mcp.WithDescription(
			"Execute a confirmed draft in one transaction. Either every operation is applied or none is. "+
				"A token works once; on PlanStaleError the workspace changed since confirmation and the "+
				"user should draft again. Never retry a failed apply without asking the user.",
		),
		mcp.WithString("draft_id",
			mcp.Required(),
			mcp.Description("The draftId returned by agent_draft."),
		),
		mcp.WithString("confirmation_token",
			mcp.Required(),
			mcp.Description("The confirmationToken returned by agent_confirm."),
		),
	)
}

// Handle processes the agent_apply tool call.
func (t *ApplyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, res := resolveUser(ctx, t.users)
	if res != nil {
		return res, nil
	}
	draftID, res := requireDraftID(req)
	if res != nil {
		return res, nil
	}

	out, err := t.svc.Apply(ctx, userID, agent.ApplyRequest{
		DraftID:           draftID,
		ConfirmationToken: req.GetString("confirmation_token", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(out)
}
