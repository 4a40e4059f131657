package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/agent"
	"github.com/HendryAvila/stagehand/internal/identity"
	"github.com/HendryAvila/stagehand/internal/plan"
)

// DraftTool handles the agent_draft MCP tool.
// It turns a free-text request into a staged plan without writing anything.
type DraftTool struct {
	svc   Protocol
	users identity.Resolver
}

// NewDraftTool creates a DraftTool.
func NewDraftTool(svc Protocol, users identity.Resolver) *DraftTool {
	return &DraftTool{svc: svc, users: users}
}

// Definition returns the MCP tool definition for registration.
func (t *DraftTool) Definition() mcp.Tool {
	agents := make([]string, 0, len(plan.Agents()))
	for _, a := range plan.Agents() {
		agents = append(agents, string(a))
	}
	return mcp.NewTool("agent_draft",
		mcp.WithDescription(
			"Propose changes to the user's workspace from a plain-language request. "+
				"Nothing is written: the result is a staged draft with a diff preview that the user "+
				"must confirm with `agent_confirm` and then execute with `agent_apply`. "+
				"The answer may instead be clarifying questions, a no-op, or a read-only fallback summary.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("What the user wants changed, in their words."),
		),
		mcp.WithNumber("project_id",
			mcp.Description("Limit the agent's view to one project. Omit for every project."),
		),
		mcp.WithString("agent_id",
			mcp.Description("Force a specialist agent. Omit to let the model choose."),
			mcp.Enum(agents...),
		),
	)
}

// Handle processes the agent_draft tool call.
func (t *DraftTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, res := resolveUser(ctx, t.users)
	if res != nil {
		return res, nil
	}

	projectID, err := optionalID(req, "project_id")
	if err != nil {
		return errorResult(err), nil
	}

	out, err := t.svc.Draft(ctx, userID, agent.DraftRequest{
		Message:   req.GetString("message", ""),
		ProjectID: projectID,
		AgentID:   plan.AgentID(strings.TrimSpace(req.GetString("agent_id", ""))),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(out)
}
