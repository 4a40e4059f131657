// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// RequestPrompt handles the agent-request MCP prompt.
// It walks the host through draft, confirm and apply with the user in the loop.
type RequestPrompt struct{}

// NewRequestPrompt creates a RequestPrompt.
func NewRequestPrompt() *RequestPrompt {
	return &RequestPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *RequestPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("agent-request",
		mcp.WithPromptDescription(
			"Ask the workspace agent to make a change. The agent proposes a plan, "+
				"you review it, and nothing is written until you approve.",
		),
		mcp.WithArgument("request",
			mcp.ArgumentDescription("What you want changed, e.g. 'cancel my Friday event'"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("Optional project to focus on"),
		),
	)
}

// Handle processes the agent-request prompt request.
func (p *RequestPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	request := ""
	projectID := ""
	if args := req.Params.Arguments; args != nil {
		request = strings.TrimSpace(args["request"])
		projectID = strings.TrimSpace(args["project_id"])
	}
	if request == "" {
		return nil, fmt.Errorf("the request argument is required")
	}

	scope := ""
	if projectID != "" {
		scope = fmt.Sprintf(" with project_id=%s", projectID)
	}

	return &mcp.GetPromptResult{
		Description: "Workspace change: " + request,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want this change in my workspace: %q\n\n"+
						"Please:\n"+
						"1. Run `agent_draft` with that message%s\n"+
						"2. If it returns questions, ask me and draft again with my answer\n"+
						"3. If it returns a staged draft, show me the summary, the risks and every diffPreview line. "+
						"Point out lines starting with `!`: they delete data\n"+
						"4. Only if I say yes, run `agent_confirm` and then `agent_apply` with the token\n"+
						"5. If I say no, run `agent_reject`\n\n"+
						"Never call `agent_apply` again after an error without asking me. "+
						"On PlanStaleError or DraftExpired, offer to draft again.",
					request, scope,
				)),
			},
		},
	}, nil
}
