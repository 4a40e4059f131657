package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// PendingPrompt handles the agent-pending MCP prompt.
// It instructs the AI to review the drafts still waiting on the user.
type PendingPrompt struct{}

// NewPendingPrompt creates a PendingPrompt.
func NewPendingPrompt() *PendingPrompt {
	return &PendingPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *PendingPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("agent-pending",
		mcp.WithPromptDescription(
			"Review the drafts that are waiting for your decision and "+
				"confirm, apply or discard them.",
		),
	)
}

// Handle processes the agent-pending prompt request.
func (p *PendingPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Pending drafts",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please read the `stagehand://drafts/pending` resource.\n\n" +
						"Then:\n" +
						"1. List each draft with its status, what I asked for and when it expires\n" +
						"2. For each one, show the diffPreview and ask whether to keep it\n" +
						"3. Confirmed drafts only need `agent_apply`; proposed ones need `agent_confirm` first\n" +
						"4. Run `agent_reject` for the ones I decline\n\n" +
						"If there are no pending drafts, just tell me so.",
				),
			},
		},
	}, nil
}
