// Package tools implements the MCP tool handlers for the draft, confirm and
// apply protocol.
//
// Each tool is a struct that receives its dependencies (the protocol service
// and an identity resolver) and exposes Definition and Handle for
// registration with mcp-go.
//
// Results are JSON text. Protocol failures are tool errors whose text is
// {"error":{"kind":...,"message":...}} so hosts can branch on the kind; a
// non-nil Go error is returned only for wiring bugs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/agent"
	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/identity"
)

// Protocol is the service the tools drive. *agent.Service implements it.
type Protocol interface {
	Draft(ctx context.Context, userID string, req agent.DraftRequest) (*agent.DraftResult, error)
	Confirm(ctx context.Context, userID, draftID string) (*agent.ConfirmResult, error)
	Apply(ctx context.Context, userID string, req agent.ApplyRequest) (*agent.ApplyResult, error)
	Reject(ctx context.Context, userID, draftID, reason string) (*agent.RejectResult, error)
	Status(ctx context.Context, userID, draftID string) (*agent.StatusResult, error)
}

type errorBody struct {
	Error struct {
		Kind    agenterr.Kind `json:"kind"`
		Message string        `json:"message"`
	} `json:"error"`
}

// errorResult turns a protocol error into a tool error result. Internal
// errors keep their details out of the client-facing message.
func errorResult(err error) *mcp.CallToolResult {
	var body errorBody
	body.Error.Kind = agenterr.KindOf(err)
	body.Error.Message = agenterr.Message(err)
	data, mErr := json.Marshal(body)
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// jsonResult marshals v as the tool's text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// resolveUser returns the caller's user id, or a tool error result.
func resolveUser(ctx context.Context, users identity.Resolver) (string, *mcp.CallToolResult) {
	id, err := users.UserID(ctx)
	if err != nil {
		return "", errorResult(agenterr.Wrap(agenterr.Unauthorized, err, "no authenticated user"))
	}
	return id, nil
}

// requireDraftID reads the draft_id argument.
func requireDraftID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id, err := req.RequireString("draft_id")
	if err != nil || id == "" {
		return "", errorResult(agenterr.New(agenterr.BadRequest, "draft_id is required"))
	}
	return id, nil
}

// optionalID reads a non-negative integer argument; 0 means absent.
func optionalID(req mcp.CallToolRequest, key string) (int64, error) {
	v := req.GetFloat(key, 0)
	if v < 0 || v != math.Trunc(v) || v > 1<<53 {
		return 0, agenterr.New(agenterr.BadRequest, "%s must be a positive integer", key)
	}
	return int64(v), nil
}
