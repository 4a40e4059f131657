package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/stagehand/internal/agent"
	"github.com/HendryAvila/stagehand/internal/agenterr"
	"github.com/HendryAvila/stagehand/internal/completion"
	"github.com/HendryAvila/stagehand/internal/contextbuild"
	"github.com/HendryAvila/stagehand/internal/drafts"
	"github.com/HendryAvila/stagehand/internal/identity"
	"github.com/HendryAvila/stagehand/internal/ledger"
	"github.com/HendryAvila/stagehand/internal/plan"
	"github.com/HendryAvila/stagehand/internal/prompt"
	"github.com/HendryAvila/stagehand/internal/storage"
	"github.com/HendryAvila/stagehand/internal/workspace"
)

// --- Test helpers ---

// fakeProtocol records calls and returns canned results.
type fakeProtocol struct {
	userID   string
	draftReq agent.DraftRequest
	applyReq agent.ApplyRequest
	reason   string
	err      error
}

func (f *fakeProtocol) Draft(_ context.Context, userID string, req agent.DraftRequest) (*agent.DraftResult, error) {
	f.userID, f.draftReq = userID, req
	if f.err != nil {
		return nil, f.err
	}
	return &agent.DraftResult{Outcome: agent.OutcomeStaged, DraftID: "d-1", Status: drafts.StatusProposed}, nil
}

func (f *fakeProtocol) Confirm(_ context.Context, userID, draftID string) (*agent.ConfirmResult, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return &agent.ConfirmResult{DraftID: draftID, ConfirmationToken: "tok"}, nil
}

func (f *fakeProtocol) Apply(_ context.Context, userID string, req agent.ApplyRequest) (*agent.ApplyResult, error) {
	f.userID, f.applyReq = userID, req
	if f.err != nil {
		return nil, f.err
	}
	return &agent.ApplyResult{Applied: true, DraftID: req.DraftID}, nil
}

func (f *fakeProtocol) Reject(_ context.Context, userID, draftID, reason string) (*agent.RejectResult, error) {
	f.userID, f.reason = userID, reason
	if f.err != nil {
		return nil, f.err
	}
	return &agent.RejectResult{DraftID: draftID, Status: drafts.StatusRejected, Reason: reason}, nil
}

func (f *fakeProtocol) Status(_ context.Context, userID, draftID string) (*agent.StatusResult, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return &agent.StatusResult{DraftID: draftID, Status: drafts.StatusProposed}, nil
}

func callTool(t *testing.T, handle func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error),
	ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handle(ctx, req)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	return result
}

// isErrorResult checks if the result is a tool error.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// getResultText extracts the text content from a CallToolResult.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// errorKind decodes the kind from an error result.
func errorKind(t *testing.T, result *mcp.CallToolResult) agenterr.Kind {
	t.Helper()
	if !isErrorResult(result) {
		t.Fatalf("expected error result, got %s", getResultText(result))
	}
	var body errorBody
	if err := json.Unmarshal([]byte(getResultText(result)), &body); err != nil {
		t.Fatalf("error text is not JSON: %v (%s)", err, getResultText(result))
	}
	return body.Error.Kind
}

var asAlice = identity.WithUser(context.Background(), "alice")

// --- Definitions ---

func TestDefinitions(t *testing.T) {
	f := &fakeProtocol{}
	users := identity.ContextResolver{}
	names := map[string]mcp.Tool{
		"agent_draft":        NewDraftTool(f, users).Definition(),
		"agent_confirm":      NewConfirmTool(f, users).Definition(),
		"agent_apply":        NewApplyTool(f, users).Definition(),
		"agent_reject":       NewRejectTool(f, users).Definition(),
		"agent_draft_status": NewStatusTool(f, users).Definition(),
	}
	for name, def := range names {
		if def.Name != name {
			t.Errorf("tool name = %s, want %s", def.Name, name)
		}
		if def.Description == "" {
			t.Errorf("%s has no description", name)
		}
	}
	apply := names["agent_apply"]
	if len(apply.InputSchema.Required) != 2 {
		t.Errorf("agent_apply required = %v", apply.InputSchema.Required)
	}
}

// --- DraftTool ---

func TestDraftTool_PassesArguments(t *testing.T) {
	f := &fakeProtocol{}
	tool := NewDraftTool(f, identity.ContextResolver{})

	result := callTool(t, tool.Handle, asAlice, map[string]interface{}{
		"message":    "cancel friday",
		"project_id": float64(3),
		"agent_id":   "events_publisher",
	})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	if f.userID != "alice" {
		t.Errorf("user = %q", f.userID)
	}
	if f.draftReq.Message != "cancel friday" || f.draftReq.ProjectID != 3 || f.draftReq.AgentID != plan.AgentEventsPublisher {
		t.Errorf("request = %+v", f.draftReq)
	}
	if !strings.Contains(getResultText(result), `"draftId": "d-1"`) {
		t.Errorf("result = %s", getResultText(result))
	}
}

func TestDraftTool_RejectsFractionalProject(t *testing.T) {
	tool := NewDraftTool(&fakeProtocol{}, identity.ContextResolver{})
	result := callTool(t, tool.Handle, asAlice, map[string]interface{}{"message": "x", "project_id": 1.5})
	if kind := errorKind(t, result); kind != agenterr.BadRequest {
		t.Errorf("kind = %s, want BadRequest", kind)
	}
}

func TestDraftTool_Unauthorized(t *testing.T) {
	f := &fakeProtocol{}
	tool := NewDraftTool(f, identity.ContextResolver{})
	result := callTool(t, tool.Handle, context.Background(), map[string]interface{}{"message": "x"})
	if kind := errorKind(t, result); kind != agenterr.Unauthorized {
		t.Errorf("kind = %s, want Unauthorized", kind)
	}
	if f.userID != "" {
		t.Error("service called without a user")
	}
}

func TestDraftTool_StaticFallbackUser(t *testing.T) {
	f := &fakeProtocol{}
	tool := NewDraftTool(f, identity.StaticResolver{Fallback: "local"})
	callTool(t, tool.Handle, context.Background(), map[string]interface{}{"message": "x"})
	if f.userID != "local" {
		t.Errorf("user = %q, want local", f.userID)
	}
}

// --- Error mapping ---

func TestErrorsAreStructured(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    agenterr.Kind
		message string
	}{
		{"classified", agenterr.New(agenterr.PlanStale, "draft changed"), agenterr.PlanStale, "draft changed"},
		{"internal hides details", fmt.Errorf("disk on fire"), agenterr.Internal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewApplyTool(&fakeProtocol{err: tt.err}, identity.ContextResolver{})
			result := callTool(t, tool.Handle, asAlice, map[string]interface{}{
				"draft_id": "d-1", "confirmation_token": "tok",
			})
			if kind := errorKind(t, result); kind != tt.want {
				t.Errorf("kind = %s, want %s", kind, tt.want)
			}
			if !strings.Contains(getResultText(result), tt.message) {
				t.Errorf("text = %s, want %q", getResultText(result), tt.message)
			}
			if strings.Contains(getResultText(result), "disk on fire") {
				t.Error("internal details leaked to the client")
			}
		})
	}
}

func TestDraftIDRequired(t *testing.T) {
	f := &fakeProtocol{}
	users := identity.ContextResolver{}
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"confirm": NewConfirmTool(f, users).Handle,
		"apply":   NewApplyTool(f, users).Handle,
		"reject":  NewRejectTool(f, users).Handle,
		"status":  NewStatusTool(f, users).Handle,
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			result := callTool(t, h, asAlice, map[string]interface{}{})
			if kind := errorKind(t, result); kind != agenterr.BadRequest {
				t.Errorf("kind = %s, want BadRequest", kind)
			}
		})
	}
}

func TestRejectTool_PassesReason(t *testing.T) {
	f := &fakeProtocol{}
	tool := NewRejectTool(f, identity.ContextResolver{})
	result := callTool(t, tool.Handle, asAlice, map[string]interface{}{"draft_id": "d-1", "reason": "not now"})
	if isErrorResult(result) {
		t.Fatalf("unexpected error: %s", getResultText(result))
	}
	if f.reason != "not now" {
		t.Errorf("reason = %q", f.reason)
	}
}

// --- End to end ---

func newService(t *testing.T, output func(ws *workspace.SeedResult) string) (*agent.Service, *workspace.SeedResult) {
	t.Helper()
	db, err := storage.Open(storage.Config{DataDir: t.TempDir()}, workspace.Schema, drafts.Schema, ledger.Schema)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var seed *workspace.SeedResult
	if err := db.InTx(context.Background(), func(tx storage.Conn) error {
		var err error
		seed, err = workspace.Seed(context.Background(), workspace.NewStore(tx), "alice")
		return err
	}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	rules, err := prompt.LoadRules()
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	composer, err := prompt.NewComposer(rules, plan.DefaultLimits(), 0)
	if err != nil {
		t.Fatalf("NewComposer: %v", err)
	}
	text := output(seed)
	svc := agent.New(agent.Deps{
		DB:       db,
		Builder:  contextbuild.New(workspace.NewStore(db.Conn()), contextbuild.DefaultQuota()),
		Composer: composer,
		Client: completion.ClientFunc(func(context.Context, []completion.Message, completion.Options) (completion.Response, error) {
			return completion.Response{Content: text}, nil
		}),
		Validator: plan.NewValidator(plan.DefaultLimits()),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, agent.DefaultConfig())
	return svc, seed
}

func TestProtocolThroughTools(t *testing.T) {
	svc, seed := newService(t, func(s *workspace.SeedResult) string {
		return fmt.Sprintf(`{"agentId":"events_publisher","summary":"Cancel Friday",
			"deletes":[{"entityId":%d,"reason":"Cancelled","dangerous":true}],
			"comments":{"add":[{"entityId":%d,"text":"Moved here."}]}}`, s.EventIDs[0], s.EventIDs[1])
	})
	users := identity.ContextResolver{}

	result := callTool(t, NewDraftTool(svc, users).Handle, asAlice, map[string]interface{}{
		"message": "cancel my Friday event and add a comment to the rescheduled one",
	})
	if isErrorResult(result) {
		t.Fatalf("draft: %s", getResultText(result))
	}
	var drafted agent.DraftResult
	if err := json.Unmarshal([]byte(getResultText(result)), &drafted); err != nil {
		t.Fatalf("decode draft: %v", err)
	}

	result = callTool(t, NewConfirmTool(svc, users).Handle, asAlice, map[string]interface{}{"draft_id": drafted.DraftID})
	if isErrorResult(result) {
		t.Fatalf("confirm: %s", getResultText(result))
	}
	var confirmed agent.ConfirmResult
	if err := json.Unmarshal([]byte(getResultText(result)), &confirmed); err != nil {
		t.Fatalf("decode confirm: %v", err)
	}

	applyArgs := map[string]interface{}{"draft_id": drafted.DraftID, "confirmation_token": confirmed.ConfirmationToken}
	result = callTool(t, NewApplyTool(svc, users).Handle, asAlice, applyArgs)
	if isErrorResult(result) {
		t.Fatalf("apply: %s", getResultText(result))
	}
	want := fmt.Sprintf(`"deletedEventIds": [
      %d
    ]`, seed.EventIDs[0])
	text := getResultText(result)
	if !strings.Contains(text, want) || !strings.Contains(text, `"commentsAdded": 1`) {
		t.Errorf("apply result = %s", text)
	}

	result = callTool(t, NewApplyTool(svc, users).Handle, asAlice, applyArgs)
	if kind := errorKind(t, result); kind != agenterr.TokenAlreadyUsed {
		t.Errorf("second apply kind = %s, want TokenAlreadyUsed", kind)
	}

	result = callTool(t, NewStatusTool(svc, users).Handle, asAlice, map[string]interface{}{"draft_id": drafted.DraftID})
	if !strings.Contains(getResultText(result), `"status": "applied"`) {
		t.Errorf("status = %s", getResultText(result))
	}
}
