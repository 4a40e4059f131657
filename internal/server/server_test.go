package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/stagehand/internal/completion"
	"github.com/HendryAvila/stagehand/internal/config"
	"github.com/HendryAvila/stagehand/internal/identity"
)

func newApp(t *testing.T, transport string, client completion.Client) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Transport.Type = transport
	cfg.Identity.UserID = "alice"

	app, cleanup, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithCompletionClient(client))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(cleanup)
	return app
}

func scripted(content string) completion.Client {
	return completion.ClientFunc(func(context.Context, []completion.Message, completion.Options) (completion.Response, error) {
		return completion.Response{Content: content}, nil
	})
}

// call sends one JSON-RPC request and returns the result object as JSON.
func call(t *testing.T, app *App, ctx context.Context, method string, params any) string {
	t.Helper()
	req, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	if err != nil {
		t.Fatal(err)
	}
	resp := app.MCP.HandleMessage(ctx, req)
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return string(data)
}

func TestNew_RegistersProtocol(t *testing.T) {
	app := newApp(t, "stdio", scripted("{}"))

	tools := call(t, app, context.Background(), "tools/list", map[string]any{})
	for _, name := range []string{"agent_draft", "agent_confirm", "agent_apply", "agent_reject", "agent_draft_status"} {
		if !strings.Contains(tools, `"`+name+`"`) {
			t.Errorf("tool %s not registered", name)
		}
	}

	prompts := call(t, app, context.Background(), "prompts/list", map[string]any{})
	if !strings.Contains(prompts, "agent-request") || !strings.Contains(prompts, "agent-pending") {
		t.Errorf("prompts = %s", prompts)
	}

	res := call(t, app, context.Background(), "resources/list", map[string]any{})
	if !strings.Contains(res, "stagehand://drafts/pending") {
		t.Errorf("resources = %s", res)
	}
}

func TestStdioActsAsConfiguredUser(t *testing.T) {
	app := newApp(t, "stdio", scripted(`{"agentId":"events_publisher","summary":"Nothing to change"}`))

	if _, err := Seed(context.Background(), app.db, "alice"); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	out := call(t, app, context.Background(), "tools/call", map[string]any{
		"name":      "agent_draft",
		"arguments": map[string]any{"message": "anything to do?"},
	})
	if !strings.Contains(out, "no_changes") {
		t.Errorf("draft result = %s", out)
	}
}

func TestRunReturnsWhenStdinCloses(t *testing.T) {
	app := newApp(t, "stdio", scripted("{}"))
	app.cfg.Metrics.Addr = "127.0.0.1:0"
	app.stdin = strings.NewReader("")
	app.stdout = io.Discard

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept the sweeper and metrics server alive after stdin closed")
	}
}

func TestRunUnknownTransport(t *testing.T) {
	app := newApp(t, "stdio", scripted("{}"))
	app.cfg.Transport.Type = "carrier-pigeon"
	if err := app.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Errorf("Run = %v, want unknown transport error", err)
	}
}

func TestSSERequiresIdentity(t *testing.T) {
	app := newApp(t, "sse", scripted("{}"))

	out := call(t, app, context.Background(), "tools/call", map[string]any{
		"name":      "agent_draft_status",
		"arguments": map[string]any{"draft_id": "00000000-0000-0000-0000-000000000000"},
	})
	if !strings.Contains(out, "Unauthorized") {
		t.Errorf("anonymous call = %s", out)
	}

	ctx := identity.WithUser(context.Background(), "alice")
	out = call(t, app, ctx, "tools/call", map[string]any{
		"name":      "agent_draft_status",
		"arguments": map[string]any{"draft_id": "00000000-0000-0000-0000-000000000000"},
	})
	if !strings.Contains(out, "DraftNotFound") {
		t.Errorf("authenticated call = %s", out)
	}
}

func TestSeed(t *testing.T) {
	app := newApp(t, "stdio", scripted("{}"))
	res, err := Seed(context.Background(), app.db, "alice")
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.ProjectID == 0 || len(res.EventIDs) != 2 {
		t.Errorf("seed = %+v", res)
	}

	pending := call(t, app, identity.WithUser(context.Background(), "alice"), "resources/read",
		map[string]any{"uri": "stagehand://drafts/pending"})
	if !strings.Contains(pending, `\"drafts\": []`) {
		t.Errorf("pending = %s", pending)
	}
}
