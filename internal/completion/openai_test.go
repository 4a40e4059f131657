package completion

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HendryAvila/stagehand/internal/agenterr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

func fakeBackend(t *testing.T, content string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got capturedRequest
	srv := fakeBackend(t, `{"ok":true}`, &got)

	c := NewOpenAIClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "test-model", MaxTokens: 256},
		WithLogger(quietLogger()))
	temp := 0.2
	resp, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, Options{Temperature: &temp, JSONMode: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"ok":true}` || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Errorf("request = %+v", got)
	}
	if got.ResponseFormat["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", got.ResponseFormat)
	}
	if got.MaxTokens != 256 {
		t.Errorf("max_tokens = %d, want 256", got.MaxTokens)
	}
}

func TestOpenAIClient_ServerErrorIsGenerationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m"}, WithLogger(quietLogger()))
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if !agenterr.Is(err, agenterr.GenerationError) {
		t.Errorf("err = %v, want GenerationError", err)
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond}, WithLogger(quietLogger()))
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if !agenterr.Is(err, agenterr.GenerationError) {
		t.Errorf("err = %v, want GenerationError", err)
	}
}

func TestOpenAIClient_EmptyContent(t *testing.T) {
	srv := fakeBackend(t, "   ", nil)
	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m"}, WithLogger(quietLogger()))
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if !agenterr.Is(err, agenterr.GenerationError) {
		t.Errorf("err = %v, want GenerationError", err)
	}
}

func TestOpenAIClient_RateLimitHonorsContext(t *testing.T) {
	srv := fakeBackend(t, "x", nil)
	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m", RatePerSecond: 0.001, Burst: 1}, WithLogger(quietLogger()))

	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "1"}}, Options{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, []Message{{Role: RoleUser, Content: "2"}}, Options{})
	if !agenterr.Is(err, agenterr.GenerationError) {
		t.Errorf("err = %v, want GenerationError from limiter", err)
	}
}

func TestClientFunc(t *testing.T) {
	var calls int
	c := ClientFunc(func(_ context.Context, msgs []Message, _ Options) (Response, error) {
		calls++
		return Response{Content: msgs[len(msgs)-1].Content}, nil
	})
	resp, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "echo"}}, Options{})
	if err != nil || resp.Content != "echo" || calls != 1 {
		t.Errorf("resp=%+v err=%v calls=%d", resp, err, calls)
	}
}
