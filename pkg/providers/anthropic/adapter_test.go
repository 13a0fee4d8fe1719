package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
	"github.com/orkestralabs/orkestra/pkg/llm"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter := NewAdapter("sk-ant-test", "claude-sonnet-4")
	adapter.BaseURL = srv.URL
	adapter.Retry = llm.RetryConfig{MaxAttempts: 1}
	return adapter
}

func TestCompleteParsesToolUse(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != apiVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "toolu_1", "name": "calculator:add", "input": {"a": 2, "b": 3}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	})

	resp, err := adapter.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage("2+3?")},
		Tools:    []llm.Tool{{Name: "calculator:add", InputSchema: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if resp.Text != "let me check" {
		t.Fatalf("text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestCompleteMapsAuthError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	_, err := adapter.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	if !errorsx.HasReason(err, errorsx.ReasonProviderAuth) {
		t.Fatalf("expected provider_auth, got %v", err)
	}
}

func TestBuildRequestToolResultBlocks(t *testing.T) {
	adapter := NewAdapter("sk-ant-test", "claude-sonnet-4")
	okRes := llm.SuccessResult("toolu_1", "5")
	errRes := llm.ErrorResult("toolu_2", "division by zero")
	payload, err := adapter.buildRequest(llm.CompletionRequest{
		System: "be helpful",
		Messages: []llm.Message{
			llm.UserMessage("2+3?"),
			llm.AssistantMessage("", llm.ToolCall{ID: "toolu_1", Name: "calculator:add", Arguments: map[string]any{"a": 2.0}}),
			llm.ToolMessage(okRes),
			llm.ToolMessage(errRes),
		},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	var req messagesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if req.System != "be helpful" {
		t.Fatalf("system = %q", req.System)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(req.Messages))
	}
	ok := req.Messages[2].Content[0]
	if ok.Type != "tool_result" || ok.ToolUseID != "toolu_1" || ok.Content != "5" || ok.IsError {
		t.Fatalf("unexpected ok block: %+v", ok)
	}
	bad := req.Messages[3].Content[0]
	if !bad.IsError || bad.Content != "division by zero" {
		t.Fatalf("unexpected error block: %+v", bad)
	}
	// Tool results ride on user-role messages.
	if req.Messages[2].Role != "user" || req.Messages[3].Role != "user" {
		t.Fatalf("tool results must be user messages: %+v", req.Messages)
	}
}
