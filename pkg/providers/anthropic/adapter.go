// Package anthropic adapts the common completion request to the
// Anthropic messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orkestralabs/orkestra/pkg/llm"
)

const apiVersion = "2023-06-01"

type Adapter struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Client    *http.Client
	Retry     llm.RetryConfig
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:    apiKey,
		Model:     model,
		BaseURL:   "https://api.anthropic.com",
		MaxTokens: 4096,
		Client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "anthropic" }

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []anthMessage `json:"messages"`
	Tools     []anthTool    `json:"tools,omitempty"`
}

type anthMessage struct {
	Role    string      `json:"role"`
	Content []anthBlock `json:"content"`
}

// anthBlock is a content block: text, tool_use or tool_result.
type anthBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	Content    []anthBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Response, error) {
	payload, err := a.buildRequest(req)
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Retry(ctx, a.Retry, func(ctx context.Context) (llm.Response, error) {
		return a.doRequest(ctx, payload)
	})
}

func (a *Adapter) buildRequest(req llm.CompletionRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = a.Model
	}
	out := messagesRequest{
		Model:     model,
		MaxTokens: a.MaxTokens,
		System:    req.System,
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			out.Messages = append(out.Messages, anthMessage{
				Role:    "user",
				Content: []anthBlock{{Type: "text", Text: msg.Content}},
			})
		case llm.RoleAssistant:
			var blocks []anthBlock
			if msg.Content != "" {
				blocks = append(blocks, anthBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Arguments,
				})
			}
			out.Messages = append(out.Messages, anthMessage{Role: "assistant", Content: blocks})
		case llm.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			block := anthBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolResult.CallID,
				Content:   msg.ToolResult.Payload,
			}
			if msg.ToolResult.Status == llm.StatusError {
				block.Content = msg.ToolResult.ErrorMessage
				block.IsError = true
			}
			// Tool results ride on user-role messages in this API.
			out.Messages = append(out.Messages, anthMessage{Role: "user", Content: []anthBlock{block}})
		}
	}
	for _, tool := range req.Tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, anthTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return json.Marshal(out)
}

func (a *Adapter) doRequest(ctx context.Context, payload []byte) (llm.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.client().Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return llm.Response{}, llm.HTTPStatusError(a.Name(), resp.StatusCode, string(body))
	}
	return a.parseResponse(body)
}

func (a *Adapter) parseResponse(body []byte) (llm.Response, error) {
	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), fmt.Errorf("decode response: %w", err))
	}
	out := llm.Response{
		FinishReason: parsed.StopReason,
		Usage: llm.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			if out.Text != "" && block.Text != "" {
				out.Text += "\n"
			}
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out, nil
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.Provider = (*Adapter)(nil)
