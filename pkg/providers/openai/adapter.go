// Package openai adapts the common completion request to the OpenAI
// chat completions API.
package openai

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

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
	Retry   llm.RetryConfig
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatFunctionDef `json:"function"`
}

type chatFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
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
	out := chatRequest{Model: model}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			out.Messages = append(out.Messages, chatMessage{Role: "user", Content: msg.Content})
		case llm.RoleAssistant:
			cm := chatMessage{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil {
					return nil, fmt.Errorf("marshal tool arguments: %w", err)
				}
				cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
					ID:   call.ID,
					Type: "function",
					Function: chatFunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out.Messages = append(out.Messages, cm)
		case llm.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			content := msg.ToolResult.Payload
			if msg.ToolResult.Status == llm.StatusError {
				content = "error: " + msg.ToolResult.ErrorMessage
			}
			out.Messages = append(out.Messages, chatMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: msg.ToolResult.CallID,
			})
		}
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return json.Marshal(out)
}

func (a *Adapter) doRequest(ctx context.Context, payload []byte) (llm.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

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
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, llm.TransportError(a.Name(), fmt.Errorf("no choices in response"))
	}
	choice := parsed.Choices[0]
	out := llm.Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			// Malformed arguments become an empty map; call-time schema
			// validation reports the problem back to the model.
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
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
