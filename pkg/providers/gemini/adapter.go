// Package gemini adapts the common completion request to the Google
// Gemini generateContent API.
package gemini

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
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "gemini" }

type generateRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTools struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (a *Adapter) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = a.Model
	}
	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return llm.Response{}, fmt.Errorf("marshal request: %w", err)
	}
	return llm.Retry(ctx, a.Retry, func(ctx context.Context) (llm.Response, error) {
		return a.doRequest(ctx, model, payload)
	})
}

func (a *Adapter) buildRequest(req llm.CompletionRequest) generateRequest {
	out := generateRequest{}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		case llm.RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, geminiPart{
					FunctionCall: &functionCall{Name: call.Name, Args: call.Arguments},
				})
			}
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: parts})
		case llm.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			// This API identifies function responses by name, not call
			// ID; recover the name from the assistant turn that issued
			// the matching call.
			name := callNameFor(req.Messages[:i], msg.ToolResult.CallID)
			response := map[string]any{"output": msg.ToolResult.Payload}
			if msg.ToolResult.Status == llm.StatusError {
				response = map[string]any{"error": msg.ToolResult.ErrorMessage}
			}
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &functionResponse{Name: name, Response: response},
				}},
			})
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
		}
		out.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}
	return out
}

// callNameFor walks backwards over preceding messages to find the tool
// call with the given ID and returns its tool name.
func callNameFor(prior []llm.Message, callID string) string {
	for i := len(prior) - 1; i >= 0; i-- {
		for _, call := range prior[i].ToolCalls {
			if call.ID == callID {
				return call.Name
			}
		}
	}
	return callID
}

func (a *Adapter) doRequest(ctx context.Context, model string, payload []byte) (llm.Response, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", a.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.APIKey)

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
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Response{}, llm.TransportError(a.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Candidates) == 0 {
		return llm.Response{}, llm.TransportError(a.Name(), fmt.Errorf("no candidates in response"))
	}
	candidate := parsed.Candidates[0]
	out := llm.Response{
		FinishReason: candidate.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name:      part.FunctionCall.Name,
				Arguments: args,
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
