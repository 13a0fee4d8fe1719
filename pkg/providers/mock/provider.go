// Package mock provides a scriptable provider for tests and demos.
package mock

import (
	"context"
	"sync"

	"github.com/orkestralabs/orkestra/pkg/llm"
)

// Step is one scripted provider response (or failure).
type Step struct {
	Response llm.Response
	Err      error
}

// TextStep scripts a plain final answer.
func TextStep(text string) Step {
	return Step{Response: llm.Response{Text: text, FinishReason: "stop"}}
}

// ToolCallStep scripts an assistant response requesting tool calls.
func ToolCallStep(calls ...llm.ToolCall) Step {
	return Step{Response: llm.Response{ToolCalls: calls, FinishReason: "tool_calls"}}
}

// ErrStep scripts a provider failure.
func ErrStep(err error) Step {
	return Step{Err: err}
}

// Provider replays scripted steps in order and records every request
// it sees. When the script runs out it answers with a fixed text.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.CompletionRequest
}

func NewProvider(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

func (p *Provider) Name() string { return "mock" }

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return llm.Response{Text: "mock response", FinishReason: "stop"}, nil
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	if step.Err != nil {
		return llm.Response{}, step.Err
	}
	return step.Response, nil
}

// Requests returns a copy of every completion request received.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

var _ llm.Provider = (*Provider)(nil)
