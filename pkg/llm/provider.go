package llm

import "context"

// CompletionRequest is the provider-agnostic shape of one completion
// call. A nil Tools slice disables tool calling for the call; the loop
// uses that for the forced final call on iteration exhaustion.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []Tool
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is either a final assistant text (no ToolCalls) or an
// assistant message carrying one or more tool calls.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Provider translates the common request into a vendor-specific call
// and the vendor's response back into the common shape. Adding a
// vendor means adding one adapter, the loop never changes.
//
// Errors carry an errorsx reason: provider_auth for bad or missing
// credentials, provider_rate_limit for 429s, provider_transport for
// anything else. Adapters never retry rate limits.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (Response, error)
	Name() string
}
