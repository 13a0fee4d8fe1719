package turn

import "github.com/orkestralabs/orkestra/pkg/llm"

// Context is the per-turn view of one orchestration run: prior
// history, provider/model selection, and the messages appended during
// the turn. A fresh value is built for every turn from persisted
// history; nothing mutates it mid-turn except its owning loop.
type Context struct {
	SessionID  string
	ProviderID string
	ModelID    string

	PendingToolCalls []llm.ToolCall
	IterationCount   int

	messages []llm.Message
	appended []llm.Message
}

// NewContext builds a turn context over the persisted session history.
// The history slice is copied; the caller's value is never aliased.
func NewContext(sessionID string, history []llm.Message, providerID, modelID string) *Context {
	messages := make([]llm.Message, len(history))
	copy(messages, history)
	return &Context{
		SessionID:  sessionID,
		ProviderID: providerID,
		ModelID:    modelID,
		messages:   messages,
	}
}

// Append adds a message to the working conversation and records it in
// the transcript delta returned to the caller for persistence.
func (c *Context) Append(msg llm.Message) {
	c.messages = append(c.messages, msg)
	c.appended = append(c.appended, msg)
}

// Messages returns the full working conversation for the next
// provider call.
func (c *Context) Messages() []llm.Message {
	return c.messages
}

// Appended returns the messages added during this turn, in order.
func (c *Context) Appended() []llm.Message {
	out := make([]llm.Message, len(c.appended))
	copy(out, c.appended)
	return out
}
