package llm

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tool is one externally-executable tool offered to the model.
// The set loaded for a registry generation is immutable; a refresh
// swaps in a whole new set.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	ServerID    string
	Enabled     bool
}

// ToolCall is a structured request emitted by the model, naming a tool
// and supplying arguments. ID correlates the eventual result.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolStatus marks a tool call outcome.
type ToolStatus string

const (
	StatusSuccess ToolStatus = "success"
	StatusError   ToolStatus = "error"
)

// ToolResult is the outcome of exactly one ToolCall.
type ToolResult struct {
	CallID       string
	Status       ToolStatus
	Payload      string
	ErrorMessage string
}

// SuccessResult builds a success ToolResult for the given call.
func SuccessResult(callID, payload string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusSuccess, Payload: payload}
}

// ErrorResult builds an error ToolResult. Tool failures are data fed
// back to the model, never loop-ending errors.
func ErrorResult(callID, message string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusError, ErrorMessage: message}
}

// Message is one entry of the conversation fed to a provider.
// Assistant messages may carry tool calls; tool messages carry the
// matching result.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolMessage(result ToolResult) Message {
	res := result
	return Message{Role: RoleTool, ToolResult: &res}
}
