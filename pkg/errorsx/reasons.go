package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonProviderAuth      ReasonCode = "provider_auth"
	ReasonProviderRateLimit ReasonCode = "provider_rate_limit"
	ReasonProviderTransport ReasonCode = "provider_transport"

	ReasonToolNotFound ReasonCode = "tool_not_found"
	ReasonToolSchema   ReasonCode = "tool_schema"
	ReasonToolTimeout  ReasonCode = "tool_timeout"
	ReasonToolExecute  ReasonCode = "tool_execute"

	ReasonDuplicateTool ReasonCode = "duplicate_tool"
	ReasonServerStart   ReasonCode = "server_start"
	ReasonConfigInvalid ReasonCode = "config_invalid"
)

// IsProviderFatal reports whether the reason ends the current turn.
// Tool-level reasons are recoverable data fed back to the model.
func IsProviderFatal(reason ReasonCode) bool {
	switch reason {
	case ReasonProviderAuth, ReasonProviderRateLimit, ReasonProviderTransport:
		return true
	}
	return false
}
