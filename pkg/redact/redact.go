package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	headerRe = regexp.MustCompile(`(?i)\b(authorization|x-api-key|x-goog-api-key|api[_-]?key)([=:]\s*|\s+)(bearer\s+)?\S+`)
	tokenRe  = regexp.MustCompile(`\b(sk|rk|key|gsk)-[A-Za-z0-9_\-]{12,}\b`)
)

// SetEnabled toggles secret redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts credential headers and API key tokens when enabled.
// Provider error bodies pass through here before logging so a turn
// never writes a caller's key to the log stream.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := headerRe.ReplaceAllString(in, "$1$2[REDACTED_SECRET]")
	out = tokenRe.ReplaceAllString(out, "[REDACTED_SECRET]")
	return out
}
