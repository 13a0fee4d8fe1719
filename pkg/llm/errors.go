package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
	"github.com/orkestralabs/orkestra/pkg/redact"
)

// HTTPStatusError maps a vendor HTTP status to a reasoned provider
// error. The body is redacted before it can reach a log line.
func HTTPStatusError(provider string, status int, body string) error {
	msg := redact.Text(strings.TrimSpace(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	err := fmt.Errorf("%s: status %d: %s", provider, status, msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errorsx.Wrap(err, errorsx.ReasonProviderAuth)
	case status == http.StatusTooManyRequests:
		return errorsx.Wrap(err, errorsx.ReasonProviderRateLimit)
	default:
		return errorsx.Wrap(err, errorsx.ReasonProviderTransport)
	}
}

// TransportError wraps a connection-level failure.
func TransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return errorsx.Wrap(fmt.Errorf("%s: %w", provider, err), errorsx.ReasonProviderTransport)
}
