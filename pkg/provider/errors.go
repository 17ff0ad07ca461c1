package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrToolsUnsupported is returned when the model rejects a request
	// because it cannot call tools.
	ErrToolsUnsupported = errors.New("model does not support tools")

	// ErrTransport is returned when the service cannot be reached.
	ErrTransport = errors.New("transport failure")
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, body)
}

// classifyStatus maps a 400 on a request that offered tools to
// ErrToolsUnsupported, whatever the body says, so the caller can retry once
// without tools. Everything else is a *StatusError.
func classifyStatus(provider string, status int, body string, withTools bool) error {
	if status == http.StatusBadRequest && withTools {
		return fmt.Errorf("%w: %s", ErrToolsUnsupported, strings.TrimSpace(body))
	}
	return &StatusError{Provider: provider, StatusCode: status, Body: body}
}
