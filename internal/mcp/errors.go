// ABOUTME: Error taxonomy for MCP calls: transport failures vs protocol failures.
// ABOUTME: Both carry the method name; protocol errors keep a truncated raw body.

package mcp

import (
	"errors"
	"fmt"
)

// bodySnippetLen bounds how much of a raw response body is kept on a
// ProtocolError for diagnostics.
const bodySnippetLen = 500

// TransportError reports a failure at the HTTP layer: connection errors,
// timeouts, or a non-success status code. The underlying error is
// available via Unwrap.
type TransportError struct {
	Method string
	Status int // HTTP status code, 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("mcp %s: http status %d: %v", e.Method, e.Status, e.Err)
	}
	return fmt.Sprintf("mcp %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed, empty, or error-carrying JSON-RPC
// envelope. Code and Message reflect the remote error object when the
// server returned one; Body holds a truncated copy of the raw response.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Body    string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mcp %s: [%d] %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("mcp %s: %s", e.Method, e.Message)
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// snippet truncates a raw body for inclusion in errors and logs.
func snippet(body []byte) string {
	if len(body) <= bodySnippetLen {
		return string(body)
	}
	return string(body[:bodySnippetLen])
}
