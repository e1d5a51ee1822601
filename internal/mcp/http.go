// ABOUTME: HTTP implementation of the MCP client: JSON-RPC over POST.
// ABOUTME: Handles SSE-wrapped responses and shared-vs-owned transport lifetimes.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the per-request timeout when the plugin config does
// not override it.
const DefaultTimeout = 60 * time.Second

// maxResponseBody caps how much of a response we are willing to read.
const maxResponseBody = 10 << 20 // 10 MiB

// Transport pool limits for client-owned transports. Registry-owned
// shared transports are sized separately (see registry.NewTransport).
const (
	dialTimeout         = 10 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 30 * time.Second
)

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// URL is the MCP server endpoint. A trailing slash is stripped.
	URL string

	// Headers are sent with every request. Accept and Content-Type
	// defaults are filled in unless the caller supplied overrides.
	Headers map[string]string

	// Env carries environment-style overrides. An API_KEY entry is
	// turned into an Authorization: Bearer header.
	Env map[string]string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// Transport, when non-nil, is a caller-owned pooled transport to
	// reuse. The client never closes it. When nil the client builds
	// and owns its own transport.
	Transport *http.Transport
}

// HTTPClient speaks JSON-RPC 2.0 over HTTP POST to one MCP server.
type HTTPClient struct {
	url        string
	headers    map[string]string
	env        map[string]string
	timeout    time.Duration
	httpClient *http.Client
	transport  *http.Transport
	ownsPool   bool
	logger     *slog.Logger
	nextID     atomic.Int64
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given server. The logger may
// be nil, in which case slog.Default is used.
func NewHTTPClient(opts HTTPOptions, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}

	headers := make(map[string]string, len(opts.Headers)+3)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	// MCP servers require clients to accept both plain JSON and
	// event-stream responses.
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json, text/event-stream"
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}
	if key, ok := opts.Env["API_KEY"]; ok && key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	pool := opts.Transport
	owns := pool == nil
	if owns {
		pool = newOwnedTransport()
	}

	return &HTTPClient{
		url:     strings.TrimRight(opts.URL, "/"),
		headers: headers,
		env:     opts.Env,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: pool,
			Timeout:   timeout,
		},
		transport: pool,
		ownsPool:  owns,
		logger:    logger.With("component", "mcp", "server_url", strings.TrimRight(opts.URL, "/")),
	}
}

// newOwnedTransport builds the transport for clients constructed
// without a shared pool.
func newOwnedTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConnsPerHost: 5,
		ForceAttemptHTTP2:   true,
	}
}

// URL returns the (normalized) server endpoint.
func (c *HTTPClient) URL() string {
	return c.url
}

// Call executes a JSON-RPC method and returns the raw result member.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(NewRequest(id, method, params))
	if err != nil {
		return nil, &ProtocolError{Method: method, Message: fmt.Sprintf("encode request: %v", err)}
	}

	c.logger.Debug("mcp request", "method", method, "id", id)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	// Headers are set per request: a shared transport keeps no
	// per-client defaults.
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Method: method, Status: httpResp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &TransportError{
			Method: method,
			Status: httpResp.StatusCode,
			Err:    fmt.Errorf("%s", snippet(body)),
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ProtocolError{Method: method, Message: "empty response from server"}
	}

	raw := body
	contentType := httpResp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") || bytes.HasPrefix(body, []byte("event:")) {
		raw, err = reassembleSSE(body)
		if err != nil {
			return nil, &ProtocolError{Method: method, Message: err.Error(), Body: snippet(body)}
		}
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Error("mcp response is not valid JSON", "method", method, "body", snippet(body))
		return nil, &ProtocolError{Method: method, Message: fmt.Sprintf("invalid JSON response: %v", err), Body: snippet(body)}
	}

	if resp.Error != nil {
		c.logger.Error("mcp server returned error", "method", method, "code", resp.Error.Code, "message", resp.Error.Message)
		return nil, &ProtocolError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message, Body: snippet(body)}
	}

	if resp.Result == nil {
		return nil, &ProtocolError{Method: method, Message: "response missing result", Body: snippet(body)}
	}

	return resp.Result, nil
}

// reassembleSSE extracts the JSON payload from an SSE-wrapped response
// body by concatenating all data: line payloads.
func reassembleSSE(body []byte) ([]byte, error) {
	var parts []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			parts = append(parts, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no data lines in event-stream response")
	}
	joined := strings.Join(parts, "")
	if !json.Valid([]byte(joined)) {
		return nil, fmt.Errorf("event-stream data is not valid JSON")
	}
	return []byte(joined), nil
}

// ListTools calls tools/list. A result without a tools member yields an
// empty slice, not an error.
func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &ProtocolError{Method: "tools/list", Message: fmt.Sprintf("decode tools: %v", err), Body: snippet(result)}
	}
	if parsed.Tools == nil {
		parsed.Tools = []Tool{}
	}
	c.logger.Debug("listed tools", "count", len(parsed.Tools))
	return parsed.Tools, nil
}

// CallTool invokes a tool and unwraps the conventional MCP content
// envelope: a content array whose first element carries text comes back
// as that string; other shapes are passed through as-is.
func (c *HTTPClient) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := c.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, &ProtocolError{Method: "tools/call", Message: fmt.Sprintf("decode result: %v", err), Body: snippet(result)}
	}
	return unwrapToolResult(value), nil
}

// unwrapToolResult mirrors the common MCP convention of wrapping tool
// output in a content array, while tolerating servers that deviate.
func unwrapToolResult(value any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	content, ok := obj["content"]
	if !ok {
		return value
	}
	list, ok := content.([]any)
	if !ok {
		return content
	}
	if len(list) == 0 {
		return content
	}
	first := list[0]
	if m, ok := first.(map[string]any); ok {
		if text, ok := m["text"].(string); ok {
			return text
		}
	}
	return first
}

// ListResources calls resources/list.
func (c *HTTPClient) ListResources(ctx context.Context) ([]Resource, error) {
	result, err := c.Call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, &ProtocolError{Method: "resources/list", Message: fmt.Sprintf("decode resources: %v", err), Body: snippet(result)}
	}
	if parsed.Resources == nil {
		parsed.Resources = []Resource{}
	}
	return parsed.Resources, nil
}

// ReadResource calls resources/read for one URI and returns the raw result.
func (c *HTTPClient) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.Call(ctx, "resources/read", map[string]any{"uri": uri})
}

// TestConnection times a tools/list round trip. Failures come back in
// the result with remediation suggestions instead of as an error.
func (c *HTTPClient) TestConnection(ctx context.Context) *TestResult {
	start := time.Now()
	tools, err := c.ListTools(ctx)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err == nil {
		return &TestResult{
			Success:        true,
			Message:        "connection test succeeded",
			ResponseTimeMs: elapsed,
			ToolsCount:     len(tools),
			Tools:          tools,
		}
	}

	res := &TestResult{
		Success:        false,
		Message:        "connection test failed",
		ResponseTimeMs: elapsed,
		Error:          err.Error(),
	}
	switch {
	case IsProtocolError(err):
		res.ErrorType = "protocol"
		res.Suggestions = []string{
			"check that the server URL points at an MCP endpoint",
			"check that the API key is valid",
		}
	case IsTransportError(err):
		res.ErrorType = "transport"
		res.Suggestions = []string{
			"check that the server URL is correct",
			"check that the server is online",
			"check network connectivity",
		}
	default:
		res.ErrorType = "unknown"
		res.Suggestions = []string{
			"check that the server is online",
			"check the plugin configuration",
		}
	}
	return res
}

// Close releases the owned connection pool. A shared pool supplied at
// construction stays open; its owner closes it.
func (c *HTTPClient) Close() error {
	if c.ownsPool && c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}
