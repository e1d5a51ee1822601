// ABOUTME: Client interface and shared MCP data types (tools, resources, test results).
// ABOUTME: TransportKind is the closed set of supported transports; only HTTP is implemented.

package mcp

import (
	"context"
	"encoding/json"
)

// TransportKind identifies how a client reaches its MCP server.
type TransportKind string

const (
	// TransportHTTP is JSON-RPC 2.0 over HTTP POST.
	TransportHTTP TransportKind = "http"

	// TransportStdio is a process-spawning transport. Declared for
	// config compatibility; there is no implementation behind it.
	TransportStdio TransportKind = "stdio"
)

// Tool is a server-advertised tool definition as returned by tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Resource is a server-advertised resource as returned by resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// TestResult is the outcome of a connection test, shaped so the API
// layer can render it to an end user without re-deriving details.
type TestResult struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	ToolsCount     int      `json:"tools_count,omitempty"`
	Tools          []Tool   `json:"tools,omitempty"`
	Error          string   `json:"error,omitempty"`
	ErrorType      string   `json:"error_type,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Client is one configured connection to a remote MCP server. New
// transport kinds implement this interface; the registry stores clients
// behind it.
type Client interface {
	// Call executes a raw JSON-RPC method and returns the result member.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// ListTools returns the server's tool definitions (tools/list).
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a named tool (tools/call) and unwraps the
	// conventional content envelope from the result.
	CallTool(ctx context.Context, name string, arguments map[string]any) (any, error)

	// ListResources returns the server's resources (resources/list).
	ListResources(ctx context.Context) ([]Resource, error)

	// ReadResource reads one resource by URI (resources/read).
	ReadResource(ctx context.Context, uri string) (json.RawMessage, error)

	// TestConnection times a ListTools round trip and reports a
	// user-presentable result. It never returns an error; failures are
	// folded into the result.
	TestConnection(ctx context.Context) *TestResult

	// Close releases client-owned resources. Shared transports
	// supplied at construction are left untouched.
	Close() error
}
