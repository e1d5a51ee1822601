// ABOUTME: Plugin descriptor supplied by the config store when loading a plugin.
// ABOUTME: Immutable for the duration of a load; the registry never persists it.

package registry

import (
	"time"

	"github.com/74587/MuMuAINovel/internal/mcp"
)

// Descriptor describes one plugin connection to load. The persistence
// layer owns the record; the registry only reads it.
type Descriptor struct {
	// UserID scopes the plugin to one user.
	UserID string

	// PluginName is unique within a user.
	PluginName string

	// Transport selects the client implementation. Only
	// mcp.TransportHTTP is supported.
	Transport mcp.TransportKind

	// ServerURL is the MCP endpoint for HTTP transports.
	ServerURL string

	// Headers are static HTTP headers sent on every request.
	Headers map[string]string

	// Env carries environment-style overrides (e.g. API_KEY).
	Env map[string]string

	// Config holds plugin-specific settings. A "timeout" entry
	// (seconds) overrides the request timeout.
	Config map[string]any
}

// Key returns the registry key for this descriptor.
func (d Descriptor) Key() string {
	return d.UserID + ":" + d.PluginName
}

// Timeout returns the per-request timeout from Config, or zero when
// unset so the client default applies. JSON decoding yields float64;
// hand-built configs may use int or time.Duration.
func (d Descriptor) Timeout() time.Duration {
	v, ok := d.Config["timeout"]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return time.Duration(t * float64(time.Second))
	case int:
		return time.Duration(t) * time.Second
	case time.Duration:
		return t
	default:
		return 0
	}
}
