// ABOUTME: HTTP API handler: route registration, request/response types,
// ABOUTME: and the shared JSON helpers used by every endpoint.

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/74587/MuMuAINovel/internal/auth"
	"github.com/74587/MuMuAINovel/internal/mcp"
	"github.com/74587/MuMuAINovel/internal/registry"
	"github.com/74587/MuMuAINovel/internal/store"
	"github.com/74587/MuMuAINovel/internal/tools"
)

// Registry is the slice of the plugin registry the API needs.
type Registry interface {
	LoadPlugin(d registry.Descriptor) bool
	UnloadPlugin(userID, pluginName string)
	ReloadPlugin(d registry.Descriptor) bool
	Loaded(userID, pluginName string) bool
	CallTool(ctx context.Context, userID, pluginName, toolName string, arguments map[string]any) (any, error)
	GetPluginTools(ctx context.Context, userID, pluginName string) ([]mcp.Tool, error)
	TestPlugin(ctx context.Context, userID, pluginName string) (*mcp.TestResult, error)
}

// ToolService is the slice of the tool façade the API needs.
type ToolService interface {
	UserTools(ctx context.Context, userID string) ([]tools.ToolSpec, error)
}

// Handler serves the plugin management and tool invocation API.
type Handler struct {
	store    store.Store
	registry Registry
	tools    ToolService
	logger   *slog.Logger
}

// NewHandler creates the API handler over its collaborators.
func NewHandler(st store.Store, reg Registry, ts ToolService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    st,
		registry: reg,
		tools:    ts,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes attaches all API routes to the mux. Every /api route
// runs behind request-ID and bearer-auth middleware; /health does not.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, verifier auth.TokenVerifier) {
	chain := func(fn http.HandlerFunc) http.Handler {
		return RequestID(auth.Middleware(verifier)(fn))
	}

	mux.Handle("/api/plugins", chain(h.handlePlugins))
	mux.Handle("/api/plugins/", chain(h.handlePluginRoutes))
	mux.Handle("/api/tools", chain(h.handleUserTools))
	mux.Handle("/health", RequestID(http.HandlerFunc(h.handleHealth)))
}

// PluginRequest is the JSON body for creating or updating a plugin.
type PluginRequest struct {
	PluginName string            `json:"plugin_name"`
	PluginType string            `json:"plugin_type,omitempty"`
	ServerURL  string            `json:"server_url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Config     map[string]any    `json:"config,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
}

// PluginResponse is the JSON representation of a stored plugin plus its
// live registry state.
type PluginResponse struct {
	ID           string            `json:"id"`
	PluginName   string            `json:"plugin_name"`
	PluginType   string            `json:"plugin_type"`
	ServerURL    string            `json:"server_url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Config       map[string]any    `json:"config,omitempty"`
	Enabled      bool              `json:"enabled"`
	Status       string            `json:"status"`
	LastError    string            `json:"last_error,omitempty"`
	LastTestedAt string            `json:"last_tested_at,omitempty"`
	Loaded       bool              `json:"loaded"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// CallToolRequest is the JSON body for POST /api/plugins/call.
type CallToolRequest struct {
	PluginName string         `json:"plugin_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// CallToolResponse is the JSON response for POST /api/plugins/call.
type CallToolResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UserToolsResponse is the JSON response for GET /api/tools.
type UserToolsResponse struct {
	Tools []tools.ToolSpec `json:"tools"`
}

func (h *Handler) pluginResponse(userID string, p *store.Plugin) PluginResponse {
	resp := PluginResponse{
		ID:         p.ID,
		PluginName: p.PluginName,
		PluginType: p.PluginType,
		ServerURL:  p.ServerURL,
		Headers:    p.Headers,
		Env:        p.Env,
		Config:     p.Config,
		Enabled:    p.Enabled,
		Status:     p.Status,
		LastError:  p.LastError,
		Loaded:     h.registry.Loaded(userID, p.PluginName),
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.LastTestedAt != nil {
		resp.LastTestedAt = p.LastTestedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendJSON writes a JSON response with the given status.
func (h *Handler) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
