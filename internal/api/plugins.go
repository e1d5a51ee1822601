// ABOUTME: Plugin management and tool invocation endpoints.
// ABOUTME: Handlers persist status after every registry operation.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/74587/MuMuAINovel/internal/auth"
	"github.com/74587/MuMuAINovel/internal/registry"
	"github.com/74587/MuMuAINovel/internal/store"
	"github.com/74587/MuMuAINovel/internal/tools"
)

// handlePlugins handles /api/plugins: GET lists the user's plugins,
// POST creates one.
func (h *Handler) handlePlugins(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListPlugins(w, r)
	case http.MethodPost:
		h.handleCreatePlugin(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	plugins, err := h.store.ListPlugins(r.Context(), userID)
	if err != nil {
		h.requestLogger(r).Error("listing plugins failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "listing plugins failed")
		return
	}

	resp := make([]PluginResponse, 0, len(plugins))
	for _, p := range plugins {
		resp = append(resp, h.pluginResponse(userID, p))
	}
	h.sendJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreatePlugin(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req PluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PluginName == "" {
		h.sendJSONError(w, http.StatusBadRequest, "plugin_name is required")
		return
	}
	if strings.Contains(req.PluginName, "_") {
		h.sendJSONError(w, http.StatusBadRequest, "plugin_name must not contain underscores")
		return
	}
	if req.PluginType == "" {
		req.PluginType = store.PluginTypeHTTP
	}
	if req.PluginType == store.PluginTypeHTTP && req.ServerURL == "" {
		h.sendJSONError(w, http.StatusBadRequest, "server_url is required for http plugins")
		return
	}

	now := time.Now().UTC()
	p := &store.Plugin{
		ID:         uuid.NewString(),
		UserID:     userID,
		PluginName: req.PluginName,
		PluginType: req.PluginType,
		ServerURL:  req.ServerURL,
		Headers:    req.Headers,
		Env:        req.Env,
		Config:     req.Config,
		Enabled:    req.Enabled == nil || *req.Enabled,
		Status:     store.StatusInactive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.store.CreatePlugin(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrDuplicatePlugin) {
			h.sendJSONError(w, http.StatusConflict, "a plugin with this name already exists")
			return
		}
		h.requestLogger(r).Error("creating plugin failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "creating plugin failed")
		return
	}

	h.requestLogger(r).Info("created plugin", "user_id", userID, "plugin", p.PluginName)
	h.sendJSON(w, http.StatusCreated, h.pluginResponse(userID, p))
}

// handlePluginRoutes dispatches /api/plugins/{id} and its sub-routes,
// plus the /api/plugins/call shortcut.
func (h *Handler) handlePluginRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/plugins/")

	if path == "call" {
		h.handleCallTool(w, r)
		return
	}

	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		h.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	p, err := h.store.GetPlugin(r.Context(), id)
	if err != nil || p.UserID != userID {
		// Another user's plugin reads as absent.
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.requestLogger(r).Error("fetching plugin failed", "error", err)
			h.sendJSONError(w, http.StatusInternalServerError, "fetching plugin failed")
			return
		}
		h.sendJSONError(w, http.StatusNotFound, "plugin not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.sendJSON(w, http.StatusOK, h.pluginResponse(userID, p))
		case http.MethodPut:
			h.handleUpdatePlugin(w, r, p)
		case http.MethodDelete:
			h.handleDeletePlugin(w, r, p)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "toggle":
		h.requirePost(w, r, func() { h.handleTogglePlugin(w, r, p) })
	case "test":
		h.requirePost(w, r, func() { h.handleTestPlugin(w, r, p) })
	case "tools":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handlePluginTools(w, r, p)
	default:
		h.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) requirePost(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fn()
}

func (h *Handler) handleUpdatePlugin(w http.ResponseWriter, r *http.Request, p *store.Plugin) {
	userID := p.UserID

	var req PluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.PluginName != "" {
		if strings.Contains(req.PluginName, "_") {
			h.sendJSONError(w, http.StatusBadRequest, "plugin_name must not contain underscores")
			return
		}
		// A rename must drop the old registry entry.
		if req.PluginName != p.PluginName {
			h.registry.UnloadPlugin(userID, p.PluginName)
		}
		p.PluginName = req.PluginName
	}
	if req.PluginType != "" {
		p.PluginType = req.PluginType
	}
	if req.ServerURL != "" {
		p.ServerURL = req.ServerURL
	}
	if req.Headers != nil {
		p.Headers = req.Headers
	}
	if req.Env != nil {
		p.Env = req.Env
	}
	if req.Config != nil {
		p.Config = req.Config
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}

	if err := h.store.UpdatePlugin(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrDuplicatePlugin) {
			h.sendJSONError(w, http.StatusConflict, "a plugin with this name already exists")
			return
		}
		h.requestLogger(r).Error("updating plugin failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "updating plugin failed")
		return
	}

	// A loaded plugin picks up the new settings immediately.
	if h.registry.Loaded(userID, p.PluginName) {
		if p.Enabled {
			h.registry.ReloadPlugin(tools.DescriptorFor(p))
		} else {
			h.registry.UnloadPlugin(userID, p.PluginName)
		}
	}

	h.sendJSON(w, http.StatusOK, h.pluginResponse(userID, p))
}

func (h *Handler) handleDeletePlugin(w http.ResponseWriter, r *http.Request, p *store.Plugin) {
	h.registry.UnloadPlugin(p.UserID, p.PluginName)

	if err := h.store.DeletePlugin(r.Context(), p.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.requestLogger(r).Error("deleting plugin failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "deleting plugin failed")
		return
	}

	h.requestLogger(r).Info("deleted plugin", "user_id", p.UserID, "plugin", p.PluginName)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTogglePlugin(w http.ResponseWriter, r *http.Request, p *store.Plugin) {
	userID := p.UserID
	enabled := !p.Enabled

	if err := h.store.SetPluginEnabled(r.Context(), p.ID, enabled); err != nil {
		h.requestLogger(r).Error("toggling plugin failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "toggling plugin failed")
		return
	}
	p.Enabled = enabled

	if enabled {
		if h.registry.LoadPlugin(tools.DescriptorFor(p)) {
			h.persistStatus(r, p, store.StatusActive, "")
		} else {
			h.persistStatus(r, p, store.StatusError, "plugin failed to load")
		}
	} else {
		h.registry.UnloadPlugin(userID, p.PluginName)
		h.persistStatus(r, p, store.StatusInactive, "")
	}

	h.sendJSON(w, http.StatusOK, h.pluginResponse(userID, p))
}

func (h *Handler) handleTestPlugin(w http.ResponseWriter, r *http.Request, p *store.Plugin) {
	userID := p.UserID

	if !h.registry.Loaded(userID, p.PluginName) && !h.registry.LoadPlugin(tools.DescriptorFor(p)) {
		h.persistStatus(r, p, store.StatusError, "plugin failed to load")
		h.sendJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "plugin failed to load",
			"suggestions": []string{
				"check that the server URL is valid",
				"verify the plugin type is supported",
			},
		})
		return
	}

	result, err := h.registry.TestPlugin(r.Context(), userID, p.PluginName)
	if err != nil {
		h.requestLogger(r).Error("testing plugin failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "testing plugin failed")
		return
	}

	if result.Success {
		h.persistStatus(r, p, store.StatusActive, "")
	} else {
		h.persistStatus(r, p, store.StatusError, result.Error)
	}

	h.sendJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePluginTools(w http.ResponseWriter, r *http.Request, p *store.Plugin) {
	userID := p.UserID

	if !h.registry.Loaded(userID, p.PluginName) && !h.registry.LoadPlugin(tools.DescriptorFor(p)) {
		h.sendJSONError(w, http.StatusBadGateway, "plugin failed to load")
		return
	}

	list, err := h.registry.GetPluginTools(r.Context(), userID, p.PluginName)
	if err != nil {
		h.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]any{"tools": list})
}

// handleCallTool handles POST /api/plugins/call: one direct tool
// invocation, lazily loading the plugin when needed.
func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	var req CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PluginName == "" || req.ToolName == "" {
		h.sendJSONError(w, http.StatusBadRequest, "plugin_name and tool_name are required")
		return
	}

	result, err := h.registry.CallTool(r.Context(), userID, req.PluginName, req.ToolName, req.Arguments)
	if registry.IsNotLoaded(err) {
		p, serr := h.store.GetPluginByName(r.Context(), userID, req.PluginName)
		if serr != nil {
			h.sendJSONError(w, http.StatusNotFound, "plugin not found")
			return
		}
		if !p.Enabled {
			h.sendJSONError(w, http.StatusConflict, "plugin is disabled")
			return
		}
		if !h.registry.LoadPlugin(tools.DescriptorFor(p)) {
			h.persistStatus(r, p, store.StatusError, "plugin failed to load")
			h.sendJSON(w, http.StatusBadGateway, CallToolResponse{Error: "plugin failed to load"})
			return
		}
		result, err = h.registry.CallTool(r.Context(), userID, req.PluginName, req.ToolName, req.Arguments)
	}
	if err != nil {
		h.sendJSON(w, http.StatusBadGateway, CallToolResponse{Error: err.Error()})
		return
	}

	h.sendJSON(w, http.StatusOK, CallToolResponse{Success: true, Result: result})
}

// handleUserTools handles GET /api/tools: every tool of the user's
// enabled plugins in function-calling form.
func (h *Handler) handleUserTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	specs, err := h.tools.UserTools(r.Context(), userID)
	if err != nil {
		h.requestLogger(r).Error("enumerating user tools failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "enumerating tools failed")
		return
	}

	h.sendJSON(w, http.StatusOK, UserToolsResponse{Tools: specs})
}

// persistStatus records a registry outcome on the stored plugin. Store
// failures here are logged, not surfaced; the registry operation is the
// user-visible result.
func (h *Handler) persistStatus(r *http.Request, p *store.Plugin, status, lastError string) {
	now := time.Now().UTC()
	if err := h.store.UpdatePluginStatus(r.Context(), p.ID, status, lastError, &now); err != nil {
		h.requestLogger(r).Error("persisting plugin status failed", "plugin", p.PluginName, "error", err)
		return
	}
	p.Status = status
	p.LastError = lastError
	p.LastTestedAt = &now
}
