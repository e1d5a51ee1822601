// ABOUTME: Façade for AI tool use: enumerate a user's tools as function-calling
// ABOUTME: specs and execute batches of calls in parallel against the registry.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/74587/MuMuAINovel/internal/mcp"
	"github.com/74587/MuMuAINovel/internal/registry"
	"github.com/74587/MuMuAINovel/internal/store"
)

// DefaultCallTimeout bounds each tool call made through the façade.
const DefaultCallTimeout = 60 * time.Second

// Registry is the slice of the plugin registry the façade needs.
type Registry interface {
	GetClient(userID, pluginName string) (mcp.Client, bool)
	LoadPlugin(d registry.Descriptor) bool
	CallTool(ctx context.Context, userID, pluginName, toolName string, arguments map[string]any) (any, error)
	GetPluginTools(ctx context.Context, userID, pluginName string) ([]mcp.Tool, error)
}

// Store is the slice of the descriptor store the façade needs.
type Store interface {
	ListEnabledPlugins(ctx context.Context, userID string) ([]*store.Plugin, error)
	GetPluginByName(ctx context.Context, userID, pluginName string) (*store.Plugin, error)
}

// ToolSpec is one tool in AI function-calling form.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec carries the namespaced tool name and its JSON schema.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is one requested invocation, named pluginName_toolName.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult records the outcome of one call. Success and Error are
// mutually exclusive; a failure never aborts the rest of the batch.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Service executes tool calls for users against their loaded plugins.
type Service struct {
	registry    Registry
	store       Store
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewService creates a façade over the registry and descriptor store.
// A zero callTimeout takes DefaultCallTimeout.
func NewService(reg Registry, st Store, callTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Service{
		registry:    reg,
		store:       st,
		logger:      logger.With("component", "tools"),
		callTimeout: callTimeout,
	}
}

// UserTools returns function-calling specs for every tool of the user's
// enabled plugins. Plugins not yet in the registry are loaded lazily;
// a plugin that fails to load or list is skipped with a log line.
func (s *Service) UserTools(ctx context.Context, userID string) ([]ToolSpec, error) {
	plugins, err := s.store.ListEnabledPlugins(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing enabled plugins: %w", err)
	}

	specs := []ToolSpec{}
	for _, p := range plugins {
		if !s.ensureLoaded(userID, p) {
			continue
		}
		tools, err := s.registry.GetPluginTools(ctx, userID, p.PluginName)
		if err != nil {
			s.logger.Warn("listing plugin tools failed, skipping plugin",
				"user_id", userID, "plugin", p.PluginName, "error", err)
			continue
		}
		for _, tool := range tools {
			specs = append(specs, ToolSpec{
				Type: "function",
				Function: FunctionSpec{
					Name:        p.PluginName + "_" + tool.Name,
					Description: tool.Description,
					Parameters:  tool.InputSchema,
				},
			})
		}
	}
	return specs, nil
}

// ExecuteToolCalls runs the batch in parallel, one result per call in
// the same order. Each call gets its own timeout; a failed call yields
// an error result and the batch continues.
func (s *Service) ExecuteToolCalls(ctx context.Context, userID string, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = s.executeOne(ctx, userID, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (s *Service) executeOne(ctx context.Context, userID string, call ToolCall) ToolResult {
	res := ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	pluginName, toolName, ok := strings.Cut(call.Name, "_")
	if !ok {
		res.Error = fmt.Sprintf("malformed tool name %q: want pluginName_toolName", call.Name)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	result, err := s.registry.CallTool(ctx, userID, pluginName, toolName, call.Arguments)
	if registry.IsNotLoaded(err) {
		// Lazy path: the plugin may be configured but not yet loaded.
		if p, serr := s.store.GetPluginByName(ctx, userID, pluginName); serr == nil && p.Enabled && s.ensureLoaded(userID, p) {
			result, err = s.registry.CallTool(ctx, userID, pluginName, toolName, call.Arguments)
		}
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Result = result
	return res
}

// ensureLoaded loads the plugin into the registry unless it is already
// there. Returns false when the load fails.
func (s *Service) ensureLoaded(userID string, p *store.Plugin) bool {
	if _, ok := s.registry.GetClient(userID, p.PluginName); ok {
		return true
	}
	if !s.registry.LoadPlugin(DescriptorFor(p)) {
		s.logger.Warn("loading plugin failed, skipping", "user_id", userID, "plugin", p.PluginName)
		return false
	}
	return true
}

// DescriptorFor converts a stored plugin record into a registry
// descriptor.
func DescriptorFor(p *store.Plugin) registry.Descriptor {
	transport := mcp.TransportHTTP
	if p.PluginType == store.PluginTypeStdio {
		transport = mcp.TransportStdio
	}
	return registry.Descriptor{
		UserID:     p.UserID,
		PluginName: p.PluginName,
		Transport:  transport,
		ServerURL:  p.ServerURL,
		Headers:    p.Headers,
		Env:        p.Env,
		Config:     p.Config,
	}
}
