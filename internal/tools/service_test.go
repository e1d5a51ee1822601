// ABOUTME: Tests for the tool façade: spec enumeration with lazy loading,
// ABOUTME: parallel batch execution, and context rendering.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/74587/MuMuAINovel/internal/mcp"
	"github.com/74587/MuMuAINovel/internal/registry"
	"github.com/74587/MuMuAINovel/internal/store"
)

// mockRegistry implements Registry with canned tools and call results.
type mockRegistry struct {
	mu     sync.Mutex
	loaded map[string]bool // key userID:pluginName
	tools  map[string][]mcp.Tool
	// callFn handles CallTool; nil means echo the tool name.
	callFn    func(plugin, tool string, args map[string]any) (any, error)
	loadFails map[string]bool
	loadCount int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		loaded:    make(map[string]bool),
		tools:     make(map[string][]mcp.Tool),
		loadFails: make(map[string]bool),
	}
}

func (m *mockRegistry) GetClient(userID, pluginName string) (mcp.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded[userID+":"+pluginName] {
		return nil, true
	}
	return nil, false
}

func (m *mockRegistry) LoadPlugin(d registry.Descriptor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCount++
	if m.loadFails[d.PluginName] {
		return false
	}
	m.loaded[d.Key()] = true
	return true
}

func (m *mockRegistry) CallTool(ctx context.Context, userID, pluginName, toolName string, arguments map[string]any) (any, error) {
	m.mu.Lock()
	ok := m.loaded[userID+":"+pluginName]
	fn := m.callFn
	m.mu.Unlock()
	if !ok {
		return nil, &registry.NotLoadedError{UserID: userID, PluginName: pluginName}
	}
	if fn != nil {
		return fn(pluginName, toolName, arguments)
	}
	return "ran " + toolName, nil
}

func (m *mockRegistry) GetPluginTools(ctx context.Context, userID, pluginName string) ([]mcp.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded[userID+":"+pluginName] {
		return nil, &registry.NotLoadedError{UserID: userID, PluginName: pluginName}
	}
	tools, ok := m.tools[pluginName]
	if !ok {
		return nil, errors.New("plugin unreachable")
	}
	return tools, nil
}

// mockStore implements Store from a fixed plugin list.
type mockStore struct {
	plugins []*store.Plugin
	listErr error
}

func (m *mockStore) ListEnabledPlugins(ctx context.Context, userID string) ([]*store.Plugin, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*store.Plugin
	for _, p := range m.plugins {
		if p.UserID == userID && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) GetPluginByName(ctx context.Context, userID, pluginName string) (*store.Plugin, error) {
	for _, p := range m.plugins {
		if p.UserID == userID && p.PluginName == pluginName {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func storedPlugin(userID, name string) *store.Plugin {
	return &store.Plugin{
		ID:         name + "-id",
		UserID:     userID,
		PluginName: name,
		PluginType: store.PluginTypeHTTP,
		ServerURL:  "http://example.com/mcp",
		Enabled:    true,
	}
}

func TestUserTools(t *testing.T) {
	reg := newMockRegistry()
	reg.tools["search"] = []mcp.Tool{
		{Name: "web", Description: "search the web", InputSchema: map[string]any{"type": "object"}},
		{Name: "news", Description: "search news"},
	}
	st := &mockStore{plugins: []*store.Plugin{storedPlugin("u1", "search")}}
	svc := NewService(reg, st, 0, nil)

	specs, err := svc.UserTools(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "function", specs[0].Type)
	assert.Equal(t, "search_web", specs[0].Function.Name)
	assert.Equal(t, "search the web", specs[0].Function.Description)
	assert.Equal(t, map[string]any{"type": "object"}, specs[0].Function.Parameters)
	assert.Equal(t, "search_news", specs[1].Function.Name)

	// The plugin was lazily loaded exactly once.
	assert.Equal(t, 1, reg.loadCount)
}

func TestUserTools_SkipsFailingPlugins(t *testing.T) {
	reg := newMockRegistry()
	reg.tools["good"] = []mcp.Tool{{Name: "tool"}}
	reg.loadFails["broken"] = true
	// "flaky" loads but listing its tools fails.
	st := &mockStore{plugins: []*store.Plugin{
		storedPlugin("u1", "broken"),
		storedPlugin("u1", "flaky"),
		storedPlugin("u1", "good"),
	}}
	svc := NewService(reg, st, 0, nil)

	specs, err := svc.UserTools(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "good_tool", specs[0].Function.Name)
}

func TestUserTools_NoPlugins(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	specs, err := svc.UserTools(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, specs)
	assert.Empty(t, specs)
}

func TestUserTools_StoreError(t *testing.T) {
	st := &mockStore{listErr: errors.New("database locked")}
	svc := NewService(newMockRegistry(), st, 0, nil)

	_, err := svc.UserTools(context.Background(), "u1")
	assert.ErrorContains(t, err, "database locked")
}

func TestExecuteToolCalls(t *testing.T) {
	reg := newMockRegistry()
	reg.loaded["u1:search"] = true
	svc := NewService(reg, &mockStore{}, 0, nil)

	results := svc.ExecuteToolCalls(context.Background(), "u1", []ToolCall{
		{ID: "c1", Name: "search_web", Arguments: map[string]any{"q": "go"}},
		{ID: "c2", Name: "search_news"},
	})

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.True(t, results[0].Success)
	assert.Equal(t, "ran web", results[0].Result)
	assert.True(t, results[1].Success)
	assert.Equal(t, "ran news", results[1].Result)
}

func TestExecuteToolCalls_FailureDoesNotAbortBatch(t *testing.T) {
	reg := newMockRegistry()
	reg.loaded["u1:search"] = true
	reg.callFn = func(plugin, tool string, args map[string]any) (any, error) {
		if tool == "bad" {
			return nil, errors.New("tool exploded")
		}
		return "ok", nil
	}
	svc := NewService(reg, &mockStore{}, 0, nil)

	results := svc.ExecuteToolCalls(context.Background(), "u1", []ToolCall{
		{ID: "c1", Name: "search_bad"},
		{ID: "c2", Name: "search_good"},
	})

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "tool exploded")
	assert.True(t, results[1].Success)
}

func TestExecuteToolCalls_MalformedName(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	results := svc.ExecuteToolCalls(context.Background(), "u1", []ToolCall{
		{ID: "c1", Name: "noseparator"},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "malformed tool name")
}

func TestExecuteToolCalls_LazyLoadsOnNotLoaded(t *testing.T) {
	reg := newMockRegistry()
	st := &mockStore{plugins: []*store.Plugin{storedPlugin("u1", "search")}}
	svc := NewService(reg, st, 0, nil)

	results := svc.ExecuteToolCalls(context.Background(), "u1", []ToolCall{
		{ID: "c1", Name: "search_web"},
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, reg.loadCount)
}

func TestExecuteToolCalls_UnknownPlugin(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	results := svc.ExecuteToolCalls(context.Background(), "u1", []ToolCall{
		{ID: "c1", Name: "ghost_tool"},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "not loaded")
}

func TestExecuteToolCalls_Parallel(t *testing.T) {
	reg := newMockRegistry()
	reg.loaded["u1:slow"] = true
	reg.callFn = func(plugin, tool string, args map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "done", nil
	}
	svc := NewService(reg, &mockStore{}, 0, nil)

	calls := make([]ToolCall, 8)
	for i := range calls {
		calls[i] = ToolCall{ID: "c", Name: "slow_tool"}
	}

	start := time.Now()
	results := svc.ExecuteToolCalls(context.Background(), "u1", calls)
	elapsed := time.Since(start)

	require.Len(t, results, 8)
	// Serial execution would take 400ms; parallel stays well under.
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestBuildToolContext_Markdown(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	out := svc.BuildToolContext([]ToolResult{
		{ToolName: "search_web", Success: true, Result: "three results"},
		{ToolName: "search_news", Error: "timed out"},
		{ToolName: "calc_add", Success: true, Result: map[string]any{"sum": 3}},
	}, FormatMarkdown)

	assert.Contains(t, out, "## Tool Results")
	assert.Contains(t, out, "### search_web")
	assert.Contains(t, out, "three results")
	assert.Contains(t, out, "Error: timed out")
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `"sum": 3`)
}

func TestBuildToolContext_Plain(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	out := svc.BuildToolContext([]ToolResult{
		{ToolName: "search_web", Success: true, Result: "found"},
		{ToolName: "search_news", Error: "boom"},
	}, FormatPlain)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[search_web] found", lines[0])
	assert.Equal(t, "[search_news] error: boom", lines[1])
}

func TestBuildToolContext_JSON(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	out := svc.BuildToolContext([]ToolResult{
		{ToolCallID: "c1", ToolName: "search_web", Success: true, Result: "found"},
	}, FormatJSON)

	var decoded []ToolResult
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "c1", decoded[0].ToolCallID)
	assert.Equal(t, "found", decoded[0].Result)
}

func TestBuildToolContext_HTML(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)

	out := svc.BuildToolContext([]ToolResult{
		{ToolName: "search_web", Success: true, Result: "found"},
	}, FormatHTML)

	assert.Contains(t, out, "<h2>Tool Results</h2>")
	assert.Contains(t, out, "<h3>search_web</h3>")
}

func TestBuildToolContext_Empty(t *testing.T) {
	svc := NewService(newMockRegistry(), &mockStore{}, 0, nil)
	assert.Empty(t, svc.BuildToolContext(nil, FormatMarkdown))
}

func TestDescriptorFor(t *testing.T) {
	p := storedPlugin("u1", "search")
	p.Headers = map[string]string{"X-A": "1"}
	p.Config = map[string]any{"timeout": 5.0}

	d := DescriptorFor(p)
	assert.Equal(t, "u1", d.UserID)
	assert.Equal(t, "search", d.PluginName)
	assert.Equal(t, mcp.TransportHTTP, d.Transport)
	assert.Equal(t, p.ServerURL, d.ServerURL)
	assert.Equal(t, p.Headers, d.Headers)
	assert.Equal(t, p.Config, d.Config)

	p.PluginType = store.PluginTypeStdio
	assert.Equal(t, mcp.TransportStdio, DescriptorFor(p).Transport)
}
