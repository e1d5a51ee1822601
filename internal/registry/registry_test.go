// ABOUTME: Tests for the plugin registry: load/unload lifecycle, LRU eviction,
// ABOUTME: TTL reaping, per-user serialization, and error propagation.

package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/74587/MuMuAINovel/internal/mcp"
)

// fakeClient implements mcp.Client without touching the network.
type fakeClient struct {
	id       int
	closed   atomic.Bool
	callErr  error
	result   any
	tools    []mcp.Tool
	calls    atomic.Int64
	closeErr error
}

func (f *fakeClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	f.calls.Add(1)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeClient) ListResources(ctx context.Context) ([]mcp.Resource, error) { return nil, nil }

func (f *fakeClient) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) TestConnection(ctx context.Context) *mcp.TestResult {
	return &mcp.TestResult{Success: true, ToolsCount: len(f.tools), Tools: f.tools}
}

func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

// newTestRegistry builds a registry whose client factory hands out
// fakeClients, recording each construction.
func newTestRegistry(t *testing.T, opts Options) (*Registry, *[]*fakeClient) {
	t.Helper()
	var (
		mu      sync.Mutex
		created []*fakeClient
	)
	r := New(opts, slog.Default())
	r.newClient = func(o mcp.HTTPOptions, l *slog.Logger) (mcp.Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c := &fakeClient{id: len(created)}
		created = append(created, c)
		return c, nil
	}
	t.Cleanup(r.CleanupAll)
	return r, &created
}

func httpDescriptor(userID, name string) Descriptor {
	return Descriptor{
		UserID:     userID,
		PluginName: name,
		Transport:  mcp.TransportHTTP,
		ServerURL:  "http://example.com/mcp",
	}
}

func TestLoadPlugin(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	assert.True(t, r.LoadPlugin(httpDescriptor("u1", "search")))
	assert.Equal(t, 1, r.Len())

	client, ok := r.GetClient("u1", "search")
	assert.True(t, ok)
	assert.NotNil(t, client)
	assert.True(t, r.Loaded("u1", "search"))
	assert.False(t, r.Loaded("u1", "other"))
}

func TestLoadPlugin_ReloadOnLoad(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	d := httpDescriptor("u1", "search")

	require.True(t, r.LoadPlugin(d))
	require.True(t, r.LoadPlugin(d))
	require.True(t, r.LoadPlugin(d))

	// Exactly one entry, backed by the most recent client; the older
	// ones were closed.
	assert.Equal(t, 1, r.Len())
	client, ok := r.GetClient("u1", "search")
	require.True(t, ok)
	assert.Same(t, (*created)[2], client)
	assert.True(t, (*created)[0].closed.Load())
	assert.True(t, (*created)[1].closed.Load())
	assert.False(t, (*created)[2].closed.Load())
}

func TestLoadPlugin_UnsupportedTransport(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	d := httpDescriptor("u1", "local")
	d.Transport = mcp.TransportStdio

	assert.False(t, r.LoadPlugin(d))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, *created)
}

func TestLoadPlugin_MissingServerURL(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	d := httpDescriptor("u1", "search")
	d.ServerURL = ""

	assert.False(t, r.LoadPlugin(d))
	assert.Equal(t, 0, r.Len())
}

func TestLoadPlugin_FactoryError(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	r.newClient = func(o mcp.HTTPOptions, l *slog.Logger) (mcp.Client, error) {
		return nil, assert.AnError
	}

	assert.False(t, r.LoadPlugin(httpDescriptor("u1", "search")))
	assert.Equal(t, 0, r.Len())
}

func TestUnloadPlugin(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "search")))

	r.UnloadPlugin("u1", "search")

	_, ok := r.GetClient("u1", "search")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.True(t, (*created)[0].closed.Load())

	// Unloading again is a no-op.
	r.UnloadPlugin("u1", "search")
}

func TestUnloadPlugin_CloseErrorStillRemoves(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "search")))
	(*created)[0].closeErr = assert.AnError

	r.UnloadPlugin("u1", "search")
	assert.Equal(t, 0, r.Len())
}

func TestReloadPlugin(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	d := httpDescriptor("u1", "search")
	require.True(t, r.LoadPlugin(d))

	assert.True(t, r.ReloadPlugin(d))
	assert.Equal(t, 1, r.Len())
	assert.True(t, (*created)[0].closed.Load())

	client, ok := r.GetClient("u1", "search")
	require.True(t, ok)
	assert.Same(t, (*created)[1], client)
}

func TestLRUEviction(t *testing.T) {
	r, created := newTestRegistry(t, Options{MaxClients: 2})

	require.True(t, r.LoadPlugin(httpDescriptor("u1", "a")))
	require.True(t, r.LoadPlugin(httpDescriptor("u2", "b")))
	require.True(t, r.LoadPlugin(httpDescriptor("u3", "c")))

	// Oldest entry (u1:a) was evicted and closed.
	assert.Equal(t, 2, r.Len())
	_, ok := r.GetClient("u1", "a")
	assert.False(t, ok)
	assert.True(t, (*created)[0].closed.Load())

	_, ok = r.GetClient("u2", "b")
	assert.True(t, ok)
	_, ok = r.GetClient("u3", "c")
	assert.True(t, ok)
}

func TestLRUEviction_AccessProtects(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxClients: 2})

	require.True(t, r.LoadPlugin(httpDescriptor("u1", "a")))
	require.True(t, r.LoadPlugin(httpDescriptor("u2", "b")))

	// Touching u1:a makes u2:b the eviction candidate.
	_, ok := r.GetClient("u1", "a")
	require.True(t, ok)

	require.True(t, r.LoadPlugin(httpDescriptor("u3", "c")))

	_, ok = r.GetClient("u1", "a")
	assert.True(t, ok)
	_, ok = r.GetClient("u2", "b")
	assert.False(t, ok)
}

func TestReaper_ExpiresIdleEntries(t *testing.T) {
	r, created := newTestRegistry(t, Options{
		ClientTTL:       30 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	})

	require.True(t, r.LoadPlugin(httpDescriptor("u1", "idle")))

	assert.Eventually(t, func() bool {
		return r.Len() == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, (*created)[0].closed.Load())
}

func TestReaper_AccessKeepsEntryAlive(t *testing.T) {
	r, _ := newTestRegistry(t, Options{
		ClientTTL:       60 * time.Millisecond,
		CleanupInterval: 15 * time.Millisecond,
	})

	require.True(t, r.LoadPlugin(httpDescriptor("u1", "busy")))

	// Keep touching the entry past several reaper passes.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, ok := r.GetClient("u1", "busy")
		require.True(t, ok)
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentLoads_SameUser(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.True(t, r.LoadPlugin(httpDescriptor("u1", "a")))
	}()
	go func() {
		defer wg.Done()
		assert.True(t, r.LoadPlugin(httpDescriptor("u1", "b")))
	}()
	wg.Wait()

	assert.Equal(t, 2, r.Len())
}

func TestConcurrentLoads_ManyUsers(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d := httpDescriptor(string(rune('a'+n%26))+"user", "plugin")
			d.UserID = d.UserID + string(rune('0'+n%10))
			r.LoadPlugin(d)
			r.GetClient(d.UserID, d.PluginName)
			r.UnloadPlugin(d.UserID, d.PluginName)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestCallTool_NotLoaded(t *testing.T) {
	r, created := newTestRegistry(t, Options{})

	_, err := r.CallTool(context.Background(), "nobody", "ghost", "tool", nil)
	require.Error(t, err)
	assert.True(t, IsNotLoaded(err))

	var nl *NotLoadedError
	require.ErrorAs(t, err, &nl)
	assert.Equal(t, "ghost", nl.PluginName)

	// No client was ever constructed, so no network was touched.
	assert.Empty(t, *created)
}

func TestCallTool_Success(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "search")))
	(*created)[0].result = "found it"

	result, err := r.CallTool(context.Background(), "u1", "search", "web_search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "found it", result)
}

func TestCallTool_ErrorPropagatesAndEntrySurvives(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "flaky")))
	(*created)[0].callErr = &mcp.TransportError{Method: "tools/call", Err: context.DeadlineExceeded}

	_, err := r.CallTool(context.Background(), "u1", "flaky", "slow_tool", nil)
	require.Error(t, err)
	assert.True(t, mcp.IsTransportError(err))

	// A failed call does not unload the plugin.
	_, ok := r.GetClient("u1", "flaky")
	assert.True(t, ok)
}

func TestGetPluginTools(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "search")))
	(*created)[0].tools = []mcp.Tool{{Name: "web_search"}}

	tools, err := r.GetPluginTools(context.Background(), "u1", "search")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search", tools[0].Name)

	_, err = r.GetPluginTools(context.Background(), "u1", "missing")
	assert.True(t, IsNotLoaded(err))
}

func TestTestPlugin(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "search")))

	res, err := r.TestPlugin(context.Background(), "u1", "search")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = r.TestPlugin(context.Background(), "u1", "missing")
	assert.True(t, IsNotLoaded(err))
}

func TestCleanupAll(t *testing.T) {
	r, created := newTestRegistry(t, Options{})
	require.True(t, r.LoadPlugin(httpDescriptor("u1", "a")))
	require.True(t, r.LoadPlugin(httpDescriptor("u2", "b")))

	r.CleanupAll()

	assert.Equal(t, 0, r.Len())
	for _, c := range *created {
		assert.True(t, c.closed.Load())
	}

	// Idempotent.
	r.CleanupAll()
}

func TestCallTool_TransportTimeout(t *testing.T) {
	// End to end with the real HTTP client: the remote tool hangs past
	// the transport timeout, the registry surfaces a TransportError,
	// and the entry stays loaded.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	r := New(Options{}, slog.Default())
	defer r.CleanupAll()

	d := Descriptor{
		UserID:     "t1",
		PluginName: "hang",
		Transport:  mcp.TransportHTTP,
		ServerURL:  srv.URL,
		Config:     map[string]any{"timeout": 0.05},
	}
	require.True(t, r.LoadPlugin(d))

	_, err := r.CallTool(context.Background(), "t1", "hang", "slow", nil)
	require.Error(t, err)
	assert.True(t, mcp.IsTransportError(err))

	_, ok := r.GetClient("t1", "hang")
	assert.True(t, ok)
}

func TestDescriptorTimeout(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		want   time.Duration
	}{
		{"unset", nil, 0},
		{"float seconds", map[string]any{"timeout": 30.0}, 30 * time.Second},
		{"int seconds", map[string]any{"timeout": 15}, 15 * time.Second},
		{"duration", map[string]any{"timeout": 2 * time.Minute}, 2 * time.Minute},
		{"garbage", map[string]any{"timeout": "soon"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Descriptor{Config: tt.config}
			assert.Equal(t, tt.want, d.Timeout())
		})
	}
}
