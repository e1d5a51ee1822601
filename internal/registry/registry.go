// ABOUTME: Bounded TTL/LRU cache of live MCP clients keyed by user and plugin name.
// ABOUTME: Per-user locks serialize mutations; a background reaper expires idle entries.

package registry

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/74587/MuMuAINovel/internal/mcp"
)

// Defaults sized for hundreds of concurrent users in one process.
const (
	DefaultMaxClients      = 1000
	DefaultClientTTL       = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
	DefaultCallTimeout     = 60 * time.Second
)

// NotLoadedError reports that a caller addressed a (user, plugin) pair
// with no live registry entry. The caller should load the plugin first.
type NotLoadedError struct {
	UserID     string
	PluginName string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("plugin not loaded: %s (user %s)", e.PluginName, e.UserID)
}

// IsNotLoaded reports whether err is (or wraps) a NotLoadedError.
func IsNotLoaded(err error) bool {
	var nl *NotLoadedError
	return errors.As(err, &nl)
}

// Options configures a Registry. Zero fields take the defaults above.
type Options struct {
	MaxClients      int
	ClientTTL       time.Duration
	CleanupInterval time.Duration

	// CallTimeout bounds each tool invocation at the registry level,
	// independent of the transport's own timeout.
	CallTimeout time.Duration
}

// entry pairs a live client with its last-access timestamp and its
// position in the LRU order (oldest at the front).
type entry struct {
	key        string
	client     mcp.Client
	lastAccess time.Time
	element    *list.Element
}

// Registry caches live MCP clients for all users of the process.
type Registry struct {
	// mu is the narrow bookkeeping lock for clients and order only.
	mu      sync.Mutex
	clients map[string]*entry
	order   *list.List

	// userLocks serializes load/unload/reload per user. locksMu only
	// guards the map insert, never a whole operation.
	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex

	maxClients  int
	ttl         time.Duration
	interval    time.Duration
	callTimeout time.Duration

	// pool is the shared connection pool used by every client the
	// registry creates. Clients never close it.
	pool   *http.Transport
	logger *slog.Logger

	// newClient builds transport clients; replaced in tests.
	newClient func(opts mcp.HTTPOptions, logger *slog.Logger) (mcp.Client, error)

	done          chan struct{}
	reaperStopped chan struct{}
	closeOnce     sync.Once
}

// NewSharedTransport builds the pooled transport shared by all
// registry-created clients: bounded keep-alive and total connections,
// generous response wait for long-running generation tools.
func NewSharedTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 180 * time.Second,
		IdleConnTimeout:       30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       200,
		ForceAttemptHTTP2:     true,
	}
}

// New creates a registry and starts its background reaper. The caller
// owns the returned registry and must tear it down with CleanupAll.
func New(opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.ClientTTL <= 0 {
		opts.ClientTTL = DefaultClientTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	r := &Registry{
		clients:     make(map[string]*entry),
		order:       list.New(),
		userLocks:   make(map[string]*sync.Mutex),
		maxClients:  opts.MaxClients,
		ttl:         opts.ClientTTL,
		interval:    opts.CleanupInterval,
		callTimeout: opts.CallTimeout,
		pool:        NewSharedTransport(),
		logger:      logger.With("component", "registry"),
		newClient: func(o mcp.HTTPOptions, l *slog.Logger) (mcp.Client, error) {
			return mcp.NewHTTPClient(o, l), nil
		},
		done:          make(chan struct{}),
		reaperStopped: make(chan struct{}),
	}
	go r.reap()
	r.logger.Info("MCP plugin registry started",
		"max_clients", r.maxClients,
		"client_ttl", r.ttl,
		"cleanup_interval", r.interval,
	)
	return r
}

// userLock returns the mutex for one user, creating it on first use.
func (r *Registry) userLock(userID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.userLocks[userID] = lock
	}
	return lock
}

// LoadPlugin creates a client for the descriptor and caches it. An
// existing entry for the same key is unloaded first, and when the
// registry is full the least-recently-used entry is evicted. Load
// failure is a routine outcome: it returns false with the reason
// logged, never an error.
func (r *Registry) LoadPlugin(d Descriptor) bool {
	lock := r.userLock(d.UserID)
	lock.Lock()
	defer lock.Unlock()

	key := d.Key()

	if old := r.take(key, time.Time{}); old != nil {
		r.closeEntry(old, "reload")
	}

	if evicted := r.evictOldest(); evicted != nil {
		r.logger.Info("registry full, evicting least-recently-used plugin", "plugin", evicted.key)
		r.closeEntry(evicted, "lru")
		evictionsTotal.WithLabelValues("lru").Inc()
	}

	switch d.Transport {
	case mcp.TransportHTTP:
		if d.ServerURL == "" {
			r.logger.Error("HTTP plugin missing server URL", "plugin", key)
			observeLoad(false)
			return false
		}
	default:
		r.logger.Warn("unsupported plugin transport", "plugin", key, "transport", string(d.Transport))
		observeLoad(false)
		return false
	}

	client, err := r.newClient(mcp.HTTPOptions{
		URL:       d.ServerURL,
		Headers:   d.Headers,
		Env:       d.Env,
		Timeout:   d.Timeout(),
		Transport: r.pool,
	}, r.logger)
	if err != nil {
		r.logger.Error("creating plugin client failed", "plugin", key, "error", err)
		observeLoad(false)
		return false
	}

	r.insert(key, client)
	r.logger.Info("loaded MCP plugin", "plugin", key)
	observeLoad(true)
	return true
}

// UnloadPlugin closes and removes the entry for (userID, pluginName).
// A missing entry is not an error.
func (r *Registry) UnloadPlugin(userID, pluginName string) {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if e := r.take(userID+":"+pluginName, time.Time{}); e != nil {
		r.closeEntry(e, "unload")
	}
}

// ReloadPlugin unloads then loads the descriptor. The two halves each
// hold the user lock; nothing else for this user interleaves between
// them because both acquisitions happen back to back on this goroutine.
func (r *Registry) ReloadPlugin(d Descriptor) bool {
	r.UnloadPlugin(d.UserID, d.PluginName)
	return r.LoadPlugin(d)
}

// GetClient returns the cached client for (userID, pluginName),
// refreshing its recency. This is the read path: it takes only the
// bookkeeping lock, never the user lock.
func (r *Registry) GetClient(userID, pluginName string) (mcp.Client, bool) {
	key := userID + ":" + pluginName

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	r.order.MoveToBack(e.element)
	return e.client, true
}

// Loaded reports whether an entry exists for (userID, pluginName)
// without refreshing its recency. Display paths use this so polling a
// plugin's state does not keep it alive.
func (r *Registry) Loaded(userID, pluginName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[userID+":"+pluginName]
	return ok
}

// CallTool resolves the plugin's client and invokes one tool. The call
// is bounded by the registry's call timeout in addition to whatever
// timeout the transport itself enforces.
func (r *Registry) CallTool(ctx context.Context, userID, pluginName, toolName string, arguments map[string]any) (any, error) {
	client, ok := r.GetClient(userID, pluginName)
	if !ok {
		return nil, &NotLoadedError{UserID: userID, PluginName: pluginName}
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := client.CallTool(ctx, toolName, arguments)
	observeToolCall(start, err)
	if err != nil {
		r.logger.Error("tool call failed",
			"user_id", userID,
			"plugin", pluginName,
			"tool", toolName,
			"error", err,
		)
		return nil, err
	}
	r.logger.Info("tool call succeeded", "user_id", userID, "plugin", pluginName, "tool", toolName)
	return result, nil
}

// GetPluginTools resolves the plugin's client and lists its tools.
func (r *Registry) GetPluginTools(ctx context.Context, userID, pluginName string) ([]mcp.Tool, error) {
	client, ok := r.GetClient(userID, pluginName)
	if !ok {
		return nil, &NotLoadedError{UserID: userID, PluginName: pluginName}
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		r.logger.Error("listing plugin tools failed", "user_id", userID, "plugin", pluginName, "error", err)
		return nil, err
	}
	return tools, nil
}

// TestPlugin resolves the plugin's client and runs a connection test.
func (r *Registry) TestPlugin(ctx context.Context, userID, pluginName string) (*mcp.TestResult, error) {
	client, ok := r.GetClient(userID, pluginName)
	if !ok {
		return nil, &NotLoadedError{UserID: userID, PluginName: pluginName}
	}
	return client.TestConnection(ctx), nil
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CleanupAll stops the reaper, unloads every entry under its user lock
// and closes the shared pool. Intended to run once at shutdown; safe to
// call again. Errors during teardown are logged, never returned.
func (r *Registry) CleanupAll() {
	r.closeOnce.Do(func() { close(r.done) })
	<-r.reaperStopped

	r.mu.Lock()
	keys := make([]string, 0, len(r.clients))
	for key := range r.clients {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		userID, _, _ := strings.Cut(key, ":")
		lock := r.userLock(userID)
		lock.Lock()
		if e := r.take(key, time.Time{}); e != nil {
			r.closeEntry(e, "shutdown")
		}
		lock.Unlock()
	}

	r.pool.CloseIdleConnections()
	r.logger.Info("cleaned up all MCP plugins")
}

// reap expires idle entries on a fixed interval until CleanupAll.
func (r *Registry) reap() {
	defer close(r.reaperStopped)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.removeExpired()
		case <-r.done:
			return
		}
	}
}

// removeExpired scans for idle entries without holding any lock, then
// removes each one under its user lock, re-checking the age so a touch
// that raced the scan wins.
func (r *Registry) removeExpired() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var expired []string
	for key, e := range r.clients {
		if e.lastAccess.Before(cutoff) {
			expired = append(expired, key)
		}
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	r.logger.Info("reaping expired MCP clients", "count", len(expired))

	for _, key := range expired {
		userID, _, _ := strings.Cut(key, ":")
		lock := r.userLock(userID)
		lock.Lock()
		if e := r.take(key, cutoff); e != nil {
			r.closeEntry(e, "expired")
			evictionsTotal.WithLabelValues("expired").Inc()
		}
		lock.Unlock()
	}
}

// insert adds a new entry at the most-recently-used position. Caller
// holds the user lock for the entry's user.
func (r *Registry) insert(key string, client mcp.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{
		key:        key,
		client:     client,
		lastAccess: time.Now(),
	}
	e.element = r.order.PushBack(e)
	r.clients[key] = e
	clientsActive.Set(float64(len(r.clients)))
}

// take removes and returns the entry for key, or nil when absent. A
// non-zero olderThan only removes entries whose last access predates
// it. The client is not closed; callers close it outside the lock.
func (r *Registry) take(key string, olderThan time.Time) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[key]
	if !ok {
		return nil
	}
	if !olderThan.IsZero() && !e.lastAccess.Before(olderThan) {
		return nil
	}
	delete(r.clients, key)
	r.order.Remove(e.element)
	clientsActive.Set(float64(len(r.clients)))
	return e
}

// evictOldest removes and returns the least-recently-used entry when
// the registry is at capacity, or nil when there is room.
func (r *Registry) evictOldest() *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) < r.maxClients {
		return nil
	}
	front := r.order.Front()
	if front == nil {
		return nil
	}
	e := front.Value.(*entry)
	delete(r.clients, e.key)
	r.order.Remove(front)
	clientsActive.Set(float64(len(r.clients)))
	return e
}

// closeEntry closes an already-removed entry's client, logging instead
// of propagating so cleanup always completes.
func (r *Registry) closeEntry(e *entry, reason string) {
	if err := e.client.Close(); err != nil {
		r.logger.Error("closing plugin client failed", "plugin", e.key, "reason", reason, "error", err)
	}
	r.logger.Info("unloaded MCP plugin", "plugin", e.key, "reason", reason)
}
