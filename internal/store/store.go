// ABOUTME: Store interface and data types for MCP plugin persistence
// ABOUTME: Defines the Plugin record and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicatePlugin is returned when a user already has a plugin with the same name
var ErrDuplicatePlugin = errors.New("plugin already exists for this user")

// Plugin status constants
const (
	StatusInactive = "inactive" // configured but never successfully reached
	StatusActive   = "active"   // last registry operation succeeded
	StatusError    = "error"    // last registry operation failed, see LastError
)

// Plugin types
const (
	PluginTypeHTTP  = "http"
	PluginTypeStdio = "stdio"
)

// Plugin is one user's configuration of an MCP server, plus the last
// known status of talking to it.
type Plugin struct {
	ID         string
	UserID     string
	PluginName string
	PluginType string // "http", "stdio"

	ServerURL string
	Headers   map[string]string // extra HTTP headers sent on every request
	Env       map[string]string // environment-style settings (API_KEY etc.)
	Config    map[string]any    // free-form per-plugin settings (timeout etc.)

	Enabled      bool
	Status       string // "inactive", "active", "error"
	LastError    string
	LastTestedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for plugin descriptor persistence
type Store interface {
	CreatePlugin(ctx context.Context, p *Plugin) error
	GetPlugin(ctx context.Context, id string) (*Plugin, error)
	GetPluginByName(ctx context.Context, userID, pluginName string) (*Plugin, error)
	ListPlugins(ctx context.Context, userID string) ([]*Plugin, error)
	ListEnabledPlugins(ctx context.Context, userID string) ([]*Plugin, error)
	UpdatePlugin(ctx context.Context, p *Plugin) error
	UpdatePluginStatus(ctx context.Context, id, status, lastError string, testedAt *time.Time) error
	SetPluginEnabled(ctx context.Context, id string, enabled bool) error
	DeletePlugin(ctx context.Context, id string) error

	Close() error
}
