// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides plugin descriptor persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS mcp_plugins (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			plugin_name    TEXT NOT NULL,
			plugin_type    TEXT NOT NULL DEFAULT 'http',
			server_url     TEXT,
			headers_json   TEXT,
			env_json       TEXT,
			config_json    TEXT,
			enabled        INTEGER NOT NULL DEFAULT 1,
			status         TEXT NOT NULL DEFAULT 'inactive',
			last_error     TEXT,
			last_tested_at TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (plugin_type IN ('http', 'stdio')),
			CHECK (status IN ('inactive', 'active', 'error'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_plugins_user_name
			ON mcp_plugins(user_id, plugin_name);

		CREATE INDEX IF NOT EXISTS idx_plugins_user ON mcp_plugins(user_id);
		CREATE INDEX IF NOT EXISTS idx_plugins_user_enabled ON mcp_plugins(user_id, enabled);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreatePlugin inserts a new plugin descriptor.
// Returns ErrDuplicatePlugin if the user already has a plugin with this name.
func (s *SQLiteStore) CreatePlugin(ctx context.Context, p *Plugin) error {
	headers, env, config, err := marshalMaps(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mcp_plugins
			(id, user_id, plugin_name, plugin_type, server_url,
			 headers_json, env_json, config_json,
			 enabled, status, last_error, last_tested_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.UserID,
		p.PluginName,
		p.PluginType,
		nullString(p.ServerURL),
		headers,
		env,
		config,
		boolToInt(p.Enabled),
		p.Status,
		nullString(p.LastError),
		nullTime(p.LastTestedAt),
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicatePlugin
		}
		return fmt.Errorf("inserting plugin: %w", err)
	}

	s.logger.Debug("created plugin", "id", p.ID, "user_id", p.UserID, "name", p.PluginName)
	return nil
}

// GetPlugin retrieves a plugin by ID.
// Returns ErrNotFound if the plugin doesn't exist.
func (s *SQLiteStore) GetPlugin(ctx context.Context, id string) (*Plugin, error) {
	row := s.db.QueryRowContext(ctx, selectPlugin+` WHERE id = ?`, id)
	return scanPlugin(row)
}

// GetPluginByName retrieves a user's plugin by name.
// Returns ErrNotFound if no such plugin exists.
func (s *SQLiteStore) GetPluginByName(ctx context.Context, userID, pluginName string) (*Plugin, error) {
	row := s.db.QueryRowContext(ctx, selectPlugin+` WHERE user_id = ? AND plugin_name = ?`, userID, pluginName)
	return scanPlugin(row)
}

// ListPlugins returns all of a user's plugins ordered by name.
func (s *SQLiteStore) ListPlugins(ctx context.Context, userID string) ([]*Plugin, error) {
	return s.listPlugins(ctx, selectPlugin+` WHERE user_id = ? ORDER BY plugin_name`, userID)
}

// ListEnabledPlugins returns the user's enabled plugins ordered by name.
func (s *SQLiteStore) ListEnabledPlugins(ctx context.Context, userID string) ([]*Plugin, error) {
	return s.listPlugins(ctx, selectPlugin+` WHERE user_id = ? AND enabled = 1 ORDER BY plugin_name`, userID)
}

func (s *SQLiteStore) listPlugins(ctx context.Context, query string, args ...any) ([]*Plugin, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying plugins: %w", err)
	}
	defer rows.Close()

	var plugins []*Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plugin rows: %w", err)
	}
	return plugins, nil
}

// UpdatePlugin rewrites a plugin's configuration fields.
// Returns ErrNotFound if the plugin doesn't exist.
func (s *SQLiteStore) UpdatePlugin(ctx context.Context, p *Plugin) error {
	headers, env, config, err := marshalMaps(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE mcp_plugins
		SET plugin_name = ?, plugin_type = ?, server_url = ?,
		    headers_json = ?, env_json = ?, config_json = ?,
		    enabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		p.PluginName,
		p.PluginType,
		nullString(p.ServerURL),
		headers,
		env,
		config,
		boolToInt(p.Enabled),
		time.Now().UTC().Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicatePlugin
		}
		return fmt.Errorf("updating plugin: %w", err)
	}
	return requireRow(result)
}

// UpdatePluginStatus records the outcome of a registry operation.
// Returns ErrNotFound if the plugin doesn't exist.
func (s *SQLiteStore) UpdatePluginStatus(ctx context.Context, id, status, lastError string, testedAt *time.Time) error {
	query := `
		UPDATE mcp_plugins
		SET status = ?, last_error = ?, last_tested_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		status,
		nullString(lastError),
		nullTime(testedAt),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating plugin status: %w", err)
	}
	return requireRow(result)
}

// SetPluginEnabled flips a plugin's enabled flag.
// Returns ErrNotFound if the plugin doesn't exist.
func (s *SQLiteStore) SetPluginEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE mcp_plugins SET enabled = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		boolToInt(enabled),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("setting plugin enabled: %w", err)
	}
	return requireRow(result)
}

// DeletePlugin removes a plugin descriptor.
// Returns ErrNotFound if the plugin doesn't exist.
func (s *SQLiteStore) DeletePlugin(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mcp_plugins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting plugin: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	s.logger.Debug("deleted plugin", "id", id)
	return nil
}

const selectPlugin = `
	SELECT id, user_id, plugin_name, plugin_type, server_url,
	       headers_json, env_json, config_json,
	       enabled, status, last_error, last_tested_at, created_at, updated_at
	FROM mcp_plugins
`

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlugin(row rowScanner) (*Plugin, error) {
	var (
		p                                Plugin
		serverURL, lastError             sql.NullString
		headersJSON, envJSON, configJSON sql.NullString
		lastTestedAt                     sql.NullString
		enabled                          int
		createdAtStr, updatedAtStr       string
	)

	err := row.Scan(
		&p.ID, &p.UserID, &p.PluginName, &p.PluginType, &serverURL,
		&headersJSON, &envJSON, &configJSON,
		&enabled, &p.Status, &lastError, &lastTestedAt, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning plugin: %w", err)
	}

	p.ServerURL = serverURL.String
	p.LastError = lastError.String
	p.Enabled = enabled != 0

	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &p.Headers); err != nil {
			return nil, fmt.Errorf("parsing headers_json: %w", err)
		}
	}
	if envJSON.Valid && envJSON.String != "" {
		if err := json.Unmarshal([]byte(envJSON.String), &p.Env); err != nil {
			return nil, fmt.Errorf("parsing env_json: %w", err)
		}
	}
	if configJSON.Valid && configJSON.String != "" {
		if err := json.Unmarshal([]byte(configJSON.String), &p.Config); err != nil {
			return nil, fmt.Errorf("parsing config_json: %w", err)
		}
	}

	if lastTestedAt.Valid {
		t, err := time.Parse(time.RFC3339, lastTestedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_tested_at: %w", err)
		}
		p.LastTestedAt = &t
	}

	p.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// marshalMaps serializes the plugin's map fields to JSON text columns.
// Empty maps store as NULL.
func marshalMaps(p *Plugin) (headers, env, config any, err error) {
	headers, err = marshalMap(p.Headers)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding headers: %w", err)
	}
	env, err = marshalMap(p.Env)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding env: %w", err)
	}
	config, err = marshalMap(p.Config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding config: %w", err)
	}
	return headers, env, config, nil
}

func marshalMap[V any](m map[string]V) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// requireRow converts a zero-row UPDATE/DELETE into ErrNotFound
func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
