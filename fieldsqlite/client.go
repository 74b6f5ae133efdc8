// Package fieldsqlite provides a SQLite-based field-agent client for
// go-fieldsync. The client keeps a local replica of the shared dataset
// (one table per entity type) and advances it by polling the server's
// delta endpoint; it never pushes edits back.
// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldsync/go-fieldsync/fieldsync"
)

// Client manages the local SQLite replica and its sync loop.
type Client struct {
	DB      *sql.DB
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	AgentID string
	HTTP    *http.Client

	// OnCritical, if set, is called with the critical changes of a delta
	// page so the device can surface them promptly (e.g. price changes).
	OnCritical func(changes []fieldsync.ChangeLogEntry)

	config  *Config
	logger  *slog.Logger
	writeMu sync.Mutex // Serialize write transactions to avoid SQLite locking issues
}

// Config holds configuration for the replica client.
type Config struct {
	Types      []string      // Entity types to replicate (default: all)
	BackoffMin time.Duration // 1s
	BackoffMax time.Duration // 60s
}

// DefaultConfig returns a default configuration replicating every entity type.
func DefaultConfig() *Config {
	return &Config{
		Types:      fieldsync.EntityTypes,
		BackoffMin: 1 * time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// NewClient creates a replica client and initializes the local schema.
func NewClient(db *sql.DB, baseURL, agentID string, tok func(ctx context.Context) (string, error), config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Types) == 0 {
		config.Types = fieldsync.EntityTypes
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = 1 * time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 60 * time.Second
	}

	if err := initializeDatabase(db, config.Types); err != nil {
		return nil, fmt.Errorf("failed to initialize replica database: %w", err)
	}

	return &Client{
		DB:      db,
		BaseURL: baseURL,
		Token:   tok,
		AgentID: agentID,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		config:  config,
		logger:  slog.Default(),
	}, nil
}

// SetLogger replaces the default logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// initializeDatabase creates the client info table and one replica table per
// entity type. Entity type names come from the closed fieldsync set, so
// interpolating them into DDL is safe.
func initializeDatabase(db *sql.DB, types []string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _fieldsync_client_info (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			last_version INTEGER NOT NULL DEFAULT 0,
			last_sync_at INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		return fmt.Errorf("failed to create client info table: %w", err)
	}
	if _, err := db.Exec(`
		INSERT OR IGNORE INTO _fieldsync_client_info (id, last_version) VALUES (1, 0)`); err != nil {
		return fmt.Errorf("failed to seed client info: %w", err)
	}

	for _, t := range types {
		if !fieldsync.IsKnownEntityType(t) {
			return fmt.Errorf("unknown entity type %q", t)
		}
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %q (
				entity_id    TEXT PRIMARY KEY,
				payload      TEXT NOT NULL,
				sync_version INTEGER NOT NULL
			)`, t)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create replica table %s: %w", t, err)
		}
	}
	return nil
}

// LastVersion returns the replica's last applied server version.
func (c *Client) LastVersion(ctx context.Context) (int64, error) {
	var version int64
	err := c.DB.QueryRowContext(ctx,
		`SELECT last_version FROM _fieldsync_client_info WHERE id = 1`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read last version: %w", err)
	}
	return version, nil
}
