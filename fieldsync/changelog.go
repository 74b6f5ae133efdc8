// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeStore is the read/write surface of the versioned change log.
// PGStore is the production implementation; tests may substitute fakes.
type ChangeStore interface {
	// Append writes one immutable entry and returns the sync version the
	// store assigned to it. Version assignment is linearizable: two
	// concurrent appends never receive the same version, and version order
	// reflects commit order.
	Append(ctx context.Context, entry *ChangeLogEntry) (int64, error)

	// ChangesSince returns entries with sync_version > version and
	// entity_type in types, ascending by sync_version, capped at
	// MaxDeltaChanges rows. Unknown type tokens match nothing.
	ChangesSince(ctx context.Context, version int64, types []string) ([]ChangeLogEntry, error)

	// CurrentVersion returns the max version across all entity types,
	// 0 when the log is empty.
	CurrentVersion(ctx context.Context) (int64, error)

	// Metadata returns the per-type version map.
	Metadata(ctx context.Context) (map[string]TypeVersion, error)
}

// AgentRegistry tracks known field agents and their sync watermarks.
type AgentRegistry interface {
	// TouchAgent records that an agent was seen now, creating it on first contact.
	TouchAgent(ctx context.Context, agentID string) error

	// ActiveAgents lists agents seen within the given window.
	ActiveAgents(ctx context.Context, within time.Duration) ([]AgentInfo, error)

	// AgentWatermark returns the last version an agent-scoped sync job
	// recorded for the agent (0 for unknown agents).
	AgentWatermark(ctx context.Context, agentID string) (int64, error)

	// RecordAgentSync advances the agent's watermark after a successful sync job.
	RecordAgentSync(ctx context.Context, agentID string, version int64) error
}

// PGStore implements ChangeStore and AgentRegistry on PostgreSQL.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates the store and initializes the fieldsync schema idempotently.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize fieldsync schema: %w", err)
	}
	return s, nil
}

// Pool returns the underlying connection pool for advanced callers.
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

// appendLockID is the advisory lock key that serializes append commits.
const appendLockID = 824861902

// Append inserts the entry and advances the per-type metadata in a single
// transaction. Serialization failures are retried.
//
// The transaction takes a global advisory lock before the insert so that
// commit order always matches sync_version order. Without it, two concurrent
// appends could commit in the opposite order of their BIGSERIAL versions; a
// reader polling in that window would see the later version first, advance
// its watermark past the earlier one, and never receive that entry.
func (s *PGStore) Append(ctx context.Context, entry *ChangeLogEntry) (int64, error) {
	if !IsKnownEntityType(entry.EntityType) {
		return 0, fmt.Errorf("unknown entity type %q", entry.EntityType)
	}
	switch entry.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return 0, fmt.Errorf("unknown operation %q", entry.Op)
	}

	var version int64
	var ts time.Time
	err := withTxRetry(ctx, 3, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
				return fmt.Errorf("failed to acquire append lock: %w", err)
			}

			err := tx.QueryRow(ctx, `
				INSERT INTO fieldsync.change_log (entity_type, entity_id, op, payload, is_critical)
				VALUES (@entity_type, @entity_id, @op, @payload, @is_critical)
				RETURNING sync_version, ts`,
				pgx.NamedArgs{
					"entity_type": entry.EntityType,
					"entity_id":   entry.EntityID,
					"op":          entry.Op,
					"payload":     entry.Payload,
					"is_critical": entry.IsCritical,
				},
			).Scan(&version, &ts)
			if err != nil {
				return fmt.Errorf("failed to insert change log entry: %w", err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO fieldsync.sync_metadata (key, version, updated_at)
				VALUES (@key, @version, now())
				ON CONFLICT (key) DO UPDATE
				SET version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
				WHERE fieldsync.sync_metadata.version < EXCLUDED.version`,
				pgx.NamedArgs{"key": entry.EntityType, "version": version},
			)
			if err != nil {
				return fmt.Errorf("failed to update sync metadata: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	entry.SyncVersion = version
	entry.Timestamp = ts
	return version, nil
}

// ChangesSince returns the ordered, capped slice of entries after the given version.
func (s *PGStore) ChangesSince(ctx context.Context, version int64, types []string) ([]ChangeLogEntry, error) {
	if len(types) == 0 {
		types = EntityTypes
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sync_version, entity_type, entity_id, op, payload, is_critical, ts
		FROM fieldsync.change_log
		WHERE sync_version > $1
		  AND entity_type = ANY($2)
		ORDER BY sync_version
		LIMIT $3`,
		version, types, MaxDeltaChanges,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	changes := []ChangeLogEntry{}
	for rows.Next() {
		var e ChangeLogEntry
		if err := rows.Scan(&e.SyncVersion, &e.EntityType, &e.EntityID, &e.Op, &e.Payload, &e.IsCritical, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		changes = append(changes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read change log rows: %w", err)
	}
	return changes, nil
}

// CurrentVersion returns the max version across all entity types.
func (s *PGStore) CurrentVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM fieldsync.sync_metadata`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Metadata returns the per-type version map.
func (s *PGStore) Metadata(ctx context.Context) (map[string]TypeVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, version, updated_at FROM fieldsync.sync_metadata ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]TypeVersion)
	for rows.Next() {
		var tv TypeVersion
		if err := rows.Scan(&tv.Key, &tv.Version, &tv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync metadata: %w", err)
		}
		meta[tv.Key] = tv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync metadata rows: %w", err)
	}
	return meta, nil
}

// PruneBefore deletes log entries with sync_version <= keepAfterVersion and
// returns the number of rows removed. Used by shared-sync maintenance to
// bound log growth; per-type metadata is untouched so version numbers keep
// advancing from where they were.
func (s *PGStore) PruneBefore(ctx context.Context, keepAfterVersion int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fieldsync.change_log WHERE sync_version <= $1`,
		keepAfterVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune change log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchAgent upserts the agent's last_seen timestamp.
func (s *PGStore) TouchAgent(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fieldsync.agents (agent_id, last_seen)
		VALUES (@agent_id, now())
		ON CONFLICT (agent_id) DO UPDATE SET last_seen = now()`,
		pgx.NamedArgs{"agent_id": agentID},
	)
	if err != nil {
		return fmt.Errorf("failed to touch agent %s: %w", agentID, err)
	}
	return nil
}

// ActiveAgents lists agents seen within the given window, most recent first.
func (s *PGStore) ActiveAgents(ctx context.Context, within time.Duration) ([]AgentInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, last_seen, last_synced_version, last_synced_at
		FROM fieldsync.agents
		WHERE last_seen > now() - ($1 * interval '1 second')
		ORDER BY last_seen DESC`,
		within.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active agents: %w", err)
	}
	defer rows.Close()

	var agents []AgentInfo
	for rows.Next() {
		var a AgentInfo
		if err := rows.Scan(&a.AgentID, &a.LastSeen, &a.LastSyncedVersion, &a.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agent rows: %w", err)
	}
	return agents, nil
}

// AgentWatermark returns the last synced version recorded for the agent.
func (s *PGStore) AgentWatermark(ctx context.Context, agentID string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(last_synced_version), 0) FROM fieldsync.agents WHERE agent_id = $1`,
		agentID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get agent watermark: %w", err)
	}
	return version, nil
}

// RecordAgentSync advances the agent's watermark. The watermark never moves
// backwards, so a stale job completing late cannot regress it.
func (s *PGStore) RecordAgentSync(ctx context.Context, agentID string, version int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fieldsync.agents (agent_id, last_seen, last_synced_version, last_synced_at)
		VALUES (@agent_id, now(), @version, now())
		ON CONFLICT (agent_id) DO UPDATE
		SET last_synced_version = GREATEST(fieldsync.agents.last_synced_version, EXCLUDED.last_synced_version),
		    last_synced_at = now()`,
		pgx.NamedArgs{"agent_id": agentID, "version": version},
	)
	if err != nil {
		return fmt.Errorf("failed to record agent sync: %w", err)
	}
	return nil
}
