// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"time"
)

// Database entity models for the fieldsync PostgreSQL schema

// ChangeLogEntry represents a row in fieldsync.change_log.
// Entries are immutable once written; SyncVersion is assigned by the store
// and is strictly increasing in commit order.
type ChangeLogEntry struct {
	SyncVersion int64           `db:"sync_version" json:"syncVersion"` // BIGSERIAL, assigned at write time
	EntityType  string          `db:"entity_type" json:"entityType"`   // customers, orders, products, prices
	EntityID    string          `db:"entity_id" json:"entityId"`       // Business key of the mutated entity
	Op          string          `db:"op" json:"operation"`             // create, update, delete
	Payload     json.RawMessage `db:"payload" json:"payload"`          // Serialized entity snapshot (null for delete)
	IsCritical  bool            `db:"is_critical" json:"isCritical"`   // Must be surfaced promptly (e.g. price changes)
	Timestamp   time.Time       `db:"ts" json:"ts"`                    // When the change was committed
}

// TypeVersion represents a row in fieldsync.sync_metadata, tracking the
// latest version written for one entity type.
type TypeVersion struct {
	Key       string    `db:"key" json:"key"`             // Entity type name
	Version   int64     `db:"version" json:"version"`     // Latest sync_version for this type
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// AgentInfo represents a row in fieldsync.agents. Agents are registered by
// their own authenticated delta traffic and targeted by scheduled sync jobs.
type AgentInfo struct {
	AgentID           string    `db:"agent_id" json:"agentId"`
	LastSeen          time.Time `db:"last_seen" json:"lastSeen"`
	LastSyncedVersion int64     `db:"last_synced_version" json:"lastSyncedVersion"`
	LastSyncedAt      time.Time `db:"last_synced_at" json:"lastSyncedAt"`
}

// Job is a unit of asynchronous sync work tracked by the queue.
type Job struct {
	ID          string            `json:"id"`      // Generator-produced, unique
	Type        string            `json:"type"`    // One of JobTypes
	AgentID     string            `json:"userId"`  // Owning agent ("" means shared data)
	Params      map[string]string `json:"params,omitempty"`
	State       string            `json:"state"`   // waiting, active, completed, failed, delayed, prioritized
	Error       string            `json:"error,omitempty"` // Failure detail for operator inspection
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   time.Time         `json:"startedAt,omitempty"`
	CompletedAt time.Time         `json:"completedAt,omitempty"`

	// prioritized records the lane the job was enqueued into, so a deferral
	// returns it to the same lane.
	prioritized bool
}

// LockEntry is the ephemeral record held per agent while one of its jobs is
// in flight.
type LockEntry struct {
	JobID string `json:"jobId"`
	Type  string `json:"type"`
}
