// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

// REST/JSON models for HTTP API requests and responses

// VersionResponse is the body of GET /api/cache/version.
type VersionResponse struct {
	Success  bool                   `json:"success"`
	Version  int64                  `json:"version"`  // Max version across all entity types
	Metadata map[string]TypeVersion `json:"metadata"` // Per-type latest versions
}

// DeltaMetadata echoes request parameters and counts back to the client.
type DeltaMetadata struct {
	ClientVersion int64    `json:"clientVersion"` // Echoed request version
	Types         []string `json:"types"`         // Effective type filter
	Count         int      `json:"count"`         // Number of changes returned
	Truncated     bool     `json:"truncated"`     // True when the response hit the change cap
}

// DeltaResponse is the body of GET /api/cache/delta.
type DeltaResponse struct {
	Success       bool             `json:"success"`
	UpToDate      bool             `json:"upToDate"`
	ServerVersion int64            `json:"serverVersion"`
	Changes       []ChangeLogEntry `json:"changes"`
	HasCritical   bool             `json:"hasCritical"`
	Metadata      DeltaMetadata    `json:"metadata"`
}

// QueueStats holds a snapshot of job counts per state. Approximate under
// concurrent mutation; not a lock-held read of job internals.
type QueueStats struct {
	Waiting     int `json:"waiting"`
	Active      int `json:"active"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Delayed     int `json:"delayed"`
	Prioritized int `json:"prioritized"`
}

// StatsResponse is the body of GET /api/sync/stats.
type StatsResponse struct {
	Success bool       `json:"success"`
	Queue   QueueStats `json:"queue"`
}

// MonitoringResponse is the body of GET /api/sync/monitoring/status.
type MonitoringResponse struct {
	Success    bool                 `json:"success"`
	Queue      QueueStats           `json:"queue"`
	ActiveJobs map[string]LockEntry `json:"activeJobs"` // agent -> in-flight job
}

// SchedulerIntervals reports the two configured cadences in milliseconds.
type SchedulerIntervals struct {
	AgentSyncMs  int64 `json:"agentSyncMs"`
	SharedSyncMs int64 `json:"sharedSyncMs"`
}

// SchedulerStatusResponse is the body of GET /api/sync/auto-sync/status.
type SchedulerStatusResponse struct {
	Running   bool               `json:"running"`
	Intervals SchedulerIntervals `json:"intervals"`
}

// TriggerResponse is the body of POST /api/sync/trigger/{type}.
type TriggerResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// SuccessResponse is the generic `{success}` body for control endpoints.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusReport aggregates queue, lock, and scheduler state for monitoring.
type StatusReport struct {
	Queue            QueueStats           `json:"queue"`
	ActiveLocks      map[string]LockEntry `json:"activeLocks"`
	SchedulerRunning bool                 `json:"schedulerRunning"`
	Intervals        SchedulerIntervals   `json:"intervals"`
}
