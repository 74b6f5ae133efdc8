// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory ChangeStore for tests that don't need PostgreSQL.
type memStore struct {
	mu                sync.Mutex
	entries           []ChangeLogEntry
	nextVersion       int64
	changesSinceCalls int
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) Append(_ context.Context, entry *ChangeLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextVersion++
	entry.SyncVersion = m.nextVersion
	entry.Timestamp = time.Now()
	m.entries = append(m.entries, *entry)
	return entry.SyncVersion, nil
}

func (m *memStore) ChangesSince(_ context.Context, version int64, types []string) ([]ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changesSinceCalls++

	if len(types) == 0 {
		types = EntityTypes
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var out []ChangeLogEntry
	for _, e := range m.entries {
		if e.SyncVersion > version && wanted[e.EntityType] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncVersion < out[j].SyncVersion })
	if len(out) > MaxDeltaChanges {
		out = out[:MaxDeltaChanges]
	}
	if out == nil {
		out = []ChangeLogEntry{}
	}
	return out, nil
}

func (m *memStore) CurrentVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextVersion, nil
}

func (m *memStore) Metadata(_ context.Context) (map[string]TypeVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := make(map[string]TypeVersion)
	for _, e := range m.entries {
		tv := meta[e.EntityType]
		if e.SyncVersion > tv.Version {
			meta[e.EntityType] = TypeVersion{Key: e.EntityType, Version: e.SyncVersion, UpdatedAt: e.Timestamp}
		}
	}
	return meta, nil
}

func (m *memStore) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changesSinceCalls
}

// memRegistry is an in-memory AgentRegistry for tests.
type memRegistry struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	watermarks map[string]int64
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		seen:       make(map[string]time.Time),
		watermarks: make(map[string]int64),
	}
}

func (m *memRegistry) TouchAgent(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[agentID] = time.Now()
	return nil
}

func (m *memRegistry) ActiveAgents(_ context.Context, within time.Duration) ([]AgentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var agents []AgentInfo
	for id, at := range m.seen {
		if time.Since(at) <= within {
			agents = append(agents, AgentInfo{
				AgentID:           id,
				LastSeen:          at,
				LastSyncedVersion: m.watermarks[id],
			})
		}
	}
	return agents, nil
}

func (m *memRegistry) AgentWatermark(_ context.Context, agentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[agentID], nil
}

func (m *memRegistry) RecordAgentSync(_ context.Context, agentID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version > m.watermarks[agentID] {
		m.watermarks[agentID] = version
	}
	m.seen[agentID] = time.Now()
	return nil
}
