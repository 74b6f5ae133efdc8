// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"sync"
)

// AgentLock serializes sync work per agent: at most one live entry per agent
// identity at a time. Agents run on resource-constrained devices; overlapping
// syncs for the same agent could duplicate writes or contend on the same
// local resources, so exclusivity is a correctness requirement.
//
// Scope is agent-wide, not per job type. The job type is retained in the
// entry for observability only.
type AgentLock struct {
	mu     sync.Mutex
	active map[string]LockEntry
}

// NewAgentLock creates an empty lock registry.
func NewAgentLock() *AgentLock {
	return &AgentLock{active: make(map[string]LockEntry)}
}

// TryAcquire claims the agent's lock for the given job. Returns false when
// another job already holds it.
func (l *AgentLock) TryAcquire(agentID, jobID, jobType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[agentID]; held {
		return false
	}
	l.active[agentID] = LockEntry{JobID: jobID, Type: jobType}
	return true
}

// Release frees the agent's lock. Idempotent: releasing an unheld lock is a
// no-op, so it is safe to call on every job exit path.
func (l *AgentLock) Release(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, agentID)
}

// Holder returns the entry currently holding the agent's lock, if any.
func (l *AgentLock) Holder(agentID string) (LockEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, held := l.active[agentID]
	return entry, held
}

// ActiveLocks returns a copied snapshot of the lock map for the status
// reporter. Callers must not treat it as live state.
func (l *AgentLock) ActiveLocks() map[string]LockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make(map[string]LockEntry, len(l.active))
	for agent, entry := range l.active {
		snapshot[agent] = entry
	}
	return snapshot
}
