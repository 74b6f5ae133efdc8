// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingEnqueuer records enqueue calls without running anything.
type countingEnqueuer struct {
	mu    sync.Mutex
	calls []struct{ jobType, agentID string }
}

func (c *countingEnqueuer) Enqueue(jobType, agentID string, _ map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, struct{ jobType, agentID string }{jobType, agentID})
	return "job-id", nil
}

func (c *countingEnqueuer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingEnqueuer) countOf(jobType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.jobType == jobType {
			n++
		}
	}
	return n
}

func newTestScheduler(enq JobEnqueuer, registry AgentRegistry, agentInterval, sharedInterval time.Duration) *Scheduler {
	return NewScheduler(enq, registry, &SchedulerConfig{
		AgentSyncInterval:  agentInterval,
		SharedSyncInterval: sharedInterval,
		AgentActiveWindow:  time.Hour,
	}, nil)
}

func TestScheduler_StartStopState(t *testing.T) {
	s := newTestScheduler(&countingEnqueuer{}, newMemRegistry(), time.Hour, time.Hour)

	require.False(t, s.IsRunning())
	s.Start()
	require.True(t, s.IsRunning())
	s.Stop()
	require.False(t, s.IsRunning())

	// Idempotent on repeated transitions.
	s.Stop()
	require.False(t, s.IsRunning())
	s.Start()
	s.Start()
	require.True(t, s.IsRunning())
	s.Stop()
}

func TestScheduler_EnqueuesOnBothCadences(t *testing.T) {
	enq := &countingEnqueuer{}
	registry := newMemRegistry()
	require.NoError(t, registry.TouchAgent(context.Background(), "u1"))
	require.NoError(t, registry.TouchAgent(context.Background(), "u2"))

	s := newTestScheduler(enq, registry, 25*time.Millisecond, 40*time.Millisecond)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return enq.countOf(JobFullSync) >= 2 && enq.countOf(JobSharedSync) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Agent jobs carry the agent identity; shared jobs do not.
	enq.mu.Lock()
	defer enq.mu.Unlock()
	for _, call := range enq.calls {
		switch call.jobType {
		case JobFullSync:
			require.Contains(t, []string{"u1", "u2"}, call.agentID)
		case JobSharedSync:
			require.Empty(t, call.agentID)
		}
	}
}

func TestScheduler_RepeatedStartDoesNotDuplicateTimers(t *testing.T) {
	enq := &countingEnqueuer{}
	s := newTestScheduler(enq, newMemRegistry(), time.Hour, 30*time.Millisecond)

	s.Start()
	s.Start()
	s.Start()
	defer s.Stop()

	// With a single shared ticker, ~100ms yields roughly 3 firings; a
	// duplicated ticker per extra Start would triple that.
	time.Sleep(110 * time.Millisecond)
	require.LessOrEqual(t, enq.countOf(JobSharedSync), 5)
	require.GreaterOrEqual(t, enq.countOf(JobSharedSync), 1)
}

func TestScheduler_StopSuppressesFurtherEnqueues(t *testing.T) {
	enq := &countingEnqueuer{}
	s := newTestScheduler(enq, newMemRegistry(), time.Hour, 20*time.Millisecond)

	s.Start()
	require.Eventually(t, func() bool { return enq.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := enq.count()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, after, enq.count(), "no automatic enqueues after stop")
}

func TestScheduler_Intervals(t *testing.T) {
	s := newTestScheduler(&countingEnqueuer{}, newMemRegistry(), 15*time.Minute, time.Hour)
	intervals := s.Intervals()
	require.EqualValues(t, (15 * time.Minute).Milliseconds(), intervals.AgentSyncMs)
	require.EqualValues(t, time.Hour.Milliseconds(), intervals.SharedSyncMs)
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	enq := &countingEnqueuer{}
	s := newTestScheduler(enq, newMemRegistry(), time.Hour, 20*time.Millisecond)

	s.Start()
	require.Eventually(t, func() bool { return enq.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	before := enq.count()
	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return enq.count() > before }, 2*time.Second, 5*time.Millisecond)
}
