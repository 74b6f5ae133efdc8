// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig holds the two sync cadences, fixed at construction.
type SchedulerConfig struct {
	AgentSyncInterval  time.Duration // Per-agent sync cadence (default: 15 minutes)
	SharedSyncInterval time.Duration // Shared-data sync cadence (default: 1 hour)
	AgentActiveWindow  time.Duration // How recently an agent must have been seen to be scheduled (default: 24 hours)
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		AgentSyncInterval:  15 * time.Minute,
		SharedSyncInterval: time.Hour,
		AgentActiveWindow:  24 * time.Hour,
	}
}

// JobEnqueuer is the slice of the queue API the scheduler needs.
type JobEnqueuer interface {
	Enqueue(jobType, agentID string, params map[string]string) (string, error)
}

// Scheduler periodically enqueues sync jobs on two independent cadences:
// one agent-scoped job per recently-seen agent, and one shared-data job.
// It only produces enqueue calls; job execution happens in the queue's
// worker pool, so a blocked job never stalls a timer.
type Scheduler struct {
	queue    JobEnqueuer
	registry AgentRegistry
	config   *SchedulerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(queue JobEnqueuer, registry AgentRegistry, config *SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		queue:    queue,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Start launches both timer loops. Calling Start while running is a no-op,
// so repeated starts never leak duplicate tickers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.agentSyncLoop(stopCh)
	go s.sharedSyncLoop(stopCh)

	s.logger.Info("Sync scheduler started",
		"agent_interval", s.config.AgentSyncInterval,
		"shared_interval", s.config.SharedSyncInterval)
}

// Stop cancels both timers and waits for the loops to exit. Future firings
// are suppressed; jobs already enqueued or running are not aborted.
// Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Sync scheduler stopped")
}

// IsRunning reports the scheduler's current state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Intervals returns the configured cadences in milliseconds.
func (s *Scheduler) Intervals() SchedulerIntervals {
	return SchedulerIntervals{
		AgentSyncMs:  s.config.AgentSyncInterval.Milliseconds(),
		SharedSyncMs: s.config.SharedSyncInterval.Milliseconds(),
	}
}

func (s *Scheduler) agentSyncLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.AgentSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.enqueueAgentJobs()
		}
	}
}

func (s *Scheduler) sharedSyncLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SharedSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := s.queue.Enqueue(JobSharedSync, "", nil); err != nil {
				s.logger.Error("Failed to enqueue shared sync job", "error", err)
			}
		}
	}
}

// enqueueAgentJobs enqueues one full sync per recently-seen agent.
func (s *Scheduler) enqueueAgentJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agents, err := s.registry.ActiveAgents(ctx, s.config.AgentActiveWindow)
	if err != nil {
		s.logger.Error("Failed to list active agents", "error", err)
		return
	}

	for _, agent := range agents {
		if _, err := s.queue.Enqueue(JobFullSync, agent.AgentID, nil); err != nil {
			s.logger.Error("Failed to enqueue agent sync job",
				"agent_id", agent.AgentID, "error", err)
		}
	}
	s.logger.Debug("Scheduled agent sync jobs", "agents", len(agents))
}
