// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownJobType is returned by Enqueue for job types outside the
// enumerated set. No job is created in that case.
var ErrUnknownJobType = errors.New("unknown sync job type")

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("sync job queue is closed")

// Executor performs the actual sync work for one job. Implementations may
// block on network or database I/O; the queue isolates that from the
// scheduler and the delta read path. Run must respect ctx cancellation —
// the queue enforces a per-job timeout through it.
type Executor interface {
	Run(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *Job) error

func (f ExecutorFunc) Run(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// QueueConfig holds configuration for the sync job queue.
type QueueConfig struct {
	Workers      int           // Worker pool size (default 2)
	JobTimeout   time.Duration // Per-job execution timeout (default 5m)
	RequeueDelay time.Duration // Delay before re-offering a lock-contended job (default 2s)
	HistoryLimit int           // Terminal jobs retained for stats/monitoring (default 200)
}

// DefaultQueueConfig returns the default queue configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Workers:      2,
		JobTimeout:   5 * time.Minute,
		RequeueDelay: 2 * time.Second,
		HistoryLimit: 200,
	}
}

// JobQueue is an in-memory queue of asynchronous sync jobs drained by a
// bounded worker pool. Workers acquire the per-agent lock before running a
// job; a job whose agent is busy is moved to the delayed state and
// re-offered after RequeueDelay rather than run concurrently.
type JobQueue struct {
	executor Executor
	locks    *AgentLock
	config   *QueueConfig
	logger   *slog.Logger

	mu          sync.Mutex
	jobs        map[string]*Job
	waiting     []string // FIFO lane
	prioritized []string // Drained before waiting
	terminal    []string // Terminal job IDs in completion order, for history trimming
	wake        chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	started     bool
	closed      bool
}

// NewJobQueue creates a job queue. The executor is the external collaborator
// that performs the sync work; locks gates per-agent concurrency.
func NewJobQueue(executor Executor, locks *AgentLock, config *QueueConfig, logger *slog.Logger) *JobQueue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.RequeueDelay <= 0 {
		config.RequeueDelay = 2 * time.Second
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		executor: executor,
		locks:    locks,
		config:   config,
		logger:   logger,
		jobs:     make(map[string]*Job),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once; subsequent calls are no-ops.
func (q *JobQueue) Start() {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(i)
	}
	q.logger.Debug("Sync job queue started", "workers", q.config.Workers)
}

// Close stops accepting jobs and waits for in-flight work to finish.
// Pending waiting jobs are not executed.
func (q *JobQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
	q.logger.Debug("Sync job queue stopped")
}

// Enqueue creates a job in the waiting state and returns its ID. Unknown job
// types are rejected without creating a job.
func (q *JobQueue) Enqueue(jobType, agentID string, params map[string]string) (string, error) {
	return q.enqueue(jobType, agentID, params, false)
}

// EnqueuePrioritized creates a job that workers claim ahead of the FIFO lane.
// Used for manually triggered syncs so they are not stuck behind scheduled work.
func (q *JobQueue) EnqueuePrioritized(jobType, agentID string, params map[string]string) (string, error) {
	return q.enqueue(jobType, agentID, params, true)
}

func (q *JobQueue) enqueue(jobType, agentID string, params map[string]string, prioritized bool) (string, error) {
	if !IsKnownJobType(jobType) {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if jobType == JobSharedSync {
		// Shared-data jobs have no owning agent.
		agentID = ""
	}

	job := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		AgentID:     agentID,
		Params:      params,
		State:       StateWaiting,
		CreatedAt:   time.Now(),
		prioritized: prioritized,
	}
	if prioritized {
		job.State = StatePrioritized
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.jobs[job.ID] = job
	if prioritized {
		q.prioritized = append(q.prioritized, job.ID)
	} else {
		q.waiting = append(q.waiting, job.ID)
	}
	q.mu.Unlock()

	q.logger.Debug("Enqueued sync job",
		"job_id", job.ID, "type", jobType, "agent_id", agentID, "prioritized", prioritized)
	q.signal()
	return job.ID, nil
}

// Stats returns a snapshot of job counts per state.
func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats QueueStats
	for _, job := range q.jobs {
		switch job.State {
		case StateWaiting:
			stats.Waiting++
		case StateActive:
			stats.Active++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		case StateDelayed:
			stats.Delayed++
		case StatePrioritized:
			stats.Prioritized++
		}
	}
	return stats
}

// Job returns a copy of the job with the given ID.
func (q *JobQueue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// signal wakes one idle worker without blocking.
func (q *JobQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// claimNext pops the next runnable job, prioritized lane first. The job is
// removed from its lane but keeps its queued state until the worker either
// activates or defers it.
func (q *JobQueue) claimNext() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var id string
	switch {
	case len(q.prioritized) > 0:
		id = q.prioritized[0]
		q.prioritized = q.prioritized[1:]
	case len(q.waiting) > 0:
		id = q.waiting[0]
		q.waiting = q.waiting[1:]
	default:
		return nil, false
	}

	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return job, true
}

func (q *JobQueue) workerLoop(worker int) {
	defer q.wg.Done()

	for {
		job, ok := q.claimNext()
		if !ok {
			select {
			case <-q.stopCh:
				return
			case <-q.wake:
				continue
			}
		}

		select {
		case <-q.stopCh:
			// Put the claim back so the job is not lost on a racing Close.
			q.requeue(job.ID)
			return
		default:
		}

		q.runJob(worker, job)
	}
}

// runJob executes one claimed job end to end: lock acquisition, state
// transitions, timeout enforcement, and guaranteed lock release.
func (q *JobQueue) runJob(worker int, job *Job) {
	lockID := job.AgentID
	if lockID == "" {
		lockID = SharedAgentID
	}

	if !q.locks.TryAcquire(lockID, job.ID, job.Type) {
		// Another job for this agent is in flight: defer, never run
		// concurrently. The job returns to its lane after RequeueDelay.
		q.deferJob(job)
		return
	}

	q.setActive(job.ID)
	q.logger.Info("Sync job started",
		"worker", worker, "job_id", job.ID, "type", job.Type, "agent_id", job.AgentID)

	ctx, cancel := context.WithTimeout(context.Background(), q.config.JobTimeout)
	err := func() (runErr error) {
		defer cancel()
		defer q.locks.Release(lockID)
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("sync job panicked: %v", r)
			}
		}()
		return q.executor.Run(ctx, job)
	}()

	if err != nil {
		q.setTerminal(job.ID, StateFailed, err)
		q.logger.Error("Sync job failed",
			"worker", worker, "job_id", job.ID, "type", job.Type, "agent_id", job.AgentID, "error", err)
		return
	}
	q.setTerminal(job.ID, StateCompleted, nil)
	q.logger.Info("Sync job completed",
		"worker", worker, "job_id", job.ID, "type", job.Type, "agent_id", job.AgentID)
}

// deferJob parks a lock-contended job in the delayed state and re-offers it
// after RequeueDelay.
func (q *JobQueue) deferJob(job *Job) {
	q.mu.Lock()
	job.State = StateDelayed
	q.mu.Unlock()

	q.logger.Debug("Sync job deferred, agent busy",
		"job_id", job.ID, "type", job.Type, "agent_id", job.AgentID)

	time.AfterFunc(q.config.RequeueDelay, func() {
		q.requeue(job.ID)
		q.signal()
	})
}

// requeue puts a delayed or reclaimed job back at the end of the lane it was
// enqueued into, so a deferred manual trigger keeps its priority over
// scheduled work.
func (q *JobQueue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || q.closed {
		return
	}
	if job.prioritized {
		job.State = StatePrioritized
		q.prioritized = append(q.prioritized, id)
		return
	}
	job.State = StateWaiting
	q.waiting = append(q.waiting, id)
}

func (q *JobQueue) setActive(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		job.State = StateActive
		job.StartedAt = time.Now()
	}
}

// setTerminal records the job's final state and trims terminal history
// beyond HistoryLimit so the jobs map stays bounded.
func (q *JobQueue) setTerminal(id, state string, execErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return
	}
	job.State = state
	job.CompletedAt = time.Now()
	if execErr != nil {
		job.Error = execErr.Error()
	}

	q.terminal = append(q.terminal, id)
	for len(q.terminal) > q.config.HistoryLimit {
		evict := q.terminal[0]
		q.terminal = q.terminal[1:]
		delete(q.jobs, evict)
	}
}
