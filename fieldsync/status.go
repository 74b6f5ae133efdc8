// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

// StatusReporter is a read-only aggregation surface over the queue, the
// agent lock map, and the scheduler. It never mutates what it observes.
type StatusReporter struct {
	queue     *JobQueue
	locks     *AgentLock
	scheduler *Scheduler
}

// NewStatusReporter creates a reporter over the given components.
func NewStatusReporter(queue *JobQueue, locks *AgentLock, scheduler *Scheduler) *StatusReporter {
	return &StatusReporter{queue: queue, locks: locks, scheduler: scheduler}
}

// Report assembles a point-in-time view for monitoring. Each piece is an
// independent snapshot; mutual consistency across them is not guaranteed.
func (r *StatusReporter) Report() StatusReport {
	return StatusReport{
		Queue:            r.queue.Stats(),
		ActiveLocks:      r.locks.ActiveLocks(),
		SchedulerRunning: r.scheduler.IsRunning(),
		Intervals:        r.scheduler.Intervals(),
	}
}
