// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"log/slog"
)

// Pruner removes change log entries at or below a version. Implemented by
// PGStore; split out so the executor stays testable against fakes.
type Pruner interface {
	PruneBefore(ctx context.Context, keepAfterVersion int64) (int64, error)
}

// ExecutorConfig holds configuration for the store-backed executor.
type ExecutorConfig struct {
	// RetainVersions is how many of the most recent log versions shared-sync
	// maintenance keeps. Clients further behind than this must re-hydrate.
	// 0 disables pruning.
	RetainVersions int64
}

// SyncExecutor performs sync job work against the change store:
// agent-scoped jobs refresh an agent's outstanding delta and advance its
// watermark; shared jobs run dataset-wide maintenance.
type SyncExecutor struct {
	store    ChangeStore
	registry AgentRegistry
	pruner   Pruner
	config   *ExecutorConfig
	logger   *slog.Logger
}

// NewSyncExecutor creates the executor. pruner may be nil to disable
// shared-sync log pruning.
func NewSyncExecutor(store ChangeStore, registry AgentRegistry, pruner Pruner, config *ExecutorConfig, logger *slog.Logger) *SyncExecutor {
	if config == nil {
		config = &ExecutorConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncExecutor{
		store:    store,
		registry: registry,
		pruner:   pruner,
		config:   config,
		logger:   logger,
	}
}

// Run dispatches one job. Called from queue workers with the per-agent lock
// already held and a timeout on ctx.
func (e *SyncExecutor) Run(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobSharedSync:
		return e.runSharedSync(ctx)
	case JobFullSync:
		return e.runAgentSync(ctx, job, EntityTypes)
	case JobSyncCustomers, JobSyncOrders, JobSyncProducts, JobSyncPrices:
		return e.runAgentSync(ctx, job, []string{entityTypeForJob(job.Type)})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}
}

// runAgentSync refreshes the agent's outstanding delta for the given types
// and advances its watermark to the server version it caught up to.
func (e *SyncExecutor) runAgentSync(ctx context.Context, job *Job, types []string) error {
	if job.AgentID == "" {
		return fmt.Errorf("job %s (%s) has no owning agent", job.ID, job.Type)
	}

	watermark, err := e.registry.AgentWatermark(ctx, job.AgentID)
	if err != nil {
		return err
	}
	serverVersion, err := e.store.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if watermark >= serverVersion {
		e.logger.Debug("Agent already up to date",
			"job_id", job.ID, "agent_id", job.AgentID, "version", watermark)
		return nil
	}

	synced := watermark
	for synced < serverVersion {
		changes, err := e.store.ChangesSince(ctx, synced, types)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			// No more changes for these types within the window.
			synced = serverVersion
			break
		}
		synced = changes[len(changes)-1].SyncVersion
		if len(changes) < MaxDeltaChanges {
			// Short page: everything up to the server version is covered.
			synced = serverVersion
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if err := e.registry.RecordAgentSync(ctx, job.AgentID, synced); err != nil {
		return err
	}
	e.logger.Info("Agent sync refreshed",
		"job_id", job.ID, "agent_id", job.AgentID, "from", watermark, "to", synced, "types", types)
	return nil
}

// runSharedSync performs dataset-wide maintenance: retention pruning of the
// change log, keeping the most recent RetainVersions versions.
func (e *SyncExecutor) runSharedSync(ctx context.Context) error {
	serverVersion, err := e.store.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	if e.pruner == nil || e.config.RetainVersions <= 0 {
		return nil
	}
	cutoff := serverVersion - e.config.RetainVersions
	if cutoff <= 0 {
		return nil
	}
	pruned, err := e.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 {
		e.logger.Info("Pruned change log", "cutoff", cutoff, "rows", pruned)
	}
	return nil
}
