// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"log/slog"
)

// DeltaService answers "what changed since version V" and "what is the
// current version". Pure read path: safe for concurrent use by many clients.
type DeltaService struct {
	store  ChangeStore
	logger *slog.Logger
}

// NewDeltaService creates a delta service on top of a change store.
func NewDeltaService(store ChangeStore, logger *slog.Logger) *DeltaService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaService{store: store, logger: logger}
}

// GetVersion returns the current server version with per-type metadata.
func (d *DeltaService) GetVersion(ctx context.Context) (*VersionResponse, error) {
	meta, err := d.store.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync metadata: %w", err)
	}
	var server int64
	for _, tv := range meta {
		if tv.Version > server {
			server = tv.Version
		}
	}
	return &VersionResponse{Success: true, Version: server, Metadata: meta}, nil
}

// GetDelta returns the changes a client at clientVersion is missing for the
// given types. When the client is already at or past the server version the
// call short-circuits without querying the log. Empty types means the full
// entity set; unknown type tokens are passed through and match nothing.
func (d *DeltaService) GetDelta(ctx context.Context, clientVersion int64, types []string) (*DeltaResponse, error) {
	if clientVersion < 0 {
		return nil, fmt.Errorf("clientVersion must be >= 0, got %d", clientVersion)
	}
	if len(types) == 0 {
		types = EntityTypes
	}

	d.logger.Debug("Delta request", "client_version", clientVersion, "types", types)

	serverVersion, err := d.store.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	// Already-synced fast path: no log query.
	if clientVersion >= serverVersion {
		return &DeltaResponse{
			Success:       true,
			UpToDate:      true,
			ServerVersion: serverVersion,
			Changes:       []ChangeLogEntry{},
			Metadata: DeltaMetadata{
				ClientVersion: clientVersion,
				Types:         types,
			},
		}, nil
	}

	changes, err := d.store.ChangesSince(ctx, clientVersion, types)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes since %d: %w", clientVersion, err)
	}

	hasCritical := false
	for _, c := range changes {
		if c.IsCritical {
			hasCritical = true
			break
		}
	}

	d.logger.Debug("Delta response",
		"client_version", clientVersion,
		"server_version", serverVersion,
		"changes_count", len(changes),
		"has_critical", hasCritical)

	return &DeltaResponse{
		Success:       true,
		UpToDate:      false,
		ServerVersion: serverVersion,
		Changes:       changes,
		HasCritical:   hasCritical,
		Metadata: DeltaMetadata{
			ClientVersion: clientVersion,
			Types:         types,
			Count:         len(changes),
			Truncated:     len(changes) == MaxDeltaChanges,
		},
	}, nil
}
