// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsqlite

import (
	"context"
	"fmt"

	"github.com/fieldsync/go-fieldsync/fieldsync"
)

// applyChanges applies one delta page to the replica in a single transaction
// and advances the stored version to newVersion. The page is already ordered
// by sync version, so the last write for an entity within the page wins.
func (c *Client) applyChanges(ctx context.Context, changes []fieldsync.ChangeLogEntry, newVersion int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, change := range changes {
		if !fieldsync.IsKnownEntityType(change.EntityType) {
			// Types this replica doesn't track are skipped, not an error.
			continue
		}
		switch change.Op {
		case fieldsync.OpCreate, fieldsync.OpUpdate:
			stmt := fmt.Sprintf(`
				INSERT INTO %q (entity_id, payload, sync_version)
				VALUES (?, ?, ?)
				ON CONFLICT(entity_id) DO UPDATE SET
					payload = excluded.payload,
					sync_version = excluded.sync_version`, change.EntityType)
			if _, err := tx.ExecContext(ctx, stmt, change.EntityID, string(change.Payload), change.SyncVersion); err != nil {
				return fmt.Errorf("failed to upsert %s/%s: %w", change.EntityType, change.EntityID, err)
			}
		case fieldsync.OpDelete:
			stmt := fmt.Sprintf(`DELETE FROM %q WHERE entity_id = ?`, change.EntityType)
			if _, err := tx.ExecContext(ctx, stmt, change.EntityID); err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", change.EntityType, change.EntityID, err)
			}
		default:
			return fmt.Errorf("unknown operation %q for %s/%s", change.Op, change.EntityType, change.EntityID)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE _fieldsync_client_info
		SET last_version = ?, last_sync_at = strftime('%s','now')
		WHERE id = 1`, newVersion); err != nil {
		return fmt.Errorf("failed to advance replica version: %w", err)
	}

	return tx.Commit()
}
