// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// initializeSchema creates the required fieldsync tables if they don't exist.
func (s *PGStore) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
}

// initializeSchemaInTx creates the required tables within an existing transaction.
func (s *PGStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		// Dedicated schema keeps sync bookkeeping away from business tables
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS fieldsync`,

		// 1) Append-only ledger of entity mutations. BIGSERIAL assigns the
		// global sync version inside the insert's transaction, so version
		// order is consistent with commit order without a read-then-increment.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fieldsync.change_log (
			sync_version BIGSERIAL PRIMARY KEY,
			entity_type  TEXT      NOT NULL,
			entity_id    TEXT      NOT NULL,
			op           TEXT      NOT NULL CHECK (op IN ('create','update','delete')),
			payload      JSON,
			is_critical  BOOLEAN   NOT NULL DEFAULT FALSE,
			ts           TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT change_log_payload_by_op_chk
			CHECK ((op = 'delete' AND payload IS NULL) OR (op IN ('create','update') AND payload IS NOT NULL))
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS idx_change_log_type_version
			ON fieldsync.change_log(entity_type, sync_version)`,

		// 2) Per-type high-water marks; the global server version is the max
		// across all keys.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fieldsync.sync_metadata (
			key        TEXT   PRIMARY KEY,
			version    BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// 3) Agent registry: fed by authenticated delta traffic, read by the
		// scheduler, updated by agent-scoped sync jobs.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fieldsync.agents (
			agent_id            TEXT PRIMARY KEY,
			last_seen           TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_synced_version BIGINT      NOT NULL DEFAULT 0,
			last_synced_at      TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
		)`,
	}

	for _, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}
