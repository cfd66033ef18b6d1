// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is stored in PRAGMA user_version and checked at every open.
const schemaVersion = 3

// Table names, used as watch-invalidation keys.
const (
	TableSurveyGroup        = "survey_group"
	TableSurvey             = "survey"
	TableSurveyInstance     = "survey_instance"
	TableResponse           = "response"
	TableDataPoint          = "data_point"
	TableTransmission       = "transmission"
	TableLanguagePreference = "language_preference"
	TableDownloadCursor     = "download_cursor"
)

// migrations upgrade the on-disk schema one version at a time. Each entry is
// additive and safe to re-run: statements use IF NOT EXISTS or probe column
// presence first, so a migration interrupted between apply and version bump
// no-ops on the next open instead of failing.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	migrateToV1,
	migrateToV2,
	migrateToV3,
}

// migrate brings the database from its stored user_version to schemaVersion.
// A migration failure is fatal to Open; no partial recovery is attempted.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}
		if err := migrations[v](ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to migrate schema from version %d: %w", v, err)
		}
		// PRAGMA does not accept bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to bump schema version to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration to version %d: %w", v+1, err)
		}
		logger.Info("Migrated schema", "from", v, "to", v+1)
	}
	return nil
}

// migrateToV1 creates the base tables.
func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS survey_group (
			survey_group_id    INTEGER PRIMARY KEY,
			name               TEXT NOT NULL,
			register_survey_id TEXT NOT NULL DEFAULT '',
			monitored          INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS survey (
			survey_id       TEXT PRIMARY KEY ON CONFLICT REPLACE,
			survey_group_id INTEGER NOT NULL,
			name            TEXT NOT NULL,
			version         REAL NOT NULL DEFAULT 0,
			language        TEXT NOT NULL DEFAULT '',
			deleted         INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS survey_instance (
			_id            INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid           TEXT NOT NULL UNIQUE,
			survey_id      TEXT NOT NULL,
			record_id      TEXT,
			user_id        TEXT NOT NULL DEFAULT '',
			start_date     INTEGER,
			saved_date     INTEGER,
			submitted_date INTEGER,
			exported_date  INTEGER,
			sync_date      INTEGER,
			duration       INTEGER NOT NULL DEFAULT 0,
			status         INTEGER NOT NULL DEFAULT 0,
			version        REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS response (
			_id                INTEGER PRIMARY KEY AUTOINCREMENT,
			survey_instance_id INTEGER NOT NULL
				REFERENCES survey_instance(_id) ON DELETE CASCADE,
			question_id        TEXT NOT NULL,
			answer             TEXT NOT NULL DEFAULT '',
			type               TEXT NOT NULL DEFAULT '',
			include            INTEGER NOT NULL DEFAULT 1,
			filename           TEXT NOT NULL DEFAULT '',
			iteration          INTEGER NOT NULL DEFAULT -1
		)`,

		`CREATE TABLE IF NOT EXISTS data_point (
			record_id       TEXT PRIMARY KEY,
			survey_group_id INTEGER NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			latitude        REAL,
			longitude       REAL,
			last_modified   INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS transmission (
			_id                INTEGER PRIMARY KEY AUTOINCREMENT,
			survey_instance_id INTEGER NOT NULL,
			survey_id          TEXT NOT NULL DEFAULT '',
			filename           TEXT NOT NULL UNIQUE ON CONFLICT REPLACE,
			status             INTEGER NOT NULL DEFAULT 0,
			start_date         INTEGER,
			end_date           INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS language_preference (
			survey_group_id INTEGER NOT NULL,
			language        TEXT NOT NULL,
			PRIMARY KEY (survey_group_id, language) ON CONFLICT REPLACE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_response_instance
			ON response(survey_instance_id, question_id)`,
		`CREATE INDEX IF NOT EXISTS idx_instance_record
			ON survey_instance(record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transmission_status
			ON transmission(status)`,
		`CREATE INDEX IF NOT EXISTS idx_data_point_group
			ON data_point(survey_group_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create base schema: %w", err)
		}
	}
	return nil
}

// migrateToV2 adds the viewed flags used for unread badges.
func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	for _, target := range []struct {
		table  string
		column string
	}{
		{"survey_group", "viewed"},
		{"data_point", "viewed"},
	} {
		ok, err := tableHasColumn(ctx, tx, target.table, target.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s INTEGER NOT NULL DEFAULT 0`,
			target.table, target.column)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", target.table, target.column, err)
		}
	}
	return nil
}

// migrateToV3 adds the submitter identity column and the resumable download
// cursor table.
func migrateToV3(ctx context.Context, tx *sql.Tx) error {
	ok, err := tableHasColumn(ctx, tx, "survey_instance", "submitter")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := tx.ExecContext(ctx,
			`ALTER TABLE survey_instance ADD COLUMN submitter TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add survey_instance.submitter: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS download_cursor (
		survey_id TEXT PRIMARY KEY ON CONFLICT REPLACE,
		cursor    TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		return fmt.Errorf("failed to create download_cursor: %w", err)
	}
	return nil
}

// tableHasColumn probes PRAGMA table_info so migrations can no-op instead of
// failing when a column already exists.
func tableHasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to iterate table info for %s: %w", table, err)
	}
	return false, nil
}
