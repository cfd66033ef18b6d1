// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMigrateCreatesAllTables(t *testing.T) {
	store := openTestStore(t)

	tables := []string{
		TableSurveyGroup, TableSurvey, TableSurveyInstance, TableResponse,
		TableDataPoint, TableTransmission, TableLanguagePreference, TableDownloadCursor,
	}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).
			Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
	}

	var version int
	require.NoError(t, store.db.QueryRow(`PRAGMA user_version`).Scan(&version))
	require.Equal(t, schemaVersion, version)
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, migrate(context.Background(), store.db, discardLogger()))
	require.NoError(t, migrate(context.Background(), store.db, discardLogger()))

	var version int
	require.NoError(t, store.db.QueryRow(`PRAGMA user_version`).Scan(&version))
	require.Equal(t, schemaVersion, version)
}

func TestMigrateRecoversFromPartialUpgrade(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:partial_upgrade?mode=memory")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, migrate(ctx, db, discardLogger()))

	// Simulate a crash between applying v3's DDL and bumping user_version:
	// the column exists but the version still says 2.
	_, err = db.Exec(`PRAGMA user_version = 2`)
	require.NoError(t, err)

	require.NoError(t, migrate(ctx, db, discardLogger()),
		"re-running a half-applied migration must no-op, not fail")

	var version int
	require.NoError(t, db.QueryRow(`PRAGMA user_version`).Scan(&version))
	require.Equal(t, schemaVersion, version)
}

func TestMigrateRejectsNewerDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:newer_schema?mode=memory")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	defer db.Close()

	_, err = db.Exec(`PRAGMA user_version = 99`)
	require.NoError(t, err)

	err = migrate(context.Background(), db, discardLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "newer than supported")
}
