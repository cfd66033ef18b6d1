// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
path: /data/survey.db
wal_mode: false
foreign_keys: true
busy_timeout: 30s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/data/survey.db", cfg.Path)
	require.False(t, cfg.WALMode)
	require.True(t, cfg.ForeignKeys)
	require.Equal(t, 30*time.Second, cfg.BusyTimeout)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `path: /data/survey.db`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	defaults := DefaultConfig("")
	require.Equal(t, defaults.WALMode, cfg.WALMode)
	require.Equal(t, defaults.ForeignKeys, cfg.ForeignKeys)
	require.Equal(t, defaults.BusyTimeout, cfg.BusyTimeout)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
path: /data/survey.db
busy_timeout: soon
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "busy_timeout")
}

func TestLoadConfigRequiresPath(t *testing.T) {
	path := writeConfig(t, `wal_mode: true`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "path is required")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
