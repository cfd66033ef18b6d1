// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestStore opens a fresh in-memory store, unique per test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := DefaultConfig(fmt.Sprintf("file:%s?mode=memory", name))
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedForm creates a survey group, one form in it, and one data point,
// returning the group id, form id and record id.
func seedForm(t *testing.T, s *Store) (int64, string, string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveSurveyGroup(ctx, SurveyGroup{
		ID:                 1,
		Name:               "Water Points",
		RegistrationFormID: "form-reg",
		Monitored:          true,
	}))
	require.NoError(t, s.SaveSurvey(ctx, Survey{
		ID:       "form-1",
		GroupID:  1,
		Name:     "Household Survey",
		Version:  1.0,
		Language: "en",
	}))
	_, err := s.UpsertDataPoint(ctx, DataPoint{
		RecordID:     "rec-1",
		GroupID:      1,
		Name:         "Well 12",
		LastModified: 1000,
	})
	require.NoError(t, err)
	return 1, "form-1", "rec-1"
}

// seedInstance creates a form instance against the seeded form and record.
func seedInstance(t *testing.T, s *Store) *SurveyInstance {
	t.Helper()
	seedForm(t, s)
	inst, err := s.CreateInstance(context.Background(), "form-1", "rec-1")
	require.NoError(t, err)
	return inst
}

// stubNow replaces the store clock with a strictly increasing counter so
// timestamp assertions are deterministic. Returns a pointer to the counter.
func stubNow(t *testing.T, start int64) *int64 {
	t.Helper()
	old := nowMillis
	current := start
	nowMillis = func() int64 {
		current++
		return current
	}
	t.Cleanup(func() { nowMillis = old })
	return &current
}

func floatPtr(v float64) *float64 { return &v }
