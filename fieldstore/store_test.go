// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSharesConnectionPerPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.db")
	ctx := context.Background()

	cfg := DefaultConfig(path)
	cfg.Logger = discardLogger()

	first, err := Open(cfg)
	require.NoError(t, err)
	second, err := Open(cfg)
	require.NoError(t, err)
	require.Same(t, first.db, second.db, "same path shares one connection")

	// Writes through one handle are visible through the other.
	require.NoError(t, first.SaveSurveyGroup(ctx, SurveyGroup{ID: 1, Name: "G"}))
	g, err := second.GetSurveyGroup(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, g)

	// Closing one handle keeps the database alive for the other.
	require.NoError(t, first.Close())
	g, err = second.GetSurveyGroup(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, g)

	require.NoError(t, second.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestOperationsAfterCloseReturnErrStoreClosed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Close())

	_, err := store.GetSurveyGroup(ctx, 1)
	require.ErrorIs(t, err, ErrStoreClosed)
	err = store.SaveSurveyGroup(ctx, SurveyGroup{ID: 1, Name: "G"})
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.QueryDataPoints(ctx, 1, OrderByDate, QueryOptions{})
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestClosedHandleDoesNotAffectOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.db")
	cfg := DefaultConfig(path)
	cfg.Logger = discardLogger()

	first, err := Open(cfg)
	require.NoError(t, err)
	second, err := Open(cfg)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Close())
	_, err = first.GetSurveyGroup(context.Background(), 1)
	require.ErrorIs(t, err, ErrStoreClosed)

	// The surviving handle still works, including its watch hub.
	watch, stop, err := Watch(context.Background(), second, []string{TableSurveyGroup},
		func(ctx context.Context) ([]SurveyGroup, error) {
			return second.ListSurveyGroups(ctx)
		})
	require.NoError(t, err)
	defer stop()
	r := <-watch
	require.NoError(t, r.Err)
}

func TestReopenAfterFullCloseMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.db")
	cfg := DefaultConfig(path)
	cfg.Logger = discardLogger()
	ctx := context.Background()

	store, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, store.SaveSurveyGroup(ctx, SurveyGroup{ID: 1, Name: "G"}))
	require.NoError(t, store.Close())

	// Data persisted across a full close/reopen cycle.
	store, err = Open(cfg)
	require.NoError(t, err)
	defer store.Close()
	g, err := store.GetSurveyGroup(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Equal(t, "G", g.Name)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(&Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "path is required")
}
