// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func countResponses(t *testing.T, s *Store, instanceID int64) func(ctx context.Context) (int, error) {
	t.Helper()
	return func(ctx context.Context) (int, error) {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM response WHERE survey_instance_id = ?`, instanceID).Scan(&n)
		return n, err
	}
}

func TestWatchEmitsInitialResult(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)
	ctx := context.Background()

	_, err := store.SetResponse(ctx, Response{InstanceID: inst.ID, QuestionID: "q1", Answer: "v"})
	require.NoError(t, err)

	watch, stop, err := Watch(ctx, store, responseTables, countResponses(t, store, inst.ID))
	require.NoError(t, err)
	defer stop()

	r := <-watch
	require.NoError(t, r.Err)
	require.Equal(t, 1, r.Value, "current state arrives without any write happening")
}

func TestWatchReEmitsAfterWrite(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)
	ctx := context.Background()

	watch, stop, err := Watch(ctx, store, responseTables, countResponses(t, store, inst.ID))
	require.NoError(t, err)
	defer stop()
	<-watch

	_, err = store.SetResponse(ctx, Response{InstanceID: inst.ID, QuestionID: "q1", Answer: "v"})
	require.NoError(t, err)

	r := <-watch
	require.NoError(t, r.Err)
	require.Equal(t, 1, r.Value)
}

func TestWatchIgnoresUnrelatedTables(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)
	ctx := context.Background()

	watch, stop, err := Watch(ctx, store, responseTables, countResponses(t, store, inst.ID))
	require.NoError(t, err)
	defer stop()
	<-watch

	_, err = store.UpsertDataPoint(ctx, DataPoint{RecordID: "rec-x", GroupID: 1, Name: "X"})
	require.NoError(t, err)

	select {
	case r := <-watch:
		t.Fatalf("unexpected emission for unrelated table write: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchCoalescesBursts(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)
	ctx := context.Background()

	watch, stop, err := Watch(ctx, store, responseTables, countResponses(t, store, inst.ID))
	require.NoError(t, err)
	defer stop()
	<-watch

	// A burst of writes lands while nobody is reading. With one re-run in
	// flight and one invalidation slot, at most two emissions can follow.
	const writes = 10
	for i := 0; i < writes; i++ {
		_, err := store.AppendIterationResponse(ctx, Response{
			InstanceID: inst.ID, QuestionID: "q1", Answer: "v",
		})
		require.NoError(t, err)
	}

	emissions := 0
	var last WatchResult[int]
	for {
		select {
		case r := <-watch:
			emissions++
			last = r
		case <-time.After(200 * time.Millisecond):
			require.GreaterOrEqual(t, emissions, 1)
			require.LessOrEqual(t, emissions, 2,
				"burst of %d writes must coalesce, got %d emissions", writes, emissions)
			require.NoError(t, last.Err)
			require.Equal(t, writes, last.Value, "last emission reflects the net effect")
			return
		}
	}
}

func TestWatchStopClosesChannelAndIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)

	watch, stop, err := Watch(context.Background(), store, responseTables,
		countResponses(t, store, inst.ID))
	require.NoError(t, err)
	<-watch

	stop()
	stop() // second call is a no-op

	_, open := <-watch
	require.False(t, open, "channel closes when the subscription ends")
}

func TestWatchEndsOnContextCancel(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	watch, stop, err := Watch(ctx, store, responseTables, countResponses(t, store, inst.ID))
	require.NoError(t, err)
	defer stop()
	<-watch

	cancel()
	_, open := <-watch
	require.False(t, open)
}

func TestWatchEndsOnStoreClose(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)

	watch, stop, err := Watch(context.Background(), store, responseTables,
		countResponses(t, store, inst.ID))
	require.NoError(t, err)
	defer stop()
	<-watch

	require.NoError(t, store.Close())

	_, open := <-watch
	require.False(t, open, "closing the last handle ends every subscription")

	_, _, err = Watch(context.Background(), store, responseTables,
		countResponses(t, store, inst.ID))
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestWatchSurvivesQueryError(t *testing.T) {
	store := openTestStore(t)
	inst := seedInstance(t, store)
	ctx := context.Background()

	queryErr := errors.New("boom")
	fail := true
	watch, stop, err := Watch(ctx, store, responseTables,
		func(ctx context.Context) (int, error) {
			if fail {
				return 0, queryErr
			}
			return countResponses(t, store, inst.ID)(ctx)
		})
	require.NoError(t, err)
	defer stop()

	r := <-watch
	require.ErrorIs(t, r.Err, queryErr, "query errors are delivered, not fatal")

	fail = false
	_, err = store.SetResponse(ctx, Response{InstanceID: inst.ID, QuestionID: "q1", Answer: "v"})
	require.NoError(t, err)

	r = <-watch
	require.NoError(t, r.Err)
	require.Equal(t, 1, r.Value)
}
