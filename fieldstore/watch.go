// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WatchResult carries one emission of a watched query: either a fresh result
// set or the error the query run produced. A failed run does not end the
// subscription; the next invalidation re-runs the query.
type WatchResult[T any] struct {
	Value T
	Err   error
}

// watchHub fans write-commit invalidations out to active subscriptions.
// Each subscription holds a one-slot kick channel, so invalidations arriving
// while a re-run is still being delivered coalesce into a single re-run and
// subscribers never observe stale intermediate results.
type watchHub struct {
	mu     sync.Mutex
	subs   map[int64]*watchSub
	nextID int64
	closed bool

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

type watchSub struct {
	tables map[string]struct{}
	kick   chan struct{}
}

func newWatchHub(logger *slog.Logger) *watchHub {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	return &watchHub{
		subs:   make(map[int64]*watchSub),
		g:      g,
		ctx:    gctx,
		cancel: cancel,
		logger: logger,
	}
}

// invalidate wakes every subscription reading from any of the given tables.
// Sends are non-blocking: a subscription that already has a pending re-run
// queued absorbs the new invalidation into it.
func (h *watchHub) invalidate(tables ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		for _, table := range tables {
			if _, ok := sub.tables[table]; !ok {
				continue
			}
			select {
			case sub.kick <- struct{}{}:
			default:
			}
			break
		}
	}
}

func (h *watchHub) add(tables []string) (int64, *watchSub, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, false
	}
	h.nextID++
	id := h.nextID
	sub := &watchSub{
		tables: make(map[string]struct{}, len(tables)),
		kick:   make(chan struct{}, 1),
	}
	for _, t := range tables {
		sub.tables[t] = struct{}{}
	}
	h.subs[id] = sub
	return id, sub, true
}

func (h *watchHub) remove(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// close stops all subscriptions and waits for their goroutines to exit.
func (h *watchHub) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	_ = h.g.Wait()
}

// Watch subscribes to a query over the given tables. The query runs once
// immediately, then again after every committed write transaction that
// touched one of the tables. Results arrive on the returned channel, which
// is closed when the subscription ends.
//
// The subscription ends when ctx is cancelled, the returned cancel func is
// called (idempotent), or the store is fully closed. The query callback must
// only read; writes from inside a watch would deadlock on the store's write
// serialization.
func Watch[T any](ctx context.Context, s *Store, tables []string, query func(ctx context.Context) (T, error)) (<-chan WatchResult[T], context.CancelFunc, error) {
	if s.closed.Load() {
		return nil, nil, ErrStoreClosed
	}
	hub := s.shared.hub
	id, sub, ok := hub.add(tables)
	if !ok {
		return nil, nil, ErrStoreClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan WatchResult[T])

	hub.g.Go(func() error {
		defer close(out)
		defer hub.remove(id)

		emit := func() bool {
			value, err := query(subCtx)
			if err != nil {
				s.logger.Warn("Watch query failed", "tables", tables, "error", err)
			}
			select {
			case out <- WatchResult[T]{Value: value, Err: err}:
				return true
			case <-subCtx.Done():
				return false
			case <-hub.ctx.Done():
				return false
			}
		}

		// Initial result, emitted immediately upon subscription.
		if !emit() {
			return nil
		}
		for {
			select {
			case <-subCtx.Done():
				return nil
			case <-hub.ctx.Done():
				return nil
			case <-sub.kick:
				if !emit() {
					return nil
				}
			}
		}
	})

	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}
	return out, stop, nil
}
