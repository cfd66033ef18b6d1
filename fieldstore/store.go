// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

// Package fieldstore is the embedded relational store for offline-first
// field survey collection. It owns the on-device schema, the form submission
// and file transmission state machines, the repeated-question iteration
// numbering, and a watch layer that re-runs queries whenever the tables they
// read from change.
//
// The store is a single-writer SQLite database. Multiple components (UI,
// sync workers) may Open the same path independently; handles share one
// underlying connection which is physically closed only when the last handle
// closes.
package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned for operations on a handle after Close.
var ErrStoreClosed = errors.New("fieldstore: store is closed")

// sharedDB is the per-path state shared by every open handle: the physical
// connection, the write serialization lock, and the watch hub.
type sharedDB struct {
	db      *sql.DB
	writeMu sync.Mutex
	hub     *watchHub
	refs    int
}

var openDBs = struct {
	mu sync.Mutex
	m  map[string]*sharedDB
}{m: make(map[string]*sharedDB)}

// Store is one logical handle onto the survey database. Handles are cheap;
// open one per unit of work and close it when done.
type Store struct {
	cfg    *Config
	shared *sharedDB
	db     *sql.DB
	logger *slog.Logger
	closed atomic.Bool
}

// Open returns a handle onto the database at cfg.Path, creating or migrating
// the schema as needed. Opening an already-open path increments a reference
// count and reuses the existing connection; the file handle is closed when
// the last Store for the path is closed.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	openDBs.mu.Lock()
	defer openDBs.mu.Unlock()

	if shared, ok := openDBs.m[cfg.Path]; ok {
		shared.refs++
		return &Store{cfg: cfg, shared: shared, db: shared.db, logger: logger}, nil
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}
	// Single logical writer; one connection also keeps :memory: databases
	// alive for the lifetime of the handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(context.Background(), db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	shared := &sharedDB{db: db, hub: newWatchHub(logger), refs: 1}
	openDBs.m[cfg.Path] = shared
	logger.Info("Opened field store", "path", cfg.Path, "schema_version", schemaVersion)
	return &Store{cfg: cfg, shared: shared, db: db, logger: logger}, nil
}

func applyPragmas(db *sql.DB, cfg *Config) error {
	pragmas := []string{
		fmt.Sprintf(`PRAGMA busy_timeout = %d`, cfg.BusyTimeout.Milliseconds()),
	}
	if cfg.WALMode {
		pragmas = append(pragmas, `PRAGMA journal_mode = WAL`)
	}
	if cfg.ForeignKeys {
		pragmas = append(pragmas, `PRAGMA foreign_keys = ON`)
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", stmt, err)
		}
	}
	return nil
}

// Close releases this handle. The underlying connection (and the watch hub)
// is torn down only when the last handle for the path closes. Close is
// idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	openDBs.mu.Lock()
	defer openDBs.mu.Unlock()

	s.shared.refs--
	if s.shared.refs > 0 {
		return nil
	}
	delete(openDBs.m, s.cfg.Path)
	s.shared.hub.close()
	if err := s.shared.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Info("Closed field store", "path", s.cfg.Path)
	return nil
}

// runTx executes fn inside a write transaction. Writes are serialized by a
// per-database mutex; an error from fn aborts every statement in the
// transaction.
func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	s.shared.writeMu.Lock()
	defer s.shared.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execTx runs fn like runTx and, after a successful commit, notifies watch
// subscriptions reading from the given tables. Notification happens once per
// transaction so subscribers only ever observe its net effect.
func (s *Store) execTx(ctx context.Context, tables []string, fn func(tx *sql.Tx) error) error {
	if err := s.runTx(ctx, fn); err != nil {
		return err
	}
	s.shared.hub.invalidate(tables...)
	return nil
}

// invalidate is used by conditional writes that bypass execTx so they can
// skip notification when no row actually changed.
func (s *Store) invalidate(tables ...string) {
	s.shared.hub.invalidate(tables...)
}

// nowMillis is stubbed in tests that need deterministic timestamps.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}
