// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var transmissionTables = []string{TableTransmission}

// EnqueueTransmissions inserts one Queued row per filename, all inside one
// transaction (all-or-nothing). Re-enqueuing a filename replaces the
// existing row instead of duplicating it: repeated attempts on the same
// artifact are expected during resync, not errors.
func (s *Store) EnqueueTransmissions(ctx context.Context, instanceID int64, formID string, filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	return s.execTx(ctx, transmissionTables, func(tx *sql.Tx) error {
		for _, filename := range filenames {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO transmission (survey_instance_id, survey_id, filename, status)
				VALUES (?, ?, ?, ?)
			`, instanceID, formID, filename, int(TransmissionQueued)); err != nil {
				return fmt.Errorf("failed to enqueue transmission %s: %w", filename, err)
			}
		}
		return nil
	})
}

// MarkTransmissionInProgress records the start of an upload attempt.
func (s *Store) MarkTransmissionInProgress(ctx context.Context, id int64) error {
	return s.conditionalWrite(ctx, transmissionTables, `
		UPDATE transmission SET status = ?, start_date = ? WHERE _id = ?
	`, int(TransmissionInProgress), nowMillis(), id)
}

// MarkTransmissionSynced records a server acknowledgement. Start and end
// dates are stamped if still missing, covering artifacts that synced in one
// shot without an observed in-progress phase.
func (s *Store) MarkTransmissionSynced(ctx context.Context, id int64) error {
	now := nowMillis()
	return s.conditionalWrite(ctx, transmissionTables, `
		UPDATE transmission SET status = ?,
			start_date = COALESCE(start_date, ?),
			end_date = COALESCE(end_date, ?)
		WHERE _id = ?
	`, int(TransmissionSynced), now, now, id)
}

// MarkTransmissionFailed records a failed attempt. Failed is not terminal:
// the upload collaborator retries it on its own schedule; the queue only
// keeps the books.
func (s *Store) MarkTransmissionFailed(ctx context.Context, id int64) error {
	return s.conditionalWrite(ctx, transmissionTables, `
		UPDATE transmission SET status = ?, end_date = ? WHERE _id = ?
	`, int(TransmissionFailed), nowMillis(), id)
}

// ReconcileFailedTransmissions marks each filename Failed; filenames with no
// transmission row yet (artifacts found on disk after a crashed run, before
// any record existed) get a fresh row created directly in Failed state with
// the sentinel instance id.
func (s *Store) ReconcileFailedTransmissions(ctx context.Context, filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	now := nowMillis()
	return s.execTx(ctx, transmissionTables, func(tx *sql.Tx) error {
		for _, filename := range filenames {
			res, err := tx.ExecContext(ctx, `
				UPDATE transmission SET status = ?, end_date = ? WHERE filename = ?
			`, int(TransmissionFailed), now, filename)
			if err != nil {
				return fmt.Errorf("failed to mark transmission failed: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			if affected > 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO transmission (survey_instance_id, survey_id, filename, status, end_date)
				VALUES (?, '', ?, ?, ?)
			`, SentinelInstanceID, filename, int(TransmissionFailed), now); err != nil {
				return fmt.Errorf("failed to create failed transmission for %s: %w", filename, err)
			}
		}
		return nil
	})
}

// UnsyncedTransmissionsExist reports whether any artifact still needs to
// reach the server. Destructive operations check this first so the caller
// can warn the user before data that was never uploaded is wiped.
func (s *Store) UnsyncedTransmissionsExist(ctx context.Context) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM transmission WHERE status IN (?, ?, ?))
	`, int(TransmissionQueued), int(TransmissionInProgress), int(TransmissionFailed)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check unsynced transmissions: %w", err)
	}
	return exists, nil
}

// ListPendingTransmissions returns every artifact the upload collaborator
// still has work to do on (queued, in progress, or awaiting retry).
func (s *Store) ListPendingTransmissions(ctx context.Context) ([]Transmission, error) {
	return s.listTransmissions(ctx, transmissionSelect+pendingWhere+` ORDER BY _id`)
}

// ListTransmissionsForForm returns pending artifacts belonging to one form.
func (s *Store) ListTransmissionsForForm(ctx context.Context, formID string) ([]Transmission, error) {
	return s.listTransmissions(ctx,
		transmissionSelect+pendingWhere+` AND survey_id = ? ORDER BY _id`, formID)
}

// GetTransmission returns a transmission row by id, or nil when absent.
func (s *Store) GetTransmission(ctx context.Context, id int64) (*Transmission, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, transmissionSelect+` WHERE _id = ?`, id)
	t, err := scanTransmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const transmissionSelect = `
	SELECT _id, survey_instance_id, survey_id, filename, status, start_date, end_date
	FROM transmission
`

// Placeholder rows without a real filename (no extension dot) are excluded
// from upload work.
const pendingWhere = ` WHERE status IN (0, 1, 3) AND filename LIKE '%.%'`

func (s *Store) listTransmissions(ctx context.Context, query string, args ...any) ([]Transmission, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transmissions: %w", err)
	}
	defer rows.Close()

	var transmissions []Transmission
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, err
		}
		transmissions = append(transmissions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transmissions: %w", err)
	}
	return transmissions, nil
}

func scanTransmission(row rowScanner) (Transmission, error) {
	var t Transmission
	var status int
	var start, end sql.NullInt64
	err := row.Scan(&t.ID, &t.InstanceID, &t.FormID, &t.Filename, &status, &start, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan transmission: %w", err)
	}
	t.Status = TransmissionStatus(status)
	t.StartDate = start.Int64
	t.EndDate = end.Int64
	return t, nil
}
