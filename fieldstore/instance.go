// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldrover/go-fieldstore/internal/auth"
)

var instanceTables = []string{TableSurveyInstance}

// CreateInstance starts a new form submission against a record. The instance
// gets a fresh UUID, status Saved, and captures the form version current at
// creation time. User identity is taken from the context (internal/auth)
// when not set explicitly by a prior SyncInstance.
func (s *Store) CreateInstance(ctx context.Context, surveyID, recordID string) (*SurveyInstance, error) {
	now := nowMillis()
	inst := &SurveyInstance{
		UUID:      uuid.New().String(),
		SurveyID:  surveyID,
		RecordID:  recordID,
		StartDate: now,
		SavedDate: now,
		Status:    InstanceSaved,
	}
	if userID, ok := auth.GetUserID(ctx); ok {
		inst.UserID = userID
	}
	if submitter, ok := auth.GetSubmitter(ctx); ok {
		inst.Submitter = submitter
	}

	err := s.execTx(ctx, instanceTables, func(tx *sql.Tx) error {
		// Capture the form version in effect at submission time.
		var version sql.NullFloat64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM survey WHERE survey_id = ?`, surveyID).Scan(&version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read form version: %w", err)
		}
		inst.Version = version.Float64

		res, err := tx.ExecContext(ctx, `
			INSERT INTO survey_instance
				(uuid, survey_id, record_id, user_id, submitter, start_date, saved_date, duration, status, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		`, inst.UUID, inst.SurveyID, inst.RecordID, inst.UserID, inst.Submitter,
			inst.StartDate, inst.SavedDate, int(inst.Status), inst.Version)
		if err != nil {
			return fmt.Errorf("failed to insert survey instance: %w", err)
		}
		inst.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get instance id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// UpdateStatus moves an instance to a new lifecycle status and stamps the
// status-specific timestamp column. A request for a status this schema
// version does not recognize is a no-op, tolerating forward-compatible
// values written by newer versions.
func (s *Store) UpdateStatus(ctx context.Context, instanceID int64, status InstanceStatus) error {
	column, ok := status.timestampColumn()
	if !ok {
		s.logger.Debug("Ignoring transition to unknown instance status",
			"instance", instanceID, "status", int(status))
		return nil
	}
	query := fmt.Sprintf(`UPDATE survey_instance SET status = ?, %s = ? WHERE _id = ?`, column)
	return s.conditionalWrite(ctx, instanceTables, query, int(status), nowMillis(), instanceID)
}

// AddDuration accumulates fill time onto an instance. Once the form has been
// submitted the duration is frozen: re-viewing a submitted form must not
// double-count time, hence the submitted_date guard inside the UPDATE.
func (s *Store) AddDuration(ctx context.Context, instanceID int64, deltaMillis int64) error {
	return s.conditionalWrite(ctx, instanceTables, `
		UPDATE survey_instance SET duration = duration + ?
		WHERE _id = ? AND submitted_date IS NULL
	`, deltaMillis, instanceID)
}

// SyncInstance reconciles a server-originated or re-sent instance, keyed by
// UUID: an existing row is updated in place (duplicates during resync are
// expected, not errors), otherwise a new row is inserted. The status column
// never moves backwards. Returns the local instance id.
func (s *Store) SyncInstance(ctx context.Context, inst SurveyInstance) (int64, error) {
	var id int64
	err := s.execTx(ctx, instanceTables, func(tx *sql.Tx) error {
		var existingID int64
		var existingStatus int
		err := tx.QueryRowContext(ctx,
			`SELECT _id, status FROM survey_instance WHERE uuid = ?`, inst.UUID).
			Scan(&existingID, &existingStatus)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO survey_instance
					(uuid, survey_id, record_id, user_id, submitter, start_date, saved_date,
					 submitted_date, exported_date, sync_date, duration, status, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, inst.UUID, inst.SurveyID, inst.RecordID, inst.UserID, inst.Submitter,
				nullMillis(inst.StartDate), nullMillis(inst.SavedDate),
				nullMillis(inst.SubmittedDate), nullMillis(inst.ExportedDate),
				nullMillis(inst.SyncDate), inst.Duration, int(inst.Status), inst.Version)
			if err != nil {
				return fmt.Errorf("failed to insert synced instance: %w", err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get synced instance id: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up instance by uuid: %w", err)
		}

		status := int(inst.Status)
		if status < existingStatus {
			status = existingStatus
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE survey_instance SET
				survey_id = ?, record_id = ?, user_id = ?, submitter = ?,
				start_date = ?, saved_date = ?, submitted_date = ?, exported_date = ?,
				sync_date = ?, duration = ?, status = ?, version = ?
			WHERE _id = ?
		`, inst.SurveyID, inst.RecordID, inst.UserID, inst.Submitter,
			nullMillis(inst.StartDate), nullMillis(inst.SavedDate),
			nullMillis(inst.SubmittedDate), nullMillis(inst.ExportedDate),
			nullMillis(inst.SyncDate), inst.Duration, status, inst.Version,
			existingID); err != nil {
			return fmt.Errorf("failed to update synced instance: %w", err)
		}
		id = existingID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateFormVersion records the form version an instance was filled against.
// The write is skipped when the version is unchanged so watchers are not
// woken for nothing.
func (s *Store) UpdateFormVersion(ctx context.Context, instanceID int64, version float64) error {
	return s.conditionalWrite(ctx, instanceTables, `
		UPDATE survey_instance SET version = ? WHERE _id = ? AND version <> ?
	`, version, instanceID, version)
}

// GetInstance returns an instance by local id, or nil when absent.
func (s *Store) GetInstance(ctx context.Context, instanceID int64) (*SurveyInstance, error) {
	return s.getInstanceWhere(ctx, `WHERE _id = ?`, instanceID)
}

// GetInstanceByUUID returns an instance by its globally unique UUID, or nil.
func (s *Store) GetInstanceByUUID(ctx context.Context, id string) (*SurveyInstance, error) {
	return s.getInstanceWhere(ctx, `WHERE uuid = ?`, id)
}

func (s *Store) getInstanceWhere(ctx context.Context, where string, args ...any) (*SurveyInstance, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, instanceSelect+where, args...)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetFormInstances lists the form instances of a record: the registration
// form instance first (it anchors the record's context in the UI), the rest
// by start date descending.
func (s *Store) GetFormInstances(ctx context.Context, recordID string) ([]SurveyInstance, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, instanceSelect+`
		LEFT JOIN data_point dp ON dp.record_id = si.record_id
		LEFT JOIN survey_group sg ON sg.survey_group_id = dp.survey_group_id
		WHERE si.record_id = ?
		ORDER BY CASE WHEN si.survey_id = sg.register_survey_id THEN 0 ELSE 1 END,
			si.start_date DESC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query form instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

// ListUnexported returns instances whose submission was requested but whose
// data archive has not been generated yet. The export collaborator drains
// this list, then moves each instance to Submitted.
func (s *Store) ListUnexported(ctx context.Context) ([]SurveyInstance, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, instanceSelect+`
		WHERE si.status = ? ORDER BY si.submitted_date
	`, int(InstanceSubmitRequested))
	if err != nil {
		return nil, fmt.Errorf("failed to query unexported instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

// DeleteInstance removes a form submission. Its responses are deleted by the
// schema's ON DELETE CASCADE in the same transaction.
func (s *Store) DeleteInstance(ctx context.Context, instanceID int64) error {
	return s.execTx(ctx, []string{TableSurveyInstance, TableResponse}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM survey_instance WHERE _id = ?`, instanceID); err != nil {
			return fmt.Errorf("failed to delete survey instance: %w", err)
		}
		return nil
	})
}

// ClearCollectedData deletes everything gathered in the field (instances,
// responses, records, transmissions) while keeping downloaded form
// definitions. The caller is responsible for warning the user when
// UnsyncedTransmissionsExist.
func (s *Store) ClearCollectedData(ctx context.Context) error {
	tables := []string{TableSurveyInstance, TableResponse, TableDataPoint, TableTransmission}
	return s.execTx(ctx, tables, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM response`,
			`DELETE FROM survey_instance`,
			`DELETE FROM data_point`,
			`DELETE FROM transmission`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear collected data: %w", err)
			}
		}
		return nil
	})
}

// ClearAllData additionally removes form definitions, groups, language
// preferences and download cursors, returning the store to a blank install.
func (s *Store) ClearAllData(ctx context.Context) error {
	tables := []string{
		TableSurveyInstance, TableResponse, TableDataPoint, TableTransmission,
		TableSurvey, TableSurveyGroup, TableLanguagePreference, TableDownloadCursor,
	}
	return s.execTx(ctx, tables, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM response`,
			`DELETE FROM survey_instance`,
			`DELETE FROM data_point`,
			`DELETE FROM transmission`,
			`DELETE FROM survey`,
			`DELETE FROM survey_group`,
			`DELETE FROM language_preference`,
			`DELETE FROM download_cursor`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear data: %w", err)
			}
		}
		return nil
	})
}

const instanceSelect = `
	SELECT si._id, si.uuid, si.survey_id, si.record_id, si.user_id, si.submitter,
		si.start_date, si.saved_date, si.submitted_date, si.exported_date, si.sync_date,
		si.duration, si.status, si.version
	FROM survey_instance si
`

func collectInstances(rows *sql.Rows) ([]SurveyInstance, error) {
	var instances []SurveyInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return instances, nil
}

func scanInstance(row rowScanner) (SurveyInstance, error) {
	var inst SurveyInstance
	var recordID sql.NullString
	var start, saved, submitted, exported, synced sql.NullInt64
	var status int
	err := row.Scan(&inst.ID, &inst.UUID, &inst.SurveyID, &recordID, &inst.UserID,
		&inst.Submitter, &start, &saved, &submitted, &exported, &synced,
		&inst.Duration, &status, &inst.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inst, err
		}
		return inst, fmt.Errorf("failed to scan survey instance: %w", err)
	}
	inst.RecordID = recordID.String
	inst.StartDate = start.Int64
	inst.SavedDate = saved.Int64
	inst.SubmittedDate = submitted.Int64
	inst.ExportedDate = exported.Int64
	inst.SyncDate = synced.Int64
	inst.Status = InstanceStatus(status)
	return inst, nil
}

// nullMillis maps the zero timestamp to NULL so "has not happened yet"
// survives round-trips (AddDuration keys off submitted_date IS NULL).
func nullMillis(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
