// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveSurveyGroup inserts or updates a survey group delivered by the form
// download collaborator. The viewed flag of an existing group is preserved.
func (s *Store) SaveSurveyGroup(ctx context.Context, g SurveyGroup) error {
	return s.execTx(ctx, []string{TableSurveyGroup}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO survey_group (survey_group_id, name, register_survey_id, monitored, viewed)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(survey_group_id) DO UPDATE SET
				name = excluded.name,
				register_survey_id = excluded.register_survey_id,
				monitored = excluded.monitored
		`, g.ID, g.Name, g.RegistrationFormID, boolToInt(g.Monitored))
		if err != nil {
			return fmt.Errorf("failed to save survey group: %w", err)
		}
		return nil
	})
}

// GetSurveyGroup returns a survey group by id, or nil when absent.
func (s *Store) GetSurveyGroup(ctx context.Context, id int64) (*SurveyGroup, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT survey_group_id, name, register_survey_id, monitored, viewed
		FROM survey_group WHERE survey_group_id = ?
	`, id)
	g, err := scanSurveyGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListSurveyGroups returns all survey groups ordered by name.
func (s *Store) ListSurveyGroups(ctx context.Context) ([]SurveyGroup, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT survey_group_id, name, register_survey_id, monitored, viewed
		FROM survey_group ORDER BY name COLLATE NOCASE
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query survey groups: %w", err)
	}
	defer rows.Close()

	var groups []SurveyGroup
	for rows.Next() {
		g, err := scanSurveyGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate survey groups: %w", err)
	}
	return groups, nil
}

// MarkSurveyGroupViewed flips the group's unread flag, one-way; a no-op when
// already viewed.
func (s *Store) MarkSurveyGroupViewed(ctx context.Context, id int64) error {
	return s.conditionalWrite(ctx, []string{TableSurveyGroup}, `
		UPDATE survey_group SET viewed = 1 WHERE survey_group_id = ? AND viewed = 0
	`, id)
}

// DeleteSurveyGroup removes a group, its surveys and its language
// preferences in one transaction.
func (s *Store) DeleteSurveyGroup(ctx context.Context, id int64) error {
	tables := []string{TableSurveyGroup, TableSurvey, TableLanguagePreference}
	return s.execTx(ctx, tables, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM survey WHERE survey_group_id = ?`,
			`DELETE FROM language_preference WHERE survey_group_id = ?`,
			`DELETE FROM survey_group WHERE survey_group_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete survey group: %w", err)
			}
		}
		return nil
	})
}

// SaveSurvey stores form definition metadata. The survey id is unique;
// re-downloading a form replaces the row wholesale (ON CONFLICT REPLACE in
// the schema).
func (s *Store) SaveSurvey(ctx context.Context, sv Survey) error {
	return s.execTx(ctx, []string{TableSurvey}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO survey (survey_id, survey_group_id, name, version, language, deleted)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sv.ID, sv.GroupID, sv.Name, sv.Version, sv.Language, boolToInt(sv.Deleted))
		if err != nil {
			return fmt.Errorf("failed to save survey: %w", err)
		}
		return nil
	})
}

// GetSurvey returns a survey by id (soft-deleted included, so history stays
// traceable), or nil when absent.
func (s *Store) GetSurvey(ctx context.Context, id string) (*Survey, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT survey_id, survey_group_id, name, version, language, deleted
		FROM survey WHERE survey_id = ?
	`, id)
	sv, err := scanSurvey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sv, nil
}

// ListSurveys returns the live (not soft-deleted) surveys of a group.
func (s *Store) ListSurveys(ctx context.Context, groupID int64) ([]Survey, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT survey_id, survey_group_id, name, version, language, deleted
		FROM survey WHERE survey_group_id = ? AND deleted = 0
		ORDER BY name COLLATE NOCASE
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query surveys: %w", err)
	}
	defer rows.Close()

	var surveys []Survey
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		surveys = append(surveys, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate surveys: %w", err)
	}
	return surveys, nil
}

// DeleteSurvey soft-deletes a form definition. Rows are never hard-deleted
// so past submissions keep a traceable origin.
func (s *Store) DeleteSurvey(ctx context.Context, id string) error {
	return s.conditionalWrite(ctx, []string{TableSurvey}, `
		UPDATE survey SET deleted = 1 WHERE survey_id = ? AND deleted = 0
	`, id)
}

// SetLanguagePreferences replaces the set of preferred languages for a
// survey group.
func (s *Store) SetLanguagePreferences(ctx context.Context, groupID int64, languages []string) error {
	return s.execTx(ctx, []string{TableLanguagePreference}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM language_preference WHERE survey_group_id = ?`, groupID); err != nil {
			return fmt.Errorf("failed to clear language preferences: %w", err)
		}
		for _, lang := range languages {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO language_preference (survey_group_id, language) VALUES (?, ?)
			`, groupID, lang); err != nil {
				return fmt.Errorf("failed to save language preference %s: %w", lang, err)
			}
		}
		return nil
	})
}

// LanguagePreferences returns the set of preferred languages for a group.
func (s *Store) LanguagePreferences(ctx context.Context, groupID int64) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT language FROM language_preference WHERE survey_group_id = ? ORDER BY language
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query language preferences: %w", err)
	}
	defer rows.Close()

	var languages []string
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err != nil {
			return nil, fmt.Errorf("failed to scan language preference: %w", err)
		}
		languages = append(languages, lang)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate language preferences: %w", err)
	}
	return languages, nil
}

// SaveDownloadCursor persists the pagination cursor of an incremental data
// point download so the download collaborator can resume where it left off.
func (s *Store) SaveDownloadCursor(ctx context.Context, surveyID, cursor string) error {
	return s.execTx(ctx, []string{TableDownloadCursor}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO download_cursor (survey_id, cursor) VALUES (?, ?)
		`, surveyID, cursor); err != nil {
			return fmt.Errorf("failed to save download cursor: %w", err)
		}
		return nil
	})
}

// DownloadCursor returns the stored cursor for a survey, empty when none.
func (s *Store) DownloadCursor(ctx context.Context, surveyID string) (string, error) {
	if s.closed.Load() {
		return "", ErrStoreClosed
	}
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM download_cursor WHERE survey_id = ?`, surveyID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query download cursor: %w", err)
	}
	return cursor, nil
}

// ClearDownloadCursor forgets the cursor for a survey, forcing the next
// download to start from scratch.
func (s *Store) ClearDownloadCursor(ctx context.Context, surveyID string) error {
	return s.execTx(ctx, []string{TableDownloadCursor}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM download_cursor WHERE survey_id = ?`, surveyID); err != nil {
			return fmt.Errorf("failed to clear download cursor: %w", err)
		}
		return nil
	})
}

func scanSurveyGroup(row rowScanner) (SurveyGroup, error) {
	var g SurveyGroup
	var monitored, viewed int
	err := row.Scan(&g.ID, &g.Name, &g.RegistrationFormID, &monitored, &viewed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("failed to scan survey group: %w", err)
	}
	g.Monitored = monitored != 0
	g.Viewed = viewed != 0
	return g, nil
}

func scanSurvey(row rowScanner) (Survey, error) {
	var sv Survey
	var deleted int
	err := row.Scan(&sv.ID, &sv.GroupID, &sv.Name, &sv.Version, &sv.Language, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sv, err
		}
		return sv, fmt.Errorf("failed to scan survey: %w", err)
	}
	sv.Deleted = deleted != 0
	return sv, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
