// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NonRepeatedIteration tags responses to questions outside a repeated group.
const NonRepeatedIteration = -1

var responseTables = []string{TableResponse}

// SetResponse stores the answer for (instance, question), overwriting the
// response at the current maximum iteration if one exists. Returns the
// response row id.
func (s *Store) SetResponse(ctx context.Context, r Response) (int64, error) {
	var id int64
	err := s.execTx(ctx, responseTables, func(tx *sql.Tx) error {
		existing, err := latestResponseRow(ctx, tx, r.InstanceID, r.QuestionID)
		if err != nil {
			return err
		}
		if existing != nil {
			_, err := tx.ExecContext(ctx, `
				UPDATE response SET answer = ?, type = ?, filename = ?, include = 1
				WHERE _id = ?
			`, r.Answer, r.Type, r.Filename, existing.ID)
			if err != nil {
				return fmt.Errorf("failed to update response: %w", err)
			}
			id = existing.ID
			return nil
		}
		id, err = insertResponse(ctx, tx, r, NonRepeatedIteration)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AppendIterationResponse stores a new repetition of a repeated question
// group. The first response to a question is stored with iteration -1; the
// moment a second one is appended the first is retagged to 0 and the new one
// becomes 1. Iterations are append-only and never reused, so N appends yield
// exactly 0..N-1. The renumbering read and write happen in one transaction,
// which the store serializes against concurrent appends.
func (s *Store) AppendIterationResponse(ctx context.Context, r Response) (int64, error) {
	var id int64
	err := s.execTx(ctx, responseTables, func(tx *sql.Tx) error {
		var count int
		var maxIteration sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), MAX(iteration) FROM response
			WHERE survey_instance_id = ? AND question_id = ?
		`, r.InstanceID, r.QuestionID).Scan(&count, &maxIteration)
		if err != nil {
			return fmt.Errorf("failed to count response iterations: %w", err)
		}

		switch {
		case count == 0:
			id, err = insertResponse(ctx, tx, r, NonRepeatedIteration)
			return err
		case count == 1 && maxIteration.Int64 == NonRepeatedIteration:
			// Second answer arriving: promote the lone -1 row to iteration 0.
			if _, err := tx.ExecContext(ctx, `
				UPDATE response SET iteration = 0
				WHERE survey_instance_id = ? AND question_id = ? AND iteration = ?
			`, r.InstanceID, r.QuestionID, NonRepeatedIteration); err != nil {
				return fmt.Errorf("failed to renumber first iteration: %w", err)
			}
			id, err = insertResponse(ctx, tx, r, 1)
			return err
		default:
			id, err = insertResponse(ctx, tx, r, int(maxIteration.Int64)+1)
			return err
		}
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func insertResponse(ctx context.Context, tx *sql.Tx, r Response, iteration int) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO response (survey_instance_id, question_id, answer, type, include, filename, iteration)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, r.InstanceID, r.QuestionID, r.Answer, r.Type, r.Filename, iteration)
	if err != nil {
		return 0, fmt.Errorf("failed to insert response: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get response id: %w", err)
	}
	return id, nil
}

func latestResponseRow(ctx context.Context, tx *sql.Tx, instanceID int64, questionID string) (*Response, error) {
	r := Response{InstanceID: instanceID, QuestionID: questionID}
	err := tx.QueryRowContext(ctx, `
		SELECT _id, iteration FROM response
		WHERE survey_instance_id = ? AND question_id = ?
		ORDER BY iteration DESC LIMIT 1
	`, instanceID, questionID).Scan(&r.ID, &r.Iteration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest response: %w", err)
	}
	return &r, nil
}

// DeleteResponse removes every iteration of the answer to a question within
// an instance.
func (s *Store) DeleteResponse(ctx context.Context, instanceID int64, questionID string) error {
	return s.execTx(ctx, responseTables, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM response WHERE survey_instance_id = ? AND question_id = ?
		`, instanceID, questionID); err != nil {
			return fmt.Errorf("failed to delete responses: %w", err)
		}
		return nil
	})
}

// DeleteResponseIteration removes a single repetition of a repeated question
// group without disturbing sibling iterations.
func (s *Store) DeleteResponseIteration(ctx context.Context, instanceID int64, questionID string, iteration int) error {
	return s.execTx(ctx, responseTables, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM response
			WHERE survey_instance_id = ? AND question_id = ? AND iteration = ?
		`, instanceID, questionID, iteration); err != nil {
			return fmt.Errorf("failed to delete response iteration: %w", err)
		}
		return nil
	})
}

// GetResponses returns every response of a form instance in insertion order.
func (s *Store) GetResponses(ctx context.Context, instanceID int64) ([]Response, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT _id, survey_instance_id, question_id, answer, type, include, filename, iteration
		FROM response WHERE survey_instance_id = ?
		ORDER BY _id
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}
	return responses, nil
}

// GetResponse returns the answer at the highest iteration for a question, or
// nil when the question has not been answered. Absence is a normal outcome,
// not an error.
func (s *Store) GetResponse(ctx context.Context, instanceID int64, questionID string) (*Response, error) {
	return s.getResponseWhere(ctx, `
		SELECT _id, survey_instance_id, question_id, answer, type, include, filename, iteration
		FROM response WHERE survey_instance_id = ? AND question_id = ?
		ORDER BY iteration DESC LIMIT 1
	`, instanceID, questionID)
}

// GetResponseIteration returns the answer at a specific iteration, or nil.
func (s *Store) GetResponseIteration(ctx context.Context, instanceID int64, questionID string, iteration int) (*Response, error) {
	return s.getResponseWhere(ctx, `
		SELECT _id, survey_instance_id, question_id, answer, type, include, filename, iteration
		FROM response WHERE survey_instance_id = ? AND question_id = ? AND iteration = ?
	`, instanceID, questionID, iteration)
}

func (s *Store) getResponseWhere(ctx context.Context, query string, args ...any) (*Response, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, query, args...)
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ExcludeResponse soft-deletes an answer within a submission: the row stays
// but is skipped by form export.
func (s *Store) ExcludeResponse(ctx context.Context, instanceID int64, questionID string) error {
	return s.conditionalWrite(ctx, responseTables, `
		UPDATE response SET include = 0
		WHERE survey_instance_id = ? AND question_id = ? AND include = 1
	`, instanceID, questionID)
}

// DeleteAllResponses wipes every collected answer. Used only by the
// destructive clear-data operations; callers are expected to have checked
// UnsyncedTransmissionsExist first.
func (s *Store) DeleteAllResponses(ctx context.Context) error {
	return s.execTx(ctx, responseTables, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM response`); err != nil {
			return fmt.Errorf("failed to delete all responses: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (Response, error) {
	var r Response
	var include int
	err := row.Scan(&r.ID, &r.InstanceID, &r.QuestionID, &r.Answer, &r.Type, &include, &r.Filename, &r.Iteration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan response: %w", err)
	}
	r.Include = include != 0
	return r, nil
}

// conditionalWrite executes a single UPDATE and only notifies watchers when
// a row actually changed, so already-satisfied writes cause no spurious
// re-runs.
func (s *Store) conditionalWrite(ctx context.Context, tables []string, query string, args ...any) error {
	var affected int64
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to execute write: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if affected > 0 {
		s.invalidate(tables...)
	}
	return nil
}
