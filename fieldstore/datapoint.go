// Copyright 2026 Fieldrover Project
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

var dataPointTables = []string{TableDataPoint}

// DataPointOrder selects the comparator for QueryDataPoints.
type DataPointOrder int

const (
	// OrderByDate sorts by last-modified descending (most recent first).
	OrderByDate DataPointOrder = iota
	// OrderByName sorts by display name, case-insensitive ascending.
	OrderByName
	// OrderByStatus sorts by the aggregated instance status ascending
	// (least complete records first).
	OrderByStatus
	// OrderByDistance sorts by proximity to the anchor location.
	OrderByDistance
)

// QueryOptions refine a data point query.
type QueryOptions struct {
	// Filter matches case-insensitively against record name or id.
	Filter string
	// AnchorLatitude/AnchorLongitude are the reference location for
	// OrderByDistance, in degrees.
	AnchorLatitude  float64
	AnchorLongitude float64
}

// UpsertDataPoint inserts or updates a field record by its record id,
// reporting whether the record was new. A returning record keeps its viewed
// flag: an update must not silently reset a record to unread.
func (s *Store) UpsertDataPoint(ctx context.Context, dp DataPoint) (bool, error) {
	var isNew bool
	err := s.execTx(ctx, dataPointTables, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM data_point WHERE record_id = ?)`, dp.RecordID).
			Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check data point existence: %w", err)
		}

		if !exists {
			isNew = true
			_, err := tx.ExecContext(ctx, `
				INSERT INTO data_point (record_id, survey_group_id, name, latitude, longitude, last_modified, viewed)
				VALUES (?, ?, ?, ?, ?, ?, 0)
			`, dp.RecordID, dp.GroupID, dp.Name, dp.Latitude, dp.Longitude, dp.LastModified)
			if err != nil {
				return fmt.Errorf("failed to insert data point: %w", err)
			}
			return nil
		}

		// viewed deliberately left untouched.
		_, err = tx.ExecContext(ctx, `
			UPDATE data_point SET survey_group_id = ?, name = ?, latitude = ?, longitude = ?, last_modified = ?
			WHERE record_id = ?
		`, dp.GroupID, dp.Name, dp.Latitude, dp.Longitude, dp.LastModified, dp.RecordID)
		if err != nil {
			return fmt.Errorf("failed to update data point: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

// MarkDataPointViewed flips the record's unread flag, one-way. Already
// viewed records are untouched, so no spurious watch notification fires.
func (s *Store) MarkDataPointViewed(ctx context.Context, recordID string) error {
	return s.conditionalWrite(ctx, dataPointTables, `
		UPDATE data_point SET viewed = 1 WHERE record_id = ? AND viewed = 0
	`, recordID)
}

// UpdateModifiedIfNewer advances a record's last-modified timestamp only
// when the new value is strictly greater. Out-of-order writes from a delayed
// background sync must never move the clock backwards.
func (s *Store) UpdateModifiedIfNewer(ctx context.Context, recordID string, timestamp int64) error {
	return s.conditionalWrite(ctx, dataPointTables, `
		UPDATE data_point SET last_modified = ? WHERE record_id = ? AND last_modified < ?
	`, timestamp, recordID, timestamp)
}

// GetDataPoint returns a record by id, or nil when absent.
func (s *Store) GetDataPoint(ctx context.Context, recordID string) (*DataPoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, survey_group_id, name, latitude, longitude, last_modified, viewed
		FROM data_point WHERE record_id = ?
	`, recordID)
	var dp DataPoint
	var viewed int
	err := row.Scan(&dp.RecordID, &dp.GroupID, &dp.Name, &dp.Latitude, &dp.Longitude,
		&dp.LastModified, &viewed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan data point: %w", err)
	}
	dp.Viewed = viewed != 0
	dp.Status = InstanceStatusNone
	return &dp, nil
}

// QueryDataPoints lists the records of a survey group joined with the
// minimum status across each record's form instances ("least complete"
// decides the badge shown for the record). Records with no coordinates sort
// last regardless of the requested order.
//
// Distance ordering uses squared Euclidean distance in degree space with
// longitude scaled by cos^2 of the anchor latitude to correct for meridian
// convergence. This deliberately avoids per-row trigonometry in the query
// engine and holds up at sub-country scale; do not swap in great-circle
// distance without re-validating ordering stability near the poles.
func (s *Store) QueryDataPoints(ctx context.Context, groupID int64, order DataPointOrder, opts QueryOptions) ([]DataPoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT dp.record_id, dp.survey_group_id, dp.name, dp.latitude, dp.longitude,
			dp.last_modified, dp.viewed, MIN(si.status)
		FROM data_point dp
		LEFT JOIN survey_instance si ON si.record_id = dp.record_id
		WHERE dp.survey_group_id = ?
	`
	args := []any{groupID}

	if opts.Filter != "" {
		query += ` AND (dp.name LIKE ? COLLATE NOCASE OR dp.record_id LIKE ?)`
		pattern := "%" + opts.Filter + "%"
		args = append(args, pattern, pattern)
	}

	query += ` GROUP BY dp.record_id`
	query += ` ORDER BY CASE WHEN dp.latitude IS NULL OR dp.longitude IS NULL THEN 1 ELSE 0 END, `

	switch order {
	case OrderByName:
		query += `dp.name COLLATE NOCASE ASC`
	case OrderByStatus:
		query += `MIN(si.status) ASC, dp.name COLLATE NOCASE ASC`
	case OrderByDistance:
		// Squared degree-space distance; lonScale corrects east-west
		// degree length at the anchor latitude.
		lonScale := math.Cos(opts.AnchorLatitude * math.Pi / 180)
		lonScale *= lonScale
		query += `((dp.latitude - ?) * (dp.latitude - ?) + (dp.longitude - ?) * (dp.longitude - ?) * ?) ASC`
		args = append(args, opts.AnchorLatitude, opts.AnchorLatitude,
			opts.AnchorLongitude, opts.AnchorLongitude, lonScale)
	default:
		query += `dp.last_modified DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query data points: %w", err)
	}
	defer rows.Close()

	var points []DataPoint
	for rows.Next() {
		var dp DataPoint
		var viewed int
		var status sql.NullInt64
		if err := rows.Scan(&dp.RecordID, &dp.GroupID, &dp.Name, &dp.Latitude,
			&dp.Longitude, &dp.LastModified, &viewed, &status); err != nil {
			return nil, fmt.Errorf("failed to scan data point: %w", err)
		}
		dp.Viewed = viewed != 0
		if status.Valid {
			dp.Status = InstanceStatus(status.Int64)
		} else {
			dp.Status = InstanceStatusNone
		}
		points = append(points, dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data points: %w", err)
	}
	return points, nil
}

// PruneOrphans removes empty leftovers of a survey group: first form
// instances that collected no responses, then records left with no form
// instances at all. Instances must go first or the record pruning join would
// still see them.
func (s *Store) PruneOrphans(ctx context.Context, groupID int64) error {
	tables := []string{TableSurveyInstance, TableDataPoint}
	return s.execTx(ctx, tables, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM survey_instance
			WHERE _id NOT IN (SELECT DISTINCT survey_instance_id FROM response)
		`); err != nil {
			return fmt.Errorf("failed to prune empty instances: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM data_point
			WHERE survey_group_id = ?
				AND record_id NOT IN (
					SELECT record_id FROM survey_instance WHERE record_id IS NOT NULL
				)
		`, groupID); err != nil {
			return fmt.Errorf("failed to prune orphaned records: %w", err)
		}
		return nil
	})
}
