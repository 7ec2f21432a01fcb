/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
)

// RunStore persists run records.
type RunStore struct {
	db *DB
}

// NewRunStore returns a RunStore on the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a run record, assigning an ID and start time when the
// caller left them empty.
func (s *RunStore) Create(ctx context.Context, rec *api.RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	subPhasesJSON, err := json.Marshal(rec.Report.SubPhases)
	if err != nil {
		return fmt.Errorf("failed to marshal sub_phases: %w", err)
	}
	anomaliesJSON, err := json.Marshal(rec.Report.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to marshal anomalies: %w", err)
	}

	query := `
		INSERT INTO runs (
			id, mode, pod_name, node_name, started_at,
			node_provisioning_sec, image_pull_sec, image_pull_measured,
			runtime_startup_sec, total_wall_clock_sec,
			sub_phases, anomalies
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?,
			?, ?
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, string(rec.Mode), rec.PodName, rec.NodeName, rec.StartedAt,
		rec.Report.NodeProvisioningSec, rec.Report.ImagePullSec, rec.Report.ImagePullMeasured,
		rec.Report.RuntimeStartupSec, rec.Report.TotalWallClockSec,
		string(subPhasesJSON), string(anomaliesJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}
	return nil
}

// Get retrieves a run record by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*api.RunRecord, error) {
	query := selectRuns + ` WHERE id = ?`

	rec, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	return rec, nil
}

// RunFilter defines criteria for listing run records.
type RunFilter struct {
	// Mode restricts the listing to one mode when non-empty.
	Mode api.Mode

	// Limit caps the number of records returned; 0 means no cap.
	Limit int
}

// List returns run records matching the filter, newest first.
func (s *RunStore) List(ctx context.Context, filter RunFilter) ([]*api.RunRecord, error) {
	query := selectRuns + ` WHERE 1=1`
	var args []interface{}

	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(filter.Mode))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	defer rows.Close()

	var records []*api.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run records: %w", err)
	}
	return records, nil
}

// Delete removes a run record by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const selectRuns = `
	SELECT
		id, mode, pod_name, node_name, started_at,
		node_provisioning_sec, image_pull_sec, image_pull_measured,
		runtime_startup_sec, total_wall_clock_sec,
		sub_phases, anomalies
	FROM runs
`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*api.RunRecord, error) {
	rec := &api.RunRecord{}
	var mode string
	var subPhasesJSON, anomaliesJSON string

	err := row.Scan(
		&rec.ID, &mode, &rec.PodName, &rec.NodeName, &rec.StartedAt,
		&rec.Report.NodeProvisioningSec, &rec.Report.ImagePullSec, &rec.Report.ImagePullMeasured,
		&rec.Report.RuntimeStartupSec, &rec.Report.TotalWallClockSec,
		&subPhasesJSON, &anomaliesJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.Mode = api.Mode(mode)
	if err := json.Unmarshal([]byte(subPhasesJSON), &rec.Report.SubPhases); err != nil {
		rec.Report.SubPhases = nil
	}
	if err := json.Unmarshal([]byte(anomaliesJSON), &rec.Report.Anomalies); err != nil {
		rec.Report.Anomalies = nil
	}
	return rec, nil
}
