// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/duraflow/pkg/errors"
)

const runColumns = `r.id, r.workflow_id, w.name, r.order_id, r.status, r.started_at, r.completed_at, r.created_at`

// CreateRun inserts a new run in pending status and commits.
func (s *Store) CreateRun(ctx context.Context, workflowID, orderID string) (*Run, error) {
	run := &Run{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		OrderID:    orderID,
		Status:     RunPending,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, order_id, status, started_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, NULL, NULL, ?)`,
		run.ID, run.WorkflowID, nullString(run.OrderID), run.Status, run.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// GetRun retrieves a run with its workflow name.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs r JOIN workflows w ON r.workflow_id = w.id WHERE r.id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs with their workflow names, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs r JOIN workflows w ON r.workflow_id = w.id ORDER BY r.created_at DESC`,
	)
}

// ListRunningRuns returns all runs left in running status, for crash recovery.
func (s *Store) ListRunningRuns(ctx context.Context) ([]*Run, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs r JOIN workflows w ON r.workflow_id = w.id WHERE r.status = ?`,
		RunRunning,
	)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var orderID, startedAt, completedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.WorkflowName, &orderID,
		&run.Status, &startedAt, &completedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if orderID.Valid {
		run.OrderID = orderID.String
	}
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	run.CreatedAt, _ = time.Parse(timeFormat, createdAt)

	return &run, nil
}
