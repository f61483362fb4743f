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
	"github.com/tombee/duraflow/pkg/workflow"
)

const stepColumns = `id, run_id, step_id, step_index, status, idempotency_key,
	retry_count, max_retries, started_at, completed_at, error_message, created_at`

// CreateSteps inserts one step row per definition in a single commit,
// preserving the given order as step_index. The definitions must already
// be in topological order.
func (s *Store) CreateSteps(ctx context.Context, runID string, ordered []workflow.StepDefinition) ([]*Step, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for index, def := range ordered {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO steps (id, run_id, step_id, step_index, status, idempotency_key,
				retry_count, max_retries, started_at, completed_at, error_message, created_at)
			 VALUES (?, ?, ?, ?, ?, NULL, 0, ?, NULL, NULL, NULL, ?)`,
			uuid.New().String(), runID, def.ID, index, StepPending,
			def.Config.MaxRetries, now.Format(timeFormat),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create step %q: %w", def.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit steps: %w", err)
	}

	return s.ListSteps(ctx, runID)
}

// ListSteps returns all steps of a run, ordered by step_index.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY step_index`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// GetStep retrieves a single step row. The run executor re-fetches the row
// immediately before each attempt to observe retry bookkeeping written by
// previous attempts.
func (s *Store) GetStep(ctx context.Context, id string) (*Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "step", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// GetStepResult looks up the durable result under an idempotency key.
// Returns a NotFoundError when no result is recorded.
func (s *Store) GetStepResult(ctx context.Context, idempotencyKey string) (*StepResult, error) {
	var result StepResult
	var data sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, step_id, result_data, created_at FROM step_results WHERE idempotency_key = ?`,
		idempotencyKey,
	).Scan(&result.IdempotencyKey, &result.StepID, &data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "step result", ID: idempotencyKey}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step result: %w", err)
	}

	if data.Valid {
		result.ResultData = []byte(data.String)
	}
	result.CreatedAt, _ = time.Parse(timeFormat, createdAt)

	return &result, nil
}

func scanStep(row rowScanner) (*Step, error) {
	var step Step
	var idemKey, startedAt, completedAt, errorMessage sql.NullString
	var createdAt string

	err := row.Scan(
		&step.ID, &step.RunID, &step.StepID, &step.StepIndex, &step.Status,
		&idemKey, &step.RetryCount, &step.MaxRetries,
		&startedAt, &completedAt, &errorMessage, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if idemKey.Valid {
		step.IdempotencyKey = idemKey.String
	}
	if errorMessage.Valid {
		step.ErrorMessage = errorMessage.String
	}
	step.StartedAt = parseTime(startedAt)
	step.CompletedAt = parseTime(completedAt)
	step.CreatedAt, _ = time.Parse(timeFormat, createdAt)

	return &step, nil
}
