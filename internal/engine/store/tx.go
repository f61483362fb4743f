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

	"github.com/tombee/duraflow/pkg/errors"
)

// Tx is a store transaction. Mutations on a Tx become visible only on
// Commit; the executor composes each step transition (start, success,
// retry, failure) into exactly one Tx.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// UpdateRunStatus updates a run's status and the fields set in upd.
// Does not commit.
func (t *Tx) UpdateRunStatus(ctx context.Context, id string, status RunStatus, upd RunUpdate) error {
	query := "UPDATE runs SET status = ?"
	args := []any{status}

	if upd.StartedAt != nil {
		query += ", started_at = ?"
		args = append(args, formatTime(upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		query += ", completed_at = ?"
		args = append(args, formatTime(upd.CompletedAt))
	}

	query += " WHERE id = ?"
	args = append(args, id)

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	return nil
}

// UpdateStepStatus updates a step's status and the fields set in upd.
// Does not commit.
func (t *Tx) UpdateStepStatus(ctx context.Context, id string, status StepStatus, upd StepUpdate) error {
	query := "UPDATE steps SET status = ?"
	args := []any{status}

	if upd.StartedAt != nil {
		query += ", started_at = ?"
		args = append(args, formatTime(upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		query += ", completed_at = ?"
		args = append(args, formatTime(upd.CompletedAt))
	}
	if upd.ErrorMessage != nil {
		query += ", error_message = ?"
		args = append(args, *upd.ErrorMessage)
	}
	if upd.IdempotencyKey != nil {
		query += ", idempotency_key = ?"
		args = append(args, *upd.IdempotencyKey)
	}
	if upd.RetryCount != nil {
		query += ", retry_count = ?"
		args = append(args, *upd.RetryCount)
	}

	query += " WHERE id = ?"
	args = append(args, id)

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update step %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "step", ID: id}
	}
	return nil
}

// InsertStepResult records a step attempt's durable result. Does not
// commit. Fails with the driver's uniqueness violation if the key exists.
func (t *Tx) InsertStepResult(ctx context.Context, idempotencyKey, stepID string, resultData []byte) error {
	var data any
	if resultData != nil {
		data = string(resultData)
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO step_results (idempotency_key, step_id, result_data, created_at) VALUES (?, ?, ?, ?)`,
		idempotencyKey, stepID, data, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step result %s: %w", idempotencyKey, err)
	}
	return nil
}

// GetOrder reads an order within the transaction, so action handlers
// observe any uncommitted mutations from earlier in the same commit.
func (t *Tx) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := getOrder(ctx, t.tx, id)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "order", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// UpdateOrderStatus transitions an order's status within the transaction.
// Does not commit.
func (t *Tx) UpdateOrderStatus(ctx context.Context, id string, status OrderStatus) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "order", ID: id}
	}
	return nil
}
