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

// Package executor runs workflows to completion with crash-safe,
// exactly-once recording of step side effects.
//
// The protocol: a step's idempotency key is committed before its task
// body runs, and a StepResult row under that key is committed in the
// same transaction as the step's success. After a crash, a committed
// result under the step's current key means the side effect is already
// recorded and the task body must not run again; an absent result means
// the attempt never finished and the step re-executes under the same key.
// Every retry gets a fresh key so a stale result can never satisfy it.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/duraflow/internal/engine/action"
	"github.com/tombee/duraflow/internal/engine/metrics"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/engine/task"
	"github.com/tombee/duraflow/internal/log"
	"github.com/tombee/duraflow/internal/tracing"
	"github.com/tombee/duraflow/pkg/errors"
	"github.com/tombee/duraflow/pkg/workflow"
)

// Outcome is the result of one step attempt.
type Outcome int

const (
	// OutcomeCompleted means the step's result is durably recorded.
	OutcomeCompleted Outcome = iota
	// OutcomeRetry means the attempt failed and a fresh attempt is queued.
	OutcomeRetry
	// OutcomeFailed means the step exhausted its retries.
	OutcomeFailed
)

// String returns the outcome's metric label.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepExecutor executes single step attempts.
type StepExecutor struct {
	store      *store.Store
	runner     task.Runner
	dispatcher *action.Dispatcher
	logger     *slog.Logger

	// retryActionFailures controls whether an action handler error counts
	// as a retryable failure. When false it fails the step immediately,
	// since domain state errors rarely heal on retry.
	retryActionFailures bool
}

// ExecuteStep runs one attempt of a step and returns its outcome.
//
// An error return means a storage or bookkeeping problem, not a task
// failure; task failures are absorbed into OutcomeRetry or OutcomeFailed.
func (e *StepExecutor) ExecuteStep(ctx context.Context, run *store.Run, step *store.Step, cfg workflow.StepConfig) (Outcome, error) {
	logger := log.WithStepContext(e.logger, run.ID, step.StepID)

	ctx, span := tracing.StartStepSpan(ctx, run.ID, step.StepID, cfg.Action, step.RetryCount)
	outcome, err := e.executeStep(ctx, logger, run, step, cfg)
	tracing.EndSpan(span, err)
	if err == nil {
		metrics.RecordStepAttempt(outcome.String())
	}
	return outcome, err
}

func (e *StepExecutor) executeStep(ctx context.Context, logger *slog.Logger, run *store.Run, step *store.Step, cfg workflow.StepConfig) (Outcome, error) {
	// Reuse the step's current key so an interrupted attempt resumes under
	// the same token; generate one only for the step's first attempt.
	key := step.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	// Commit the claim before any work happens. If we crash after this
	// point, recovery finds the key on the step row and can decide whether
	// the attempt finished.
	if err := e.claimStep(ctx, step, key); err != nil {
		return 0, err
	}

	// A committed result under this key means a previous attempt finished
	// its work and crashed before (or while) marking the step completed.
	// Close the bookkeeping without running the task body again.
	result, err := e.store.GetStepResult(ctx, key)
	if err != nil && !errors.IsNotFound(err) {
		return 0, err
	}
	if result != nil {
		logger.Info("step result already recorded, skipping execution",
			slog.String("idempotency_key", key))
		if err := e.completeStep(ctx, step.ID); err != nil {
			return 0, err
		}
		return OutcomeCompleted, nil
	}

	taskResult, taskErr := e.runner.Execute(ctx, cfg)
	if taskErr == nil {
		if dispatchErr := e.commitSuccess(ctx, run, step, key, cfg.Action, taskResult); dispatchErr != nil {
			return e.handleFailure(ctx, logger, step, dispatchErr, e.retryActionFailures)
		}
		logger.Info("step completed", slog.String(log.ActionKey, cfg.Action))
		return OutcomeCompleted, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	return e.handleFailure(ctx, logger, step, taskErr, true)
}

// claimStep commits the step into running status under the given key,
// recording started_at only on the very first attempt.
func (e *StepExecutor) claimStep(ctx context.Context, step *store.Step, key string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upd := store.StepUpdate{IdempotencyKey: &key}
	if step.StartedAt == nil {
		now := time.Now().UTC()
		upd.StartedAt = &now
	}
	if err := tx.UpdateStepStatus(ctx, step.ID, store.StepRunning, upd); err != nil {
		return err
	}
	return tx.Commit()
}

// completeStep commits the step into completed status.
func (e *StepExecutor) completeStep(ctx context.Context, stepID string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := tx.UpdateStepStatus(ctx, stepID, store.StepCompleted, store.StepUpdate{CompletedAt: &now}); err != nil {
		return err
	}
	return tx.Commit()
}

// commitSuccess records the step result, dispatches the step's action,
// and marks the step completed, all in one transaction. A dispatch error
// aborts the whole commit so no partial success is ever visible.
func (e *StepExecutor) commitSuccess(ctx context.Context, run *store.Run, step *store.Step, key, actionName string, result task.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode step result: %w", err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.InsertStepResult(ctx, key, step.ID, data); err != nil {
		return err
	}
	if err := e.dispatcher.Dispatch(ctx, tx, actionName, run.OrderID); err != nil {
		return fmt.Errorf("action %q failed: %w", actionName, err)
	}
	now := time.Now().UTC()
	if err := tx.UpdateStepStatus(ctx, step.ID, store.StepCompleted, store.StepUpdate{CompletedAt: &now}); err != nil {
		return err
	}
	return tx.Commit()
}

// handleFailure commits the retry or failure bookkeeping for a failed
// attempt. A retried step gets a fresh idempotency key so the failed
// attempt's token can never be satisfied by a later result.
func (e *StepExecutor) handleFailure(ctx context.Context, logger *slog.Logger, step *store.Step, cause error, retryable bool) (Outcome, error) {
	message := cause.Error()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if retryable && step.RetryCount < step.MaxRetries {
		freshKey := uuid.New().String()
		retries := step.RetryCount + 1
		upd := store.StepUpdate{
			IdempotencyKey: &freshKey,
			RetryCount:     &retries,
			ErrorMessage:   &message,
		}
		if err := tx.UpdateStepStatus(ctx, step.ID, store.StepPending, upd); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		logger.Warn("step attempt failed, retrying",
			slog.Int("retry_count", retries),
			slog.Int("max_retries", step.MaxRetries),
			log.Error(cause),
		)
		return OutcomeRetry, nil
	}

	now := time.Now().UTC()
	upd := store.StepUpdate{
		CompletedAt:  &now,
		ErrorMessage: &message,
	}
	if err := tx.UpdateStepStatus(ctx, step.ID, store.StepFailed, upd); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.Error("step failed permanently",
		slog.Int("retry_count", step.RetryCount),
		log.Error(cause),
	)
	return OutcomeFailed, nil
}
