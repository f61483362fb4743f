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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/duraflow/internal/engine/metrics"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/log"
	"github.com/tombee/duraflow/internal/tracing"
	"github.com/tombee/duraflow/pkg/workflow"
)

// ExecuteRun drives a run from its current persisted state to a terminal
// status. Safe to call on a freshly created run and on a run interrupted
// by a crash; completed steps are skipped and the in-flight step resumes
// through the idempotency protocol.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		e.logger.Info("run already terminal, nothing to execute",
			slog.String(log.RunIDKey, run.ID),
			slog.String("status", string(run.Status)),
		)
		return nil
	}

	logger := log.WithRunContext(e.logger, run.ID, run.WorkflowName)
	recovered := run.Status == store.RunRunning

	ctx, span := tracing.StartRunSpan(ctx, run.ID, run.WorkflowName, recovered)
	err = e.executeRun(ctx, logger, run)
	tracing.EndSpan(span, err)
	if err != nil && ctx.Err() == nil {
		// Best effort: leave the run failed rather than stuck running.
		// Cancellation is not an error state; the run stays running and
		// is resumed by recovery on the next start.
		e.failRun(run.ID, err)
	}
	return err
}

func (e *Engine) executeRun(ctx context.Context, logger *slog.Logger, run *store.Run) error {
	wf, err := e.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return err
	}
	def, err := workflow.Parse(wf.Definition)
	if err != nil {
		return err
	}
	configs := def.ConfigByStepID()

	// Mark the run running, stamping started_at only on the first
	// transition. A recovered run keeps its original started_at.
	if run.Status != store.RunRunning {
		tx, err := e.store.Begin(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.UpdateRunStatus(ctx, run.ID, store.RunRunning, store.RunUpdate{StartedAt: &now}); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	metrics.RecordRunStart()
	logger.Info("run started", slog.Bool("recovered", run.Status == store.RunRunning))

	steps, err := e.store.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}

	for _, step := range steps {
		if step.Status == store.StepCompleted {
			logger.Info("skipping completed step", slog.String(log.StepIDKey, step.StepID))
			continue
		}

		cfg, ok := configs[step.StepID]
		if !ok {
			return fmt.Errorf("step %q has no config in workflow definition", step.StepID)
		}

		outcome, err := e.runStep(ctx, run, step.ID, cfg)
		if err != nil {
			return err
		}
		if outcome == OutcomeFailed {
			return e.finishRun(ctx, logger, run.ID, store.RunFailed)
		}
	}

	return e.finishRun(ctx, logger, run.ID, store.RunCompleted)
}

// runStep drives one step through its retry loop until it completes or
// exhausts its retries. The step row is re-fetched before each attempt
// so every attempt sees the retry bookkeeping of the previous one.
func (e *Engine) runStep(ctx context.Context, run *store.Run, stepRowID string, cfg workflow.StepConfig) (Outcome, error) {
	for {
		step, err := e.store.GetStep(ctx, stepRowID)
		if err != nil {
			return 0, err
		}

		outcome, err := e.stepExec.ExecuteStep(ctx, run, step, cfg)
		if err != nil {
			return 0, err
		}
		if outcome != OutcomeRetry {
			return outcome, nil
		}
	}
}

// finishRun commits the run's terminal status with its completion time.
func (e *Engine) finishRun(ctx context.Context, logger *slog.Logger, runID string, status store.RunStatus) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := tx.UpdateRunStatus(ctx, runID, status, store.RunUpdate{CompletedAt: &now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.RecordRunComplete(string(status))
	logger.Info("run finished", slog.String("status", string(status)))
	return nil
}

// failRun marks a run failed after an unexpected executor error. Runs on
// a fresh background context because the original one may be cancelled.
func (e *Engine) failRun(runID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		e.logger.Error("failed to mark run failed", slog.String(log.RunIDKey, runID), log.Error(err))
		return
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := tx.UpdateRunStatus(ctx, runID, store.RunFailed, store.RunUpdate{CompletedAt: &now}); err != nil {
		e.logger.Error("failed to mark run failed", slog.String(log.RunIDKey, runID), log.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger.Error("failed to mark run failed", slog.String(log.RunIDKey, runID), log.Error(err))
		return
	}

	metrics.RecordRunComplete(string(store.RunFailed))
	e.logger.Error("run failed with executor error", slog.String(log.RunIDKey, runID), log.Error(cause))
}
