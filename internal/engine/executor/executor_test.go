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
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tombee/duraflow/internal/engine/action"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/engine/task"
	"github.com/tombee/duraflow/pkg/workflow"
)

// scriptedRunner fails each action a fixed number of times, then
// succeeds. It records every invocation per action.
type scriptedRunner struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newScriptedRunner(failures map[string]int) *scriptedRunner {
	if failures == nil {
		failures = map[string]int{}
	}
	return &scriptedRunner{failures: failures, calls: map[string]int{}}
}

func (r *scriptedRunner) Execute(ctx context.Context, cfg workflow.StepConfig) (task.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[cfg.Action]++
	if r.failures[cfg.Action] > 0 {
		r.failures[cfg.Action]--
		return nil, &task.ExecutionError{Action: cfg.Action, Message: "scripted failure"}
	}
	return task.Result{"action": cfg.Action, "status": "success"}, nil
}

func (r *scriptedRunner) callCount(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[action]
}

type fixture struct {
	store  *store.Store
	engine *Engine
	runner *scriptedRunner
}

func newFixture(t *testing.T, failures map[string]int, cfg Config) *fixture {
	t.Helper()

	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), WAL: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := newScriptedRunner(failures)
	engine := New(s, runner, action.NewDispatcher(logger), logger, cfg)

	return &fixture{store: s, engine: engine, runner: runner}
}

// createRun stores a workflow and a pending run with its steps.
func (f *fixture) createRun(t *testing.T, definition, orderID string) (*store.Run, []*store.Step) {
	t.Helper()
	ctx := context.Background()

	def, err := workflow.Parse([]byte(definition))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	ordered, err := workflow.Sort(def.Steps)
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}

	wf, err := f.store.CreateWorkflow(ctx, def.Name, []byte(definition))
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	run, err := f.store.CreateRun(ctx, wf.ID, orderID)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	steps, err := f.store.CreateSteps(ctx, run.ID, ordered)
	if err != nil {
		t.Fatalf("CreateSteps failed: %v", err)
	}
	return run, steps
}

func (f *fixture) getRun(t *testing.T, id string) *store.Run {
	t.Helper()
	run, err := f.store.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	return run
}

func (f *fixture) getSteps(t *testing.T, runID string) []*store.Step {
	t.Helper()
	steps, err := f.store.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	return steps
}

func (f *fixture) resultCount(t *testing.T) int {
	t.Helper()
	snapshot, err := f.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snapshot["step_results"].Count
}

const chainDefinition = `{
	"name": "chain",
	"steps": [
		{"id": "a", "type": "task", "config": {"action": "action_a", "duration_seconds": 0}},
		{"id": "b", "type": "task", "config": {"action": "action_b", "duration_seconds": 0}, "depends_on": ["a"]},
		{"id": "c", "type": "task", "config": {"action": "action_c", "duration_seconds": 0}, "depends_on": ["b"]}
	]
}`

func TestHappyPath(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	run, _ := f.createRun(t, chainDefinition, "")

	if err := f.engine.ExecuteRun(context.Background(), run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	got := f.getRun(t, run.ID)
	if got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("run timestamps should be set")
	}

	steps := f.getSteps(t, run.ID)
	var prevCompleted *time.Time
	for _, step := range steps {
		if step.Status != store.StepCompleted {
			t.Errorf("step %q status = %q, want completed", step.StepID, step.Status)
		}
		if step.IdempotencyKey == "" {
			t.Errorf("step %q has no idempotency key", step.StepID)
		}
		if step.RetryCount != 0 {
			t.Errorf("step %q retry_count = %d, want 0", step.StepID, step.RetryCount)
		}

		result, err := f.store.GetStepResult(context.Background(), step.IdempotencyKey)
		if err != nil {
			t.Errorf("step %q has no result under its key: %v", step.StepID, err)
		} else if result.StepID != step.ID {
			t.Errorf("result belongs to %q, want %q", result.StepID, step.ID)
		}

		// Steps execute strictly in order: each starts at or after the
		// previous one completed.
		if prevCompleted != nil && step.StartedAt != nil && step.StartedAt.Before(*prevCompleted) {
			t.Errorf("step %q started before its predecessor completed", step.StepID)
		}
		prevCompleted = step.CompletedAt
	}

	for _, a := range []string{"action_a", "action_b", "action_c"} {
		if n := f.runner.callCount(a); n != 1 {
			t.Errorf("%s invoked %d times, want 1", a, n)
		}
	}
}

func TestRetryThenSucceed(t *testing.T) {
	definition := `{
		"name": "retry-flow",
		"steps": [
			{"id": "flaky", "type": "task", "config": {"action": "flaky", "duration_seconds": 0, "max_retries": 3}}
		]
	}`
	f := newFixture(t, map[string]int{"flaky": 2}, DefaultConfig())
	run, _ := f.createRun(t, definition, "")

	if err := f.engine.ExecuteRun(context.Background(), run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}

	step := f.getSteps(t, run.ID)[0]
	if step.Status != store.StepCompleted {
		t.Errorf("step status = %q, want completed", step.Status)
	}
	if step.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", step.RetryCount)
	}
	if n := f.runner.callCount("flaky"); n != 3 {
		t.Errorf("task invoked %d times, want 3", n)
	}

	// Only the successful attempt left a result, under the step's final key.
	if n := f.resultCount(t); n != 1 {
		t.Errorf("step_results count = %d, want 1", n)
	}
	if _, err := f.store.GetStepResult(context.Background(), step.IdempotencyKey); err != nil {
		t.Errorf("no result under the final key: %v", err)
	}
}

func TestRetryExhaustion(t *testing.T) {
	definition := `{
		"name": "doomed",
		"steps": [
			{"id": "doomed", "type": "task", "config": {"action": "doomed", "duration_seconds": 0, "max_retries": 2}}
		]
	}`
	f := newFixture(t, map[string]int{"doomed": 100}, DefaultConfig())
	run, _ := f.createRun(t, definition, "")

	if err := f.engine.ExecuteRun(context.Background(), run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunFailed {
		t.Fatalf("run status = %q, want failed", got.Status)
	}

	step := f.getSteps(t, run.ID)[0]
	if step.Status != store.StepFailed {
		t.Errorf("step status = %q, want failed", step.Status)
	}
	if step.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", step.RetryCount)
	}
	if step.ErrorMessage == "" {
		t.Error("failed step should carry an error message")
	}
	// Initial attempt plus two retries.
	if n := f.runner.callCount("doomed"); n != 3 {
		t.Errorf("task invoked %d times, want 3", n)
	}
	// No attempt succeeded, so no result was ever committed.
	if n := f.resultCount(t); n != 0 {
		t.Errorf("step_results count = %d, want 0", n)
	}
}

func TestMiddleStepFailureLeavesSuccessorsPending(t *testing.T) {
	f := newFixture(t, map[string]int{"action_b": 100}, DefaultConfig())
	run, _ := f.createRun(t, chainDefinition, "")

	if err := f.engine.ExecuteRun(context.Background(), run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunFailed {
		t.Fatalf("run status = %q, want failed", got.Status)
	}

	steps := f.getSteps(t, run.ID)
	wantStatus := map[string]store.StepStatus{
		"a": store.StepCompleted,
		"b": store.StepFailed,
		"c": store.StepPending,
	}
	for _, step := range steps {
		if step.Status != wantStatus[step.StepID] {
			t.Errorf("step %q status = %q, want %q", step.StepID, step.Status, wantStatus[step.StepID])
		}
	}
	if n := f.runner.callCount("action_c"); n != 0 {
		t.Errorf("successor of failed step was invoked %d times", n)
	}
}

func TestRecoverySkipsCompletedSteps(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	run, steps := f.createRun(t, chainDefinition, "")
	ctx := context.Background()

	// Simulate a crash after step a completed: run running, a completed.
	started := time.Now().UTC()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	key := "key-a"
	if err := tx.UpdateRunStatus(ctx, run.ID, store.RunRunning, store.RunUpdate{StartedAt: &started}); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := tx.UpdateStepStatus(ctx, steps[0].ID, store.StepCompleted, store.StepUpdate{
		IdempotencyKey: &key, StartedAt: &started, CompletedAt: &started,
	}); err != nil {
		t.Fatalf("UpdateStepStatus failed: %v", err)
	}
	if err := tx.InsertStepResult(ctx, key, steps[0].ID, nil); err != nil {
		t.Fatalf("InsertStepResult failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}
	// The completed step's task body never re-ran.
	if n := f.runner.callCount("action_a"); n != 0 {
		t.Errorf("completed step re-executed %d times", n)
	}
	if n := f.runner.callCount("action_b"); n != 1 {
		t.Errorf("action_b invoked %d times, want 1", n)
	}
}

func TestRecoveryHonorsCommittedResult(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	run, steps := f.createRun(t, chainDefinition, "")
	ctx := context.Background()

	// Simulate a crash between committing step a's result and marking the
	// step completed: step is still running, but a result exists under its
	// current key.
	started := time.Now().UTC()
	key := "interrupted-key"
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.UpdateRunStatus(ctx, run.ID, store.RunRunning, store.RunUpdate{StartedAt: &started}); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := tx.UpdateStepStatus(ctx, steps[0].ID, store.StepRunning, store.StepUpdate{
		IdempotencyKey: &key, StartedAt: &started,
	}); err != nil {
		t.Fatalf("UpdateStepStatus failed: %v", err)
	}
	if err := tx.InsertStepResult(ctx, key, steps[0].ID, []byte(`{"done":true}`)); err != nil {
		t.Fatalf("InsertStepResult failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}

	stepA := f.getSteps(t, run.ID)[0]
	if stepA.Status != store.StepCompleted {
		t.Errorf("step a status = %q, want completed", stepA.Status)
	}
	// The key survives and the task body never re-ran: the committed
	// result is the authoritative completion signal.
	if stepA.IdempotencyKey != key {
		t.Errorf("idempotency key = %q, want %q", stepA.IdempotencyKey, key)
	}
	if n := f.runner.callCount("action_a"); n != 0 {
		t.Errorf("interrupted step re-executed %d times", n)
	}
}

func TestRecoveryPreservesRunStartedAt(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	run, _ := f.createRun(t, chainDefinition, "")
	ctx := context.Background()

	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.UpdateRunStatus(ctx, run.ID, store.RunRunning, store.RunUpdate{StartedAt: &started}); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	got := f.getRun(t, run.ID)
	if got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want original %v", got.StartedAt, started)
	}
}

func TestTerminalRunIsNeverTouched(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	run, _ := f.createRun(t, chainDefinition, "")
	ctx := context.Background()

	completed := time.Now().UTC()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.UpdateRunStatus(ctx, run.ID, store.RunFailed, store.RunUpdate{CompletedAt: &completed}); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunFailed {
		t.Errorf("terminal run status changed to %q", got.Status)
	}
	for a, n := range map[string]int{"action_a": 0, "action_b": 0, "action_c": 0} {
		if f.runner.callCount(a) != n {
			t.Errorf("terminal run executed %s", a)
		}
	}
}

const orderDefinition = `{
	"name": "order-flow",
	"steps": [
		{"id": "validate", "type": "task", "config": {"action": "validate_order", "duration_seconds": 0}},
		{"id": "charge", "type": "task", "config": {"action": "charge_payment", "duration_seconds": 0}, "depends_on": ["validate"]},
		{"id": "ship", "type": "task", "config": {"action": "ship_order", "duration_seconds": 0}, "depends_on": ["charge"]}
	]
}`

func TestRunAdvancesLinkedOrder(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	ctx := context.Background()

	order, err := f.store.CreateOrder(ctx, 99.99)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	run, _ := f.createRun(t, orderDefinition, order.ID)

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	if got := f.getRun(t, run.ID); got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}
	got, err := f.store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != store.OrderShipped {
		t.Errorf("order status = %q, want shipped", got.Status)
	}
}

func TestActionFailureNotRetriedWhenDisabled(t *testing.T) {
	// charge_payment on a pending order violates the state machine; with
	// retry disabled the step fails immediately despite its retry budget.
	definition := `{
		"name": "bad-order-flow",
		"steps": [
			{"id": "charge", "type": "task", "config": {"action": "charge_payment", "duration_seconds": 0, "max_retries": 3}}
		]
	}`
	cfg := DefaultConfig()
	cfg.RetryActionFailures = false
	f := newFixture(t, nil, cfg)
	ctx := context.Background()

	order, err := f.store.CreateOrder(ctx, 10)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	run, _ := f.createRun(t, definition, order.ID)

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	step := f.getSteps(t, run.ID)[0]
	if step.Status != store.StepFailed {
		t.Fatalf("step status = %q, want failed", step.Status)
	}
	if step.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0 with retries disabled", step.RetryCount)
	}
	// The aborted success commit rolled the result back with it.
	if n := f.resultCount(t); n != 0 {
		t.Errorf("step_results count = %d, want 0", n)
	}
	got, err := f.store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != store.OrderPending {
		t.Errorf("order status = %q, want pending", got.Status)
	}
}

func TestActionFailureRetriedByDefault(t *testing.T) {
	definition := `{
		"name": "bad-order-flow",
		"steps": [
			{"id": "charge", "type": "task", "config": {"action": "charge_payment", "duration_seconds": 0, "max_retries": 2}}
		]
	}`
	f := newFixture(t, nil, DefaultConfig())
	ctx := context.Background()

	order, err := f.store.CreateOrder(ctx, 10)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	run, _ := f.createRun(t, definition, order.ID)

	if err := f.engine.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun failed: %v", err)
	}

	step := f.getSteps(t, run.ID)[0]
	if step.Status != store.StepFailed {
		t.Fatalf("step status = %q, want failed", step.Status)
	}
	if step.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", step.RetryCount)
	}
	// The task body itself succeeds each time; only the action aborts.
	if n := f.runner.callCount("charge_payment"); n != 3 {
		t.Errorf("task invoked %d times, want 3", n)
	}
}

func TestRecoverSchedulesInterruptedRuns(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	ctx := context.Background()

	run1, _ := f.createRun(t, chainDefinition, "")
	run2, _ := f.createRun(t, chainDefinition, "")
	run3, _ := f.createRun(t, chainDefinition, "")

	// run1 and run2 were interrupted mid-flight; run3 already finished.
	started := time.Now().UTC()
	for _, id := range []string{run1.ID, run2.ID} {
		tx, err := f.store.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if err := tx.UpdateRunStatus(ctx, id, store.RunRunning, store.RunUpdate{StartedAt: &started}); err != nil {
			t.Fatalf("UpdateRunStatus failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.UpdateRunStatus(ctx, run3.ID, store.RunCompleted, store.RunUpdate{CompletedAt: &started}); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	recovered, err := f.engine.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("recovered %d runs, want 2", recovered)
	}
	f.engine.Wait()

	for _, id := range []string{run1.ID, run2.ID} {
		if got := f.getRun(t, id); got.Status != store.RunCompleted {
			t.Errorf("recovered run %s status = %q, want completed", id, got.Status)
		}
	}
}

func TestStartRunExecutesInBackground(t *testing.T) {
	f := newFixture(t, nil, DefaultConfig())
	run, _ := f.createRun(t, chainDefinition, "")

	f.engine.StartRun(run.ID)
	f.engine.Wait()

	if got := f.getRun(t, run.ID); got.Status != store.RunCompleted {
		t.Fatalf("run status = %q, want completed", got.Status)
	}
}
