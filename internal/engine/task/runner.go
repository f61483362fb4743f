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

// Package task invokes opaque task bodies for workflow steps.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tombee/duraflow/pkg/workflow"
)

// Result is the opaque outcome of a task body.
type Result map[string]any

// ExecutionError reports that a task body signaled failure.
type ExecutionError struct {
	// Action is the step's declared action name.
	Action string

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %s", e.Action, e.Message)
}

// Runner executes a task body for a step configuration. Runners are
// stateless; task bodies must be retry-tolerant since the engine
// guarantees at-most-once recording, not at-most-once execution.
type Runner interface {
	Execute(ctx context.Context, cfg workflow.StepConfig) (Result, error)
}

// SimulatedRunner is the demo task body: it sleeps for the configured
// duration and fails with the configured probability.
type SimulatedRunner struct {
	logger *slog.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulatedRunner creates a simulated runner.
func NewSimulatedRunner(logger *slog.Logger) *SimulatedRunner {
	return &SimulatedRunner{
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute sleeps cfg.Duration then fails with probability cfg.FailProbability.
func (r *SimulatedRunner) Execute(ctx context.Context, cfg workflow.StepConfig) (Result, error) {
	r.logger.Info("executing task",
		slog.String("action", cfg.Action),
		slog.Float64("duration_seconds", cfg.DurationSeconds),
	)

	if d := cfg.Duration(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if r.roll() < cfg.FailProbability {
		err := &ExecutionError{
			Action:  cfg.Action,
			Message: fmt.Sprintf("simulated failure (fail_probability=%g)", cfg.FailProbability),
		}
		r.logger.Warn("task failed", slog.String("action", cfg.Action), slog.Any("error", err))
		return nil, err
	}

	r.logger.Info("task completed", slog.String("action", cfg.Action))
	return Result{
		"action":   cfg.Action,
		"status":   "success",
		"duration": cfg.DurationSeconds,
	}, nil
}

func (r *SimulatedRunner) roll() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}
