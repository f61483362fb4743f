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
	"log/slog"
	"sync"

	"github.com/tombee/duraflow/internal/engine/action"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/engine/task"
	"github.com/tombee/duraflow/internal/log"
)

// Config controls engine behaviour.
type Config struct {
	// MaxConcurrentRuns bounds simultaneous run workers.
	MaxConcurrentRuns int

	// RetryActionFailures counts action handler errors as retryable step
	// failures. When false they fail the step immediately.
	RetryActionFailures bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns:   8,
		RetryActionFailures: true,
	}
}

// Engine executes workflow runs on background workers, bounded by a
// semaphore. Each run gets its own goroutine; within a run, steps
// execute strictly in dependency order.
type Engine struct {
	store    *store.Store
	stepExec *StepExecutor
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine.
func New(st *store.Store, runner task.Runner, dispatcher *action.Dispatcher, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultConfig().MaxConcurrentRuns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store: st,
		stepExec: &StepExecutor{
			store:               st,
			runner:              runner,
			dispatcher:          dispatcher,
			logger:              log.WithComponent(logger, "step-executor"),
			retryActionFailures: cfg.RetryActionFailures,
		},
		logger: log.WithComponent(logger, "engine"),
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, cfg.MaxConcurrentRuns),
	}
}

// StartRun schedules a run for background execution and returns
// immediately. The worker blocks on the concurrency semaphore before
// touching the run, so backlog runs stay pending until a slot frees.
func (e *Engine) StartRun(runID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-e.ctx.Done():
			return
		}

		if err := e.ExecuteRun(e.ctx, runID); err != nil {
			e.logger.Error("run execution failed",
				slog.String(log.RunIDKey, runID),
				log.Error(err),
			)
		}
	}()
}

// Shutdown stops accepting work and waits for in-flight runs, up to the
// context deadline. Interrupted runs are picked up by recovery on the
// next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all scheduled runs finish. Test helper.
func (e *Engine) Wait() {
	e.wg.Wait()
}
