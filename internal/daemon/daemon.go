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

// Package daemon assembles the store, engine, and HTTP API into the
// duraflowd process.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/duraflow/internal/config"
	"github.com/tombee/duraflow/internal/daemon/api"
	"github.com/tombee/duraflow/internal/engine/action"
	"github.com/tombee/duraflow/internal/engine/executor"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/engine/task"
	"github.com/tombee/duraflow/internal/log"
	"github.com/tombee/duraflow/internal/tracing"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and the
// engine's in-flight runs.
const shutdownTimeout = 30 * time.Second

// Daemon is the assembled duraflowd process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *store.Store
	engine *executor.Engine
	server *http.Server

	tracingShutdown tracing.ShutdownFunc
}

// New wires up a daemon from configuration. The store is opened and
// migrated; nothing executes until Run.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Daemon, error) {
	tracingShutdown, err := tracing.Init(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Pretty:  cfg.Tracing.Pretty,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Config{
		Path: cfg.Database.Path,
		WAL:  cfg.Database.WAL,
	})
	if err != nil {
		return nil, err
	}

	runner := task.NewSimulatedRunner(log.WithComponent(logger, "task"))
	dispatcher := action.NewDispatcher(log.WithComponent(logger, "action"))
	engine := executor.New(st, runner, dispatcher, logger, executor.Config{
		MaxConcurrentRuns:   cfg.Engine.MaxConcurrentRuns,
		RetryActionFailures: cfg.Engine.RetryActionFailures,
	})

	apiServer := api.NewServer(st, engine, logger, version)

	return &Daemon{
		cfg:    cfg,
		logger: log.WithComponent(logger, "daemon"),
		store:  st,
		engine: engine,
		server: &http.Server{
			Addr:              cfg.Listen.Addr,
			Handler:           apiServer.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		tracingShutdown: tracingShutdown,
	}, nil
}

// Run recovers interrupted runs, then serves the API until ctx is
// cancelled. Recovery happens before the listener opens so a resumed
// run can never race a duplicate start request.
func (d *Daemon) Run(ctx context.Context) error {
	recovered, err := d.engine.Recover(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("startup recovery complete", slog.Int("recovered_runs", recovered))

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("listening", slog.String("addr", d.cfg.Listen.Addr))
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		d.logger.Info("shutting down")
		return d.shutdown()
	}
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := d.server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	// In-flight runs get the remainder of the timeout; anything still
	// running is safely resumed by recovery on the next start.
	if err := d.engine.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.tracingShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
