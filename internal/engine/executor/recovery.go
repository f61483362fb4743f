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

	"github.com/tombee/duraflow/internal/engine/metrics"
	"github.com/tombee/duraflow/internal/log"
)

// Recover resumes every run left in running status by a previous
// process. Called once at startup, before the API starts accepting
// requests, so a recovered run is never raced by a duplicate start.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	runs, err := e.store.ListRunningRuns(ctx)
	if err != nil {
		return 0, err
	}

	for _, run := range runs {
		e.logger.Info("recovering interrupted run",
			slog.String(log.RunIDKey, run.ID),
			slog.String(log.WorkflowKey, run.WorkflowName),
		)
		metrics.RecordRunRecovered()
		e.StartRun(run.ID)
	}

	if len(runs) > 0 {
		e.logger.Info("recovery scheduled", slog.Int("runs", len(runs)))
	}
	return len(runs), nil
}
