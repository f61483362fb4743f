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

package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/duraflow/internal/engine/action"
	"github.com/tombee/duraflow/internal/engine/executor"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/engine/task"
	"github.com/tombee/duraflow/internal/tracing"
)

type testEnv struct {
	handler http.Handler
	store   *store.Store
	engine  *executor.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := executor.New(s, task.NewSimulatedRunner(logger), action.NewDispatcher(logger), logger, executor.DefaultConfig())
	server := NewServer(s, engine, logger, "test")

	return &testEnv{handler: server.Routes(), store: s, engine: engine}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const validDefinition = `{
	"name": "order-flow",
	"steps": [
		{"id": "validate", "type": "task", "config": {"action": "validate_order", "duration_seconds": 0}},
		{"id": "charge", "type": "task", "config": {"action": "charge_payment", "duration_seconds": 0}, "depends_on": ["validate"]}
	]
}`

func (e *testEnv) createWorkflow(t *testing.T) WorkflowDetail {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/workflows", validDefinition)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var wf WorkflowDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	return wf
}

func TestCreateWorkflow(t *testing.T) {
	env := newTestEnv(t)

	wf := env.createWorkflow(t)
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, "order-flow", wf.Name)
	assert.JSONEq(t, validDefinition, string(wf.Definition))
}

func TestCreateWorkflowRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name": `},
		{"empty steps", `{"name": "x", "steps": []}`},
		{
			"duplicate ids",
			`{"name": "x", "steps": [
				{"id": "a", "config": {"action": "one"}},
				{"id": "a", "config": {"action": "two"}}
			]}`,
		},
		{
			"unknown dependency",
			`{"name": "x", "steps": [{"id": "a", "config": {"action": "one"}, "depends_on": ["ghost"]}]}`,
		},
		{
			"cycle",
			`{"name": "x", "steps": [
				{"id": "a", "config": {"action": "one"}, "depends_on": ["b"]},
				{"id": "b", "config": {"action": "two"}, "depends_on": ["a"]}
			]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/workflows", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestListWorkflowsOmitsDefinition(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t)

	rec := env.do(t, http.MethodGet, "/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw, 1)
	assert.NotContains(t, raw[0], "definition")
	assert.Contains(t, raw[0], "name")
}

func TestGetWorkflowNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t)

	rec := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var run RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, wf.ID, run.WorkflowID)
	assert.Equal(t, "order-flow", run.WorkflowName)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "validate", run.Steps[0].StepID)
	assert.Equal(t, "charge", run.Steps[1].StepID)
	assert.Equal(t, 0, run.Steps[0].StepIndex)
	assert.Equal(t, 1, run.Steps[1].StepIndex)

	env.engine.Wait()

	rec = env.do(t, http.MethodGet, "/v1/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var final RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, "completed", final.Status)
	for _, step := range final.Steps {
		assert.Equal(t, "completed", step.Status)
	}
}

func TestStepResponseHidesInternalFields(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t)

	rec := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.engine.Wait()

	var run struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = env.do(t, http.MethodGet, "/v1/runs/"+run.ID, "")
	var raw struct {
		Steps []map[string]any `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.NotEmpty(t, raw.Steps)
	for _, step := range raw.Steps {
		assert.NotContains(t, step, "run_id")
		assert.NotContains(t, step, "idempotency_key")
		assert.NotContains(t, step, "created_at")
	}
}

func TestCreateRunUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/workflows/missing/runs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRunUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t)

	rec := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/runs", `{"order_id": "ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunWithOrderAdvancesIt(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t)

	rec := env.do(t, http.MethodPost, "/v1/orders", `{"amount": 50}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var order OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "pending", order.Status)

	rec = env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/runs", `{"order_id": "`+order.ID+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.engine.Wait()

	rec = env.do(t, http.MethodGet, "/v1/orders/"+order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var final OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	// validate_order then charge_payment ran inside the run's commits.
	assert.Equal(t, "charged", final.Status)
}

func TestCreateOrderRejectsBadAmount(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"amount": 0}`, `{"amount": -3}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/v1/orders", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t)

	rec := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.engine.Wait()

	rec = env.do(t, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "order-flow", runs[0].WorkflowName)
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "test", v["version"])
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t)

	rec := env.do(t, http.MethodGet, "/v1/db/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot map[string]store.TableSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 1, snapshot["workflows"].Count)
}

func TestCorrelationHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/health", "")
	assert.NotEmpty(t, rec.Header().Get(tracing.CorrelationHeader))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(tracing.CorrelationHeader, "fixed-id")
	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	assert.Equal(t, "fixed-id", resp.Header().Get(tracing.CorrelationHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
