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
	"net/http"

	"github.com/tombee/duraflow/internal/daemon/httputil"
	"github.com/tombee/duraflow/pkg/workflow"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		httputil.WriteErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrderID != "" {
		if _, err := s.store.GetOrder(r.Context(), req.OrderID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	def, err := workflow.Parse(wf.Definition)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ordered, err := workflow.Sort(def.Steps)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	run, err := s.store.CreateRun(r.Context(), wf.ID, req.OrderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	steps, err := s.store.CreateSteps(r.Context(), run.ID, ordered)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	run.WorkflowName = wf.Name
	s.engine.StartRun(run.ID)

	httputil.WriteJSON(w, http.StatusAccepted, runDetail(run, steps))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, runSummary(run))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	steps, err := s.store.ListSteps(r.Context(), run.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runDetail(run, steps))
}
