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
	"io"
	"net/http"

	"github.com/tombee/duraflow/internal/daemon/httputil"
	"github.com/tombee/duraflow/pkg/workflow"
)

// maxDefinitionBytes caps the accepted workflow definition size.
const maxDefinitionBytes = 1 << 20

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		httputil.WriteErrorStatus(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	def, err := workflow.Parse(body)
	if err != nil {
		httputil.WriteErrorStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := def.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	// The submitted bytes are stored verbatim; runs re-parse them later.
	wf, err := s.store.CreateWorkflow(r.Context(), def.Name, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, workflowDetail(wf))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]WorkflowSummary, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, workflowSummary(wf))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, workflowDetail(wf))
}
