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
	"time"

	"github.com/tombee/duraflow/internal/engine/store"
)

// WorkflowSummary is the list-view workflow payload. No definition.
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowDetail adds the parsed definition to the summary.
type WorkflowDetail struct {
	WorkflowSummary
	Definition json.RawMessage `json:"definition"`
}

// StepResponse is the step payload. Internal bookkeeping fields
// (run_id, idempotency_key, created_at) are deliberately absent.
type StepResponse struct {
	ID           string     `json:"id"`
	StepID       string     `json:"step_id"`
	StepIndex    int        `json:"step_index"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunSummary is the list-view run payload.
type RunSummary struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	WorkflowName string     `json:"workflow_name"`
	OrderID      string     `json:"order_id,omitempty"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// RunDetail adds the run's steps to the summary.
type RunDetail struct {
	RunSummary
	Steps []StepResponse `json:"steps"`
}

// OrderResponse is the order payload.
type OrderResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRunRequest starts a run, optionally linked to an order.
type CreateRunRequest struct {
	OrderID string `json:"order_id"`
}

// CreateOrderRequest creates a demo order.
type CreateOrderRequest struct {
	Amount float64 `json:"amount"`
}

func workflowSummary(wf *store.WorkflowSummary) WorkflowSummary {
	return WorkflowSummary{ID: wf.ID, Name: wf.Name, CreatedAt: wf.CreatedAt}
}

func workflowDetail(wf *store.Workflow) WorkflowDetail {
	return WorkflowDetail{
		WorkflowSummary: WorkflowSummary{ID: wf.ID, Name: wf.Name, CreatedAt: wf.CreatedAt},
		Definition:      json.RawMessage(wf.Definition),
	}
}

func runSummary(run *store.Run) RunSummary {
	return RunSummary{
		ID:           run.ID,
		WorkflowID:   run.WorkflowID,
		WorkflowName: run.WorkflowName,
		OrderID:      run.OrderID,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

func runDetail(run *store.Run, steps []*store.Step) RunDetail {
	detail := RunDetail{
		RunSummary: runSummary(run),
		Steps:      make([]StepResponse, 0, len(steps)),
	}
	for _, step := range steps {
		detail.Steps = append(detail.Steps, stepResponse(step))
	}
	return detail
}

func stepResponse(step *store.Step) StepResponse {
	return StepResponse{
		ID:           step.ID,
		StepID:       step.StepID,
		StepIndex:    step.StepIndex,
		Status:       string(step.Status),
		RetryCount:   step.RetryCount,
		MaxRetries:   step.MaxRetries,
		StartedAt:    step.StartedAt,
		CompletedAt:  step.CompletedAt,
		ErrorMessage: step.ErrorMessage,
	}
}

func orderResponse(order *store.Order) OrderResponse {
	return OrderResponse{
		ID:        order.ID,
		Status:    string(order.Status),
		Amount:    order.Amount,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}
