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

package store

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run lifecycle states. A run is created pending, becomes running on its
// first execution attempt, and ends completed or failed. Terminal runs are
// never mutated again.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the lifecycle state of a step within a run.
type StepStatus string

// Step lifecycle states. A retried step moves running -> pending with an
// incremented retry_count and a fresh idempotency key.
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// OrderStatus is the state of a demo order.
type OrderStatus string

// Order states, advanced by action handlers:
// pending -> validated -> charged -> shipped.
const (
	OrderPending   OrderStatus = "pending"
	OrderValidated OrderStatus = "validated"
	OrderCharged   OrderStatus = "charged"
	OrderShipped   OrderStatus = "shipped"
)

// Workflow is a stored workflow definition. Immutable once created.
type Workflow struct {
	ID   string
	Name string

	// Definition holds the submitted definition bytes verbatim.
	Definition []byte

	CreatedAt time.Time
}

// WorkflowSummary is the list-view projection of a workflow (no definition).
type WorkflowSummary struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Run is one execution instance of a workflow.
type Run struct {
	ID         string
	WorkflowID string

	// WorkflowName is joined from the workflows table on reads.
	WorkflowName string

	// OrderID links the run to a demo order, or is empty.
	OrderID string

	Status      RunStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Step is one instance of a workflow step within a run.
type Step struct {
	ID    string
	RunID string

	// StepID is the definition-level step identifier.
	StepID string

	// StepIndex is the step's topological position within the run, 0-based.
	StepIndex int

	Status StepStatus

	// IdempotencyKey is the token under which the current attempt's result
	// is recorded. Empty until the first attempt starts.
	IdempotencyKey string

	RetryCount   int
	MaxRetries   int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
}

// StepResult is the durable marker that a step attempt's work completed.
// Its presence under a step's current idempotency key is the authoritative
// signal that the side effect is recorded.
type StepResult struct {
	IdempotencyKey string
	StepID         string
	ResultData     []byte
	CreatedAt      time.Time
}

// Order is the demo domain entity.
type Order struct {
	ID        string
	Status    OrderStatus
	Amount    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunUpdate enumerates the optional run fields a status update may set.
// Nil fields are left untouched; started_at in particular is written at
// most once and never overwritten by recovery.
type RunUpdate struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StepUpdate enumerates the optional step fields a status update may set.
// Nil fields are left untouched.
type StepUpdate struct {
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	IdempotencyKey *string
	RetryCount     *int
}
