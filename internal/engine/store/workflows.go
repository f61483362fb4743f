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

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/duraflow/pkg/errors"
)

// CreateWorkflow inserts a new workflow and commits. The definition bytes
// are stored verbatim.
func (s *Store) CreateWorkflow(ctx context.Context, name string, definition []byte) (*Workflow, error) {
	wf := &Workflow{
		ID:         uuid.New().String(),
		Name:       name,
		Definition: definition,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, definition, created_at) VALUES (?, ?, ?, ?)`,
		wf.ID, wf.Name, string(wf.Definition), wf.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return wf, nil
}

// GetWorkflow retrieves a workflow with its full definition.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	var definition string
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, created_at FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &definition, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	wf.Definition = []byte(definition)
	wf.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &wf, nil
}

// ListWorkflows returns workflow summaries, newest first. Definitions are
// deliberately omitted from the list view.
func (s *Store) ListWorkflows(ctx context.Context) ([]*WorkflowSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM workflows ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*WorkflowSummary
	for rows.Next() {
		var wf WorkflowSummary
		var createdAt string
		if err := rows.Scan(&wf.ID, &wf.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		wf.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		workflows = append(workflows, &wf)
	}

	return workflows, rows.Err()
}
