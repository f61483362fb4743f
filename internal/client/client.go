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

// Package client is a thin HTTP client for the duraflowd API, used by
// the duraflow CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/duraflow/internal/daemon/api"
	"github.com/tombee/duraflow/internal/daemon/httputil"
)

// Client talks to a duraflowd daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// New creates a client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateWorkflow submits a workflow definition (raw JSON bytes).
func (c *Client) CreateWorkflow(ctx context.Context, definition []byte) (*api.WorkflowDetail, error) {
	var out api.WorkflowDetail
	if err := c.do(ctx, http.MethodPost, "/v1/workflows", definition, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkflows fetches all workflow summaries.
func (c *Client) ListWorkflows(ctx context.Context) ([]api.WorkflowSummary, error) {
	var out []api.WorkflowSummary
	if err := c.do(ctx, http.MethodGet, "/v1/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkflow fetches one workflow with its definition.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*api.WorkflowDetail, error) {
	var out api.WorkflowDetail
	if err := c.do(ctx, http.MethodGet, "/v1/workflows/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartRun starts a run of a workflow, optionally linked to an order.
func (c *Client) StartRun(ctx context.Context, workflowID, orderID string) (*api.RunDetail, error) {
	body, err := json.Marshal(api.CreateRunRequest{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	var out api.RunDetail
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+workflowID+"/runs", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns fetches all run summaries.
func (c *Client) ListRuns(ctx context.Context) ([]api.RunSummary, error) {
	var out []api.RunSummary
	if err := c.do(ctx, http.MethodGet, "/v1/runs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun fetches one run with its steps.
func (c *Client) GetRun(ctx context.Context, id string) (*api.RunDetail, error) {
	var out api.RunDetail
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder creates a demo order.
func (c *Client) CreateOrder(ctx context.Context, amount float64) (*api.OrderResponse, error) {
	body, err := json.Marshal(api.CreateOrderRequest{Amount: amount})
	if err != nil {
		return nil, err
	}
	var out api.OrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id string) (*api.OrderResponse, error) {
	var out api.OrderResponse
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot fetches the raw database snapshot.
func (c *Client) Snapshot(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/db/snapshot", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr httputil.ErrorResponse
		message := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cannot decode daemon response: %w", err)
	}
	return nil
}
