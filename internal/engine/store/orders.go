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

// CreateOrder inserts a demo order in pending status and commits.
func (s *Store) CreateOrder(ctx context.Context, amount float64) (*Order, error) {
	now := time.Now().UTC()
	order := &Order{
		ID:        uuid.New().String(),
		Status:    OrderPending,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, status, amount, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.Status, order.Amount,
		order.CreatedAt.Format(timeFormat), order.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	return order, nil
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := getOrder(ctx, s.db, id)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "order", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// querier abstracts *sql.DB and *sql.Tx so order reads work in both.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOrder(ctx context.Context, q querier, id string) (*Order, error) {
	var order Order
	var createdAt, updatedAt string

	err := q.QueryRowContext(ctx,
		`SELECT id, status, amount, created_at, updated_at FROM orders WHERE id = ?`, id,
	).Scan(&order.ID, &order.Status, &order.Amount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	order.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	order.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &order, nil
}
