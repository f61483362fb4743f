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

package action

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/pkg/errors"
)

func newFixture(t *testing.T) (*store.Store, *Dispatcher) {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), WAL: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, d
}

// dispatch runs one action in its own transaction, committing on success.
func dispatch(t *testing.T, s *store.Store, d *Dispatcher, action, orderID string) error {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := d.Dispatch(ctx, tx, action, orderID); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return nil
}

func orderStatus(t *testing.T, s *store.Store, id string) store.OrderStatus {
	t.Helper()
	order, err := s.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	return order.Status
}

func TestOrderStatusMachine(t *testing.T) {
	s, d := newFixture(t)

	order, err := s.CreateOrder(context.Background(), 25)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	transitions := []struct {
		action string
		want   store.OrderStatus
	}{
		{"validate_order", store.OrderValidated},
		{"charge_payment", store.OrderCharged},
		{"ship_order", store.OrderShipped},
	}
	for _, tr := range transitions {
		if err := dispatch(t, s, d, tr.action, order.ID); err != nil {
			t.Fatalf("%s failed: %v", tr.action, err)
		}
		if got := orderStatus(t, s, order.ID); got != tr.want {
			t.Fatalf("after %s: status = %q, want %q", tr.action, got, tr.want)
		}
	}
}

func TestWrongPredecessorStateFails(t *testing.T) {
	s, d := newFixture(t)

	order, err := s.CreateOrder(context.Background(), 25)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// Charging a pending order skips the validated state.
	err = dispatch(t, s, d, "charge_payment", order.ID)
	if err == nil {
		t.Fatal("expected state error")
	}
	stateErr, ok := err.(*StateError)
	if !ok {
		t.Fatalf("expected *StateError, got %T: %v", err, err)
	}
	if stateErr.Expected != store.OrderValidated || stateErr.Target != store.OrderCharged {
		t.Errorf("unexpected state error: %+v", stateErr)
	}

	// The aborted commit left the order untouched.
	if got := orderStatus(t, s, order.ID); got != store.OrderPending {
		t.Errorf("status = %q after failed dispatch, want pending", got)
	}
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	s, _ := newFixture(t)
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Bypass the API-level amount check to exercise the handler's own guard.
	order, err := s.CreateOrder(context.Background(), 0)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if err := dispatch(t, s, d, "validate_order", order.ID); err == nil {
		t.Fatal("expected amount validation error")
	}
}

func TestDispatchNoOps(t *testing.T) {
	s, d := newFixture(t)
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, 25)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// No linked order: silent no-op regardless of action.
	if err := dispatch(t, s, d, "charge_payment", ""); err != nil {
		t.Errorf("dispatch without order should no-op, got %v", err)
	}

	// Unregistered action: silent no-op.
	if err := dispatch(t, s, d, "launch_rocket", order.ID); err != nil {
		t.Errorf("unregistered action should no-op, got %v", err)
	}
	if got := orderStatus(t, s, order.ID); got != store.OrderPending {
		t.Errorf("status = %q, want pending", got)
	}

	// send_notification logs without touching the order.
	if err := dispatch(t, s, d, "send_notification", order.ID); err != nil {
		t.Errorf("send_notification failed: %v", err)
	}
	if got := orderStatus(t, s, order.ID); got != store.OrderPending {
		t.Errorf("status = %q, want pending", got)
	}
}

func TestDispatchMissingOrder(t *testing.T) {
	s, d := newFixture(t)

	err := dispatch(t, s, d, "validate_order", "missing-order")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
