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

// Package action maps step action names to domain side effects.
//
// Handlers run inside the same transaction that records a step's success;
// a handler error aborts that commit and surfaces to the executor as a
// task failure.
package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/duraflow/internal/engine/store"
)

// HandlerFunc mutates domain state linked to a run, inside the caller's
// transaction. Handlers never commit.
type HandlerFunc func(ctx context.Context, tx *store.Tx, orderID string) error

// StateError reports an order status transition attempted from the wrong
// predecessor state.
type StateError struct {
	OrderID  string
	Status   store.OrderStatus
	Expected store.OrderStatus
	Target   store.OrderStatus
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot transition order %s to %q from %q (expected %q)",
		e.OrderID, e.Target, e.Status, e.Expected)
}

// Dispatcher is an immutable action-name-to-handler table built at startup.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with the built-in order handlers
// registered.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	d.Register("validate_order", d.validateOrder)
	d.Register("charge_payment", d.chargePayment)
	d.Register("ship_order", d.shipOrder)
	d.Register("send_notification", d.sendNotification)
	return d
}

// Register adds a handler for an action name. Intended for startup wiring;
// not safe for concurrent use with Dispatch.
func (d *Dispatcher) Register(name string, handler HandlerFunc) {
	d.handlers[name] = handler
}

// Dispatch invokes the handler registered for the action, if any.
//
// No-op when the run has no linked order or the action is unregistered;
// both cases are deliberate so workflows can mix domain and non-domain
// steps freely.
func (d *Dispatcher) Dispatch(ctx context.Context, tx *store.Tx, action, orderID string) error {
	if orderID == "" {
		return nil
	}
	handler, ok := d.handlers[action]
	if !ok {
		return nil
	}
	return handler(ctx, tx, orderID)
}

// validateOrder transitions an order pending -> validated. Checks amount > 0.
func (d *Dispatcher) validateOrder(ctx context.Context, tx *store.Tx, orderID string) error {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != store.OrderPending {
		return &StateError{OrderID: orderID, Status: order.Status, Expected: store.OrderPending, Target: store.OrderValidated}
	}
	if order.Amount <= 0 {
		return fmt.Errorf("order %s amount must be > 0, got %g", orderID, order.Amount)
	}
	return tx.UpdateOrderStatus(ctx, orderID, store.OrderValidated)
}

// chargePayment transitions an order validated -> charged.
func (d *Dispatcher) chargePayment(ctx context.Context, tx *store.Tx, orderID string) error {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != store.OrderValidated {
		return &StateError{OrderID: orderID, Status: order.Status, Expected: store.OrderValidated, Target: store.OrderCharged}
	}
	return tx.UpdateOrderStatus(ctx, orderID, store.OrderCharged)
}

// shipOrder transitions an order charged -> shipped.
func (d *Dispatcher) shipOrder(ctx context.Context, tx *store.Tx, orderID string) error {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != store.OrderCharged {
		return &StateError{OrderID: orderID, Status: order.Status, Expected: store.OrderCharged, Target: store.OrderShipped}
	}
	return tx.UpdateOrderStatus(ctx, orderID, store.OrderShipped)
}

// sendNotification logs a notification. No status transition.
func (d *Dispatcher) sendNotification(ctx context.Context, tx *store.Tx, orderID string) error {
	d.logger.Info("notification sent", slog.String("order_id", orderID))
	return nil
}
