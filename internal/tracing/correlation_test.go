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

package tracing

import (
	"context"
	"testing"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID = %q, want abc-123", got)
	}
}

func TestCorrelationIDGenerated(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	if CorrelationID(ctx) == "" {
		t.Error("empty id should be replaced with a generated one")
	}
}

func TestCorrelationIDAbsent(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on bare context = %q, want empty", got)
	}
}

func TestInitDisabledIsNoOp(t *testing.T) {
	shutdown, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	// Spans from the no-op provider must be safe to use.
	_, span := StartRunSpan(context.Background(), "r1", "wf", false)
	EndSpan(span, nil)
}
