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

package workflow

import (
	"testing"

	"github.com/tombee/duraflow/pkg/errors"
)

func step(id string, deps ...string) StepDefinition {
	return StepDefinition{
		ID:        id,
		Type:      "task",
		Config:    StepConfig{Action: "noop", DurationSeconds: 1},
		DependsOn: deps,
	}
}

func sortedIDs(t *testing.T, steps []StepDefinition) []string {
	t.Helper()
	ordered, err := Sort(steps)
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}
	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	return ids
}

func TestSortDependencyOrder(t *testing.T) {
	tests := []struct {
		name  string
		steps []StepDefinition
		want  []string
	}{
		{
			name:  "linear chain",
			steps: []StepDefinition{step("a"), step("b", "a"), step("c", "b")},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "independent steps keep array order",
			steps: []StepDefinition{step("c"), step("a"), step("b")},
			want:  []string{"c", "a", "b"},
		},
		{
			name: "diamond breaks ties by array position",
			steps: []StepDefinition{
				step("root"),
				step("right", "root"),
				step("left", "root"),
				step("join", "left", "right"),
			},
			want: []string{"root", "right", "left", "join"},
		},
		{
			name:  "forward reference",
			steps: []StepDefinition{step("b", "a"), step("a")},
			want:  []string{"a", "b"},
		},
		{
			name: "mixed roots and dependents",
			steps: []StepDefinition{
				step("x"),
				step("y", "x"),
				step("z"),
				step("w", "z", "y"),
			},
			want: []string{"x", "z", "y", "w"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sortedIDs(t, tt.steps)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSortIsDeterministic(t *testing.T) {
	steps := []StepDefinition{
		step("root"),
		step("b", "root"),
		step("a", "root"),
		step("c", "a", "b"),
	}

	first := sortedIDs(t, steps)
	for i := 0; i < 10; i++ {
		again := sortedIDs(t, steps)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("order changed between sorts: %v vs %v", first, again)
			}
		}
	}
}

func TestSortDetectsCycle(t *testing.T) {
	tests := []struct {
		name  string
		steps []StepDefinition
	}{
		{
			name:  "self cycle",
			steps: []StepDefinition{step("a", "a")},
		},
		{
			name:  "two step cycle",
			steps: []StepDefinition{step("a", "b"), step("b", "a")},
		},
		{
			name: "cycle behind valid prefix",
			steps: []StepDefinition{
				step("ok"),
				step("a", "ok", "c"),
				step("b", "a"),
				step("c", "b"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sort(tt.steps)
			if err == nil {
				t.Fatal("expected cycle error, got nil")
			}
			if !errors.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}
