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
	"sort"

	"github.com/tombee/duraflow/pkg/errors"
)

// Sort returns the steps in dependency order using Kahn's algorithm.
//
// Guarantees:
//   - Every step appears after all of its dependencies.
//   - Stable: when multiple steps are ready at the same moment, they
//     appear in their original array order.
//   - Returns a ValidationError on circular dependencies.
//
// The resulting order is persisted as each step's step_index and is part
// of the engine's contract: re-sorting the same definition yields the
// same order.
func Sort(steps []StepDefinition) ([]StepDefinition, error) {
	byID := make(map[string]StepDefinition, len(steps))
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	originalIndex := make(map[string]int, len(steps))

	for idx, step := range steps {
		byID[step.ID] = step
		inDegree[step.ID] = len(step.DependsOn)
		originalIndex[step.ID] = idx
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	// Seed the queue with zero-dependency steps in original order.
	var queue []string
	for _, step := range steps {
		if inDegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}

	result := make([]StepDefinition, 0, len(steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, byID[id])

		// Collect newly-ready dependents and order them by original
		// position before appending, so ties break deterministically.
		var ready []string
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Slice(ready, func(i, j int) bool {
			return originalIndex[ready[i]] < originalIndex[ready[j]]
		})
		queue = append(queue, ready...)
	}

	if len(result) != len(steps) {
		return nil, &errors.ValidationError{
			Field:   "steps",
			Message: "circular dependency detected among workflow steps",
		}
	}

	return result, nil
}
