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

// Package workflow provides the workflow definition format and its validator.
//
// A definition is a named DAG of steps submitted as JSON. Definitions are
// immutable once stored; the engine keeps the submitted bytes verbatim and
// re-parses them when a run is created.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tombee/duraflow/pkg/errors"
)

// StepConfig holds the execution parameters of a single step.
type StepConfig struct {
	// Action names the side effect dispatched inside the step's success
	// commit. Unregistered actions are a no-op at dispatch time.
	Action string `json:"action"`

	// DurationSeconds is how long the simulated task body runs (default 1.0).
	DurationSeconds float64 `json:"duration_seconds"`

	// FailProbability is the chance in [0,1] that the task body fails (default 0).
	FailProbability float64 `json:"fail_probability"`

	// MaxRetries is the number of additional attempts after the first failure (default 0).
	MaxRetries int `json:"max_retries"`
}

// UnmarshalJSON applies defaults for absent fields.
func (c *StepConfig) UnmarshalJSON(data []byte) error {
	type alias StepConfig
	a := alias{DurationSeconds: 1.0}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = StepConfig(a)
	return nil
}

// Duration returns DurationSeconds as a time.Duration.
func (c StepConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds * float64(time.Second))
}

// StepDefinition is one step of a workflow definition.
type StepDefinition struct {
	// ID is the definition-level step identifier, unique within the workflow.
	ID string `json:"id"`

	// Type is a free-form step kind label.
	Type string `json:"type"`

	// Config holds the step's execution parameters.
	Config StepConfig `json:"config"`

	// DependsOn lists step IDs that must complete before this step runs.
	// Forward references are permitted.
	DependsOn []string `json:"depends_on"`
}

// Definition is a submitted workflow: a named, acyclic DAG of steps.
type Definition struct {
	// Name is the workflow display name.
	Name string `json:"name"`

	// Steps are the executable units of the workflow (at least one).
	Steps []StepDefinition `json:"steps"`
}

// Parse decodes a definition from its stored JSON bytes.
// The bytes are expected to have passed Validate at submission time;
// Parse does not re-validate.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	return &def, nil
}

// Validate checks the definition's structural invariants:
// non-empty steps, unique step IDs, resolvable depends_on references,
// valid config ranges, and an acyclic dependency graph.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if len(d.Steps) == 0 {
		return &errors.ValidationError{Field: "steps", Message: "workflow must have at least one step"}
	}

	// Pass 1: duplicate IDs
	ids := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step.ID == "" {
			return &errors.ValidationError{Field: "steps", Message: "step id is required"}
		}
		if _, dup := ids[step.ID]; dup {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("duplicate step id: %q", step.ID),
			}
		}
		ids[step.ID] = struct{}{}
	}

	// Pass 2: depends_on references and config ranges
	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := ids[dep]; !ok {
				return &errors.ValidationError{
					Field:   "steps",
					Message: fmt.Sprintf("step %q depends on %q which is not defined in this workflow", step.ID, dep),
				}
			}
		}
		if step.Config.Action == "" {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("step %q has no action", step.ID),
			}
		}
		if step.Config.FailProbability < 0 || step.Config.FailProbability > 1 {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("step %q fail_probability must be in [0,1]", step.ID),
			}
		}
		if step.Config.MaxRetries < 0 {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("step %q max_retries must be >= 0", step.ID),
			}
		}
		if step.Config.DurationSeconds < 0 {
			return &errors.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("step %q duration_seconds must be >= 0", step.ID),
			}
		}
	}

	// Pass 3: cycle detection. Sort already runs Kahn's algorithm, so a
	// failed sort is exactly a cycle. The executor sorts again for data
	// loaded from the store; the redundancy is deliberate.
	if _, err := Sort(d.Steps); err != nil {
		return err
	}

	return nil
}

// ConfigByStepID returns a lookup from definition step ID to its config.
func (d *Definition) ConfigByStepID() map[string]StepConfig {
	configs := make(map[string]StepConfig, len(d.Steps))
	for _, step := range d.Steps {
		configs[step.ID] = step.Config
	}
	return configs
}
