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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for workflow execution.
const (
	AttrRunID        = attribute.Key("duraflow.run.id")
	AttrWorkflowName = attribute.Key("duraflow.workflow.name")
	AttrStepID       = attribute.Key("duraflow.step.id")
	AttrStepAction   = attribute.Key("duraflow.step.action")
	AttrStepAttempt  = attribute.Key("duraflow.step.attempt")
	AttrRunRecovered = attribute.Key("duraflow.run.recovered")
)

// StartRunSpan begins a span covering one run execution attempt.
func StartRunSpan(ctx context.Context, runID, workflowName string, recovered bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.execute",
		trace.WithAttributes(
			AttrRunID.String(runID),
			AttrWorkflowName.String(workflowName),
			AttrRunRecovered.Bool(recovered),
		),
	)
}

// StartStepSpan begins a span covering one step attempt.
func StartStepSpan(ctx context.Context, runID, stepID, action string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "step.execute",
		trace.WithAttributes(
			AttrRunID.String(runID),
			AttrStepID.String(stepID),
			AttrStepAction.String(action),
			AttrStepAttempt.Int(attempt),
		),
	)
}

// EndSpan records err on the span, sets its status, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
