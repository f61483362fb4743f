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

// Package metrics exposes Prometheus counters for the execution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duraflow_runs_started_total",
			Help: "Total workflow runs that entered execution",
		},
	)

	runsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duraflow_runs_completed_total",
			Help: "Total workflow runs that reached a terminal status",
		},
		[]string{"status"},
	)

	stepAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duraflow_step_attempts_total",
			Help: "Total step attempts by outcome (completed, retry, failed)",
		},
		[]string{"outcome"},
	)

	runsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duraflow_runs_recovered_total",
			Help: "Total interrupted runs resumed at startup",
		},
	)
)

// RecordRunStart increments the started-runs counter.
func RecordRunStart() {
	runsStarted.Inc()
}

// RecordRunComplete increments the completed-runs counter.
// status should be "completed" or "failed".
func RecordRunComplete(status string) {
	runsCompleted.WithLabelValues(status).Inc()
}

// RecordStepAttempt increments the step-attempt counter.
// outcome should be "completed", "retry", or "failed".
func RecordStepAttempt(outcome string) {
	stepAttempts.WithLabelValues(outcome).Inc()
}

// RecordRunRecovered increments the recovered-runs counter.
func RecordRunRecovered() {
	runsRecovered.Inc()
}
