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

// Package api exposes the duraflow HTTP API. It is a thin adapter:
// handlers validate input, call the store or engine, and shape the
// response; no workflow semantics live here.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/duraflow/internal/engine/executor"
	"github.com/tombee/duraflow/internal/engine/store"
	"github.com/tombee/duraflow/internal/log"
	"github.com/tombee/duraflow/internal/tracing"
)

// Server holds the API's dependencies.
type Server struct {
	store   *store.Store
	engine  *executor.Engine
	logger  *slog.Logger
	version string
}

// NewServer creates the API server.
func NewServer(st *store.Store, engine *executor.Engine, logger *slog.Logger, version string) *Server {
	return &Server{
		store:   st,
		engine:  engine,
		logger:  log.WithComponent(logger, "api"),
		version: version,
	}
}

// Routes builds the API handler with all routes and middleware attached.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /v1/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /v1/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /v1/workflows/{id}/runs", s.handleCreateRun)

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)

	mux.HandleFunc("POST /v1/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /v1/orders/{id}", s.handleGetOrder)

	mux.HandleFunc("GET /v1/db/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withCorrelation(s.withLogging(mux))
}

// withCorrelation attaches a correlation ID to the request context,
// minting one when the client did not send the header.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.WithCorrelationID(r.Context(), r.Header.Get(tracing.CorrelationHeader))
		w.Header().Set(tracing.CorrelationHeader, tracing.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("correlation_id", tracing.CorrelationID(r.Context())),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
