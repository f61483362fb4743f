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

// Package httputil provides shared HTTP response helpers for the API.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/tombee/duraflow/pkg/errors"
)

// ErrorResponse is the uniform error payload of the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps an error to the uniform error payload, choosing the
// status code from the error's type: 404 for not-found, 400 for
// validation, 500 otherwise.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteErrorStatus writes the uniform error payload with an explicit
// status code.
func WriteErrorStatus(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}
