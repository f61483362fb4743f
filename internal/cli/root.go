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

// Package cli holds the duraflow root command and shared CLI state.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/duraflow/internal/client"
)

// defaultAddr is where duraflowd listens unless overridden.
const defaultAddr = "http://127.0.0.1:8080"

var (
	addr    string
	jsonOut bool

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// Version returns the version information.
func Version() (string, string, string) {
	return version, commit, buildDate
}

// NewRootCommand creates the root Cobra command for duraflow.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duraflow",
		Short: "duraflow - durable workflow execution",
		Long: `duraflow is the command-line client for duraflowd, a durable
workflow execution engine. Submit workflow definitions, start runs,
and inspect their progress as they survive crashes and retries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&addr, "addr", "", "Daemon address (default: $DURAFLOW_ADDR or "+defaultAddr+")")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

// Client creates an API client for the configured daemon address.
func Client() *client.Client {
	a := addr
	if a == "" {
		a = os.Getenv("DURAFLOW_ADDR")
	}
	if a == "" {
		a = defaultAddr
	}
	return client.New(a)
}

// JSONOutput reports whether --json was requested.
func JSONOutput() bool {
	return jsonOut
}
