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

// Package diagnostics implements daemon health and inspection commands.
package diagnostics

import (
	"github.com/spf13/cobra"

	"github.com/tombee/duraflow/internal/cli"
)

// NewHealthCommand creates the health command.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.Client().Health(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
}

// NewSnapshotCommand creates the snapshot command, dumping the daemon's
// database tables as JSON.
func NewSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Dump the daemon's database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := cli.Client().Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(string(snapshot))
			return nil
		},
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			v, c, b := cli.Version()
			cmd.Printf("duraflow %s (commit: %s, built: %s)\n", v, c, b)
		},
	}
}
