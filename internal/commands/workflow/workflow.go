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

// Package workflow implements the duraflow workflow subcommands.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/duraflow/internal/cli"
)

// NewCommand creates the workflow command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow definitions",
	}
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <definition.json>",
		Short: "Submit a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			definition, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cannot read definition file: %w", err)
			}

			wf, err := cli.Client().CreateWorkflow(cmd.Context(), definition)
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, wf)
			}
			cmd.Printf("Created workflow %s (%s)\n", wf.Name, wf.ID)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := cli.Client().ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, workflows)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED")
			for _, wf := range workflows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", wf.ID, wf.Name, wf.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow with its definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := cli.Client().GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, wf)
			}

			cmd.Printf("ID:      %s\n", wf.ID)
			cmd.Printf("Name:    %s\n", wf.Name)
			cmd.Printf("Created: %s\n", wf.CreatedAt.Format("2006-01-02 15:04:05"))

			pretty, err := json.MarshalIndent(wf.Definition, "", "  ")
			if err != nil {
				return err
			}
			cmd.Printf("Definition:\n%s\n", pretty)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
