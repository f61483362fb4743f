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

// Package run implements the duraflow run subcommands.
package run

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/duraflow/internal/cli"
)

// NewCommand creates the run command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect workflow runs",
	}
	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newStartCommand() *cobra.Command {
	var orderID string

	cmd := &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Start a run of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := cli.Client().StartRun(cmd.Context(), args[0], orderID)
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, run)
			}
			cmd.Printf("Started run %s of workflow %s (%d steps)\n", run.ID, run.WorkflowName, len(run.Steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "Order ID to link the run to")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := cli.Client().ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, runs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tSTARTED\tCOMPLETED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.WorkflowName, run.Status,
					formatTime(run.StartedAt), formatTime(run.CompletedAt),
				)
			}
			return w.Flush()
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := cli.Client().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, run)
			}

			cmd.Printf("Run:       %s\n", run.ID)
			cmd.Printf("Workflow:  %s (%s)\n", run.WorkflowName, run.WorkflowID)
			if run.OrderID != "" {
				cmd.Printf("Order:     %s\n", run.OrderID)
			}
			cmd.Printf("Status:    %s\n", run.Status)
			cmd.Printf("Started:   %s\n", formatTime(run.StartedAt))
			cmd.Printf("Completed: %s\n", formatTime(run.CompletedAt))
			cmd.Println()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSTEP\tSTATUS\tRETRIES\tERROR")
			for _, step := range run.Steps {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%s\n",
					step.StepIndex, step.StepID, step.Status,
					step.RetryCount, step.MaxRetries, step.ErrorMessage,
				)
			}
			return w.Flush()
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
