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

// Package order implements the duraflow order subcommands.
package order

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tombee/duraflow/internal/cli"
)

// NewCommand creates the order command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage demo orders",
	}
	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newCreateCommand() *cobra.Command {
	var amount float64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := cli.Client().CreateOrder(cmd.Context(), amount)
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, order)
			}
			cmd.Printf("Created order %s (amount %.2f, status %s)\n", order.ID, order.Amount, order.Status)
			return nil
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "Order amount (required, > 0)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := cli.Client().GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cli.JSONOutput() {
				return printJSON(cmd, order)
			}
			cmd.Printf("ID:      %s\n", order.ID)
			cmd.Printf("Status:  %s\n", order.Status)
			cmd.Printf("Amount:  %.2f\n", order.Amount)
			cmd.Printf("Updated: %s\n", order.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
