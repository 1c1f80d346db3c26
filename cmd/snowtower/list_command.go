package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				requests, err := access.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					payload := make([]ipc.Request, 0, len(requests))
					for _, req := range requests {
						payload = append(payload, ipc.FromQueueRequest(req))
					}
					return writeJSON(cmd, payload)
				}
				if len(requests) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Branch", "Title", "Status", "Priority", "Retries", "Created"},
					buildRequestRows(requests),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				stats, err := access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, stats)
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}
