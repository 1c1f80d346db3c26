package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue maintenance helpers",
	}
	queueCmd.AddCommand(newQueueClearCompletedCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	return queueCmd
}

func newQueueClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove completed requests from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				removed, err := access.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed requests\n", removed)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [requestID...]",
		Short: "Reset failed requests to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				stdout := cmd.OutOrStdout()
				if len(ids) == 0 {
					updated, err := access.RetryFailed(cmd.Context(), nil)
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "Retried %d failed requests\n", updated)
					return nil
				}
				for _, id := range ids {
					req, err := access.Describe(cmd.Context(), id)
					if err != nil {
						return err
					}
					if req == nil {
						fmt.Fprintf(stdout, "Request %d not found\n", id)
						continue
					}
					if req.Status != queue.StatusFailed {
						fmt.Fprintf(stdout, "Request %d is not in failed state\n", id)
						continue
					}
					updated, err := access.RetryFailed(cmd.Context(), []int64{id})
					if err != nil {
						return err
					}
					if updated > 0 {
						fmt.Fprintf(stdout, "Request %d reset for retry\n", id)
					} else {
						fmt.Fprintf(stdout, "Request %d is not in failed state\n", id)
					}
				}
				return nil
			})
		},
	}
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid request id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
