package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "show [requestID]",
		Short: "Show one request in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branch = strings.TrimSpace(branch)
			if len(args) == 0 && branch == "" {
				return errors.New("a request id or --branch is required")
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				var (
					req *queue.Request
					err error
				)
				if len(args) > 0 {
					id, parseErr := parseRequestID(args[0])
					if parseErr != nil {
						return parseErr
					}
					req, err = access.Describe(cmd.Context(), id)
				} else {
					req, err = access.DescribeBranch(cmd.Context(), branch)
				}
				if err != nil {
					return err
				}
				if req == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Request not found")
					return nil
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, ipc.FromQueueRequest(req))
				}
				printRequestDetail(cmd.OutOrStdout(), req)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "Look up the most recent request for this branch")
	return cmd
}
