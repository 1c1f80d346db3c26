package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				opts := logstream.Options{Lines: lines, Follow: follow}
				printed, err := logstream.Stream(cmd.Context(), client, opts, func(line string) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				})
				if err != nil {
					return err
				}
				if !follow && !printed {
					fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new log lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of recent lines to show (0 for all)")
	return cmd
}
