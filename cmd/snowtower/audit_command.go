package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit [requestID]",
		Short: "Show audit log entries, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var requestID int64
			if len(args) > 0 {
				id, err := parseRequestID(args[0])
				if err != nil {
					return err
				}
				requestID = id
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				entries, err := access.Audit(cmd.Context(), requestID, limit)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					payload := make([]ipc.AuditEntry, 0, len(entries))
					for _, entry := range entries {
						payload = append(payload, ipc.FromAuditEntry(entry))
					}
					return writeJSON(cmd, payload)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No audit entries")
					return nil
				}
				table := renderTable(
					[]string{"Time", "Level", "Request", "Processor", "Message"},
					buildAuditRows(entries),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}
