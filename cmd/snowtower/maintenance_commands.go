package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale processing claims to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				report, err := access.Reclaim(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{
						"cutoff":    report.Cutoff,
						"examined":  report.Examined,
						"reclaimed": report.Reclaimed,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Examined %d stale claims, reclaimed %d (cutoff %s)\n",
					report.Examined, report.Reclaimed, formatDisplayTime(report.Cutoff))
				return nil
			})
		},
	}
}

func newRetentionCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete terminal requests older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				report, err := access.Retention(cmd.Context(), days)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{
						"cutoff":           report.Cutoff,
						"requests_deleted": report.RequestsDeleted,
						"audit_deleted":    report.AuditDeleted,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d requests and %d audit entries older than %s\n",
					report.RequestsDeleted, report.AuditDeleted, report.Cutoff.UTC().Format("2006-01-02"))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Override the configured retention window in days")
	return cmd
}
