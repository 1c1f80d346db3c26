package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show queue and database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				summary, err := access.Summary(cmd.Context())
				if err != nil {
					return err
				}
				report, err := access.HealthCheck(cmd.Context(), check)
				if err != nil {
					return err
				}
				db, err := access.DatabaseHealth(cmd.Context())
				if err != nil {
					return err
				}

				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{
						"queue": ipc.QueueHealthResponse{
							Total:      summary.Total,
							Pending:    summary.Pending,
							Processing: summary.Processing,
							Completed:  summary.Completed,
							Failed:     summary.Failed,
							Cancelled:  summary.Cancelled,
						},
						"check": ipc.HealthCheckResponse{
							Level:        string(report.Level),
							Healthy:      report.Healthy(),
							CheckedAt:    report.CheckedAt,
							OldPending:   report.OldPending,
							HighRetry:    report.HighRetry,
							RecentErrors: report.RecentErrors,
						},
						"database": ipc.DatabaseHealthResponse{
							DBPath:           db.DBPath,
							DatabaseExists:   db.DatabaseExists,
							DatabaseReadable: db.DatabaseReadable,
							JournalMode:      db.JournalMode,
							TableExists:      db.TableExists,
							IntegrityCheck:   db.IntegrityCheck,
							TotalRequests:    db.TotalRequests,
							TotalAuditRows:   db.TotalAuditRows,
							Error:            db.Error,
						},
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderStatusLine("Queue health", healthVerdict(report), healthDetail(report), colorize))
				fmt.Fprintf(out, "Total: %d\n", summary.Total)
				fmt.Fprintf(out, "Pending: %d\n", summary.Pending)
				fmt.Fprintf(out, "Processing: %d\n", summary.Processing)
				fmt.Fprintf(out, "Completed: %d\n", summary.Completed)
				fmt.Fprintf(out, "Failed: %d\n", summary.Failed)
				fmt.Fprintf(out, "Cancelled: %d\n", summary.Cancelled)
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Database path: %s\n", db.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(db.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(db.DatabaseReadable))
				if db.JournalMode != "" {
					fmt.Fprintf(out, "Journal mode: %s\n", db.JournalMode)
				}
				fmt.Fprintf(out, "work_requests table present: %s\n", yesNo(db.TableExists))
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(db.IntegrityCheck))
				fmt.Fprintf(out, "Total requests: %d\n", db.TotalRequests)
				fmt.Fprintf(out, "Audit rows: %d\n", db.TotalAuditRows)
				if db.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", db.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Record the verdict in the audit log")
	return cmd
}

func healthVerdict(report queue.HealthReport) statusKind {
	switch report.Level {
	case queue.AuditError:
		return statusError
	case queue.AuditWarn:
		return statusWarn
	default:
		return statusOK
	}
}

func healthDetail(report queue.HealthReport) string {
	if report.Healthy() {
		return "no findings"
	}
	return fmt.Sprintf("%d old pending, %d high-retry, %d recent errors", report.OldPending, report.HighRetry, report.RecentErrors)
}
