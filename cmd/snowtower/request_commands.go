package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		branch      string
		title       string
		description string
		fileName    string
		payloadPath string
		target      string
		createdBy   string
		requestType string
		priority    int
		maxRetries  int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a warehouse config change request",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if path := strings.TrimSpace(payloadPath); path != "" {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				payload = data
			}
			if strings.TrimSpace(createdBy) == "" {
				createdBy = currentUser()
			}

			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				req, err := access.Submit(cmd.Context(), queue.SubmitParams{
					CreatedBy:     createdBy,
					RequestType:   queue.RequestType(strings.TrimSpace(requestType)),
					BranchName:    branch,
					PRTitle:       title,
					PRDescription: description,
					TargetBranch:  target,
					FileName:      fileName,
					Payload:       payload,
					Priority:      priority,
					MaxRetries:    maxRetries,
				})
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, ipc.FromQueueRequest(req))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted request #%d (%s) targeting %s\n", req.ID, req.BranchName, req.TargetBranch)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch name for the change (required)")
	cmd.Flags().StringVar(&title, "title", "", "Pull request title (required)")
	cmd.Flags().StringVar(&fileName, "file", "", "Name of the config file to publish (required)")
	cmd.Flags().StringVar(&description, "description", "", "Pull request description")
	cmd.Flags().StringVar(&payloadPath, "payload-file", "", "Read the config payload from this file")
	cmd.Flags().StringVar(&target, "target", "", "Target branch for the pull request")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Submitter identity (defaults to the current user)")
	cmd.Flags().StringVar(&requestType, "type", "", "Request type")
	cmd.Flags().IntVar(&priority, "priority", 0, "Queue priority 1-10 (0 uses the configured default)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget (0 uses the configured default)")
	return cmd
}

func newClaimCommand(ctx *commandContext) *cobra.Command {
	var processorID string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next pending request for processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(processorID)
			if id == "" {
				id = fmt.Sprintf("cli-%s", uuid.NewString()[:8])
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				req, err := access.Claim(cmd.Context(), id)
				if err != nil {
					return err
				}
				if req == nil {
					if ctx.jsonMode() {
						return writeJSON(cmd, map[string]any{"claimed": false})
					}
					fmt.Fprintln(cmd.OutOrStdout(), "No pending requests")
					return nil
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, ipc.FromQueueRequest(req))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Claimed request #%d (%s) as %s\n", req.ID, req.BranchName, req.ProcessorID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&processorID, "processor", "", "Processor identity recorded on the claim")
	return cmd
}

func newOutcomeCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCompleteCommand(ctx),
		newFailCommand(ctx),
		newCancelCommand(ctx),
	}
}

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	var (
		processorID string
		branchURL   string
		prURL       string
		prNumber    int64
	)
	cmd := &cobra.Command{
		Use:   "complete <requestID>",
		Short: "Mark a processing request as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				err := access.Update(cmd.Context(), queue.UpdateParams{
					ID:          id,
					ProcessorID: processorID,
					Status:      queue.StatusCompleted,
					BranchURL:   branchURL,
					PRURL:       prURL,
					PRNumber:    prNumber,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d completed\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&processorID, "processor", "", "Processor identity reporting the outcome")
	cmd.Flags().StringVar(&branchURL, "branch-url", "", "URL of the pushed branch")
	cmd.Flags().StringVar(&prURL, "pr-url", "", "URL of the opened pull request")
	cmd.Flags().Int64Var(&prNumber, "pr-number", 0, "Number of the opened pull request")
	return cmd
}

func newFailCommand(ctx *commandContext) *cobra.Command {
	var (
		processorID string
		message     string
	)
	cmd := &cobra.Command{
		Use:   "fail <requestID>",
		Short: "Report a processing request as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				err := access.Update(cmd.Context(), queue.UpdateParams{
					ID:           id,
					ProcessorID:  processorID,
					Status:       queue.StatusFailed,
					ErrorMessage: message,
				})
				if err != nil {
					return err
				}
				// A failure with retry budget left lands back in pending,
				// so report what actually happened to the row.
				updated, describeErr := access.Describe(cmd.Context(), id)
				if describeErr == nil && updated != nil && updated.Status == queue.StatusPending {
					fmt.Fprintf(cmd.OutOrStdout(), "Request %d returned to pending (%d retries left)\n", id, updated.RetriesRemaining())
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d marked failed\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&processorID, "processor", "", "Processor identity reporting the outcome")
	cmd.Flags().StringVar(&message, "message", "", "Failure description stored on the request")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var (
		processorID string
		message     string
	)
	cmd := &cobra.Command{
		Use:   "cancel <requestID>",
		Short: "Cancel a processing request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequestID(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(access queueaccess.Access) error {
				err := access.Update(cmd.Context(), queue.UpdateParams{
					ID:           id,
					ProcessorID:  processorID,
					Status:       queue.StatusCancelled,
					ErrorMessage: message,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %d cancelled\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&processorID, "processor", "", "Processor identity reporting the outcome")
	cmd.Flags().StringVar(&message, "message", "", "Cancellation reason stored on the request")
	return cmd
}

func currentUser() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "snowtower-cli"
}
