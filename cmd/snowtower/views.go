package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(status, "_", " "))
}

func formatDisplayTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format("2006-01-02 15:04")
}

func truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}

func parseRequestID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", raw)
	}
	return id, nil
}

func buildQueueStatusRows(stats map[string]int) [][]string {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), strconv.Itoa(stats[key])})
	}
	return rows
}

func buildRequestRows(requests []*queue.Request) [][]string {
	rows := make([][]string, 0, len(requests))
	for _, req := range requests {
		rows = append(rows, []string{
			strconv.FormatInt(req.ID, 10),
			req.BranchName,
			truncate(req.PRTitle, 40),
			formatStatusLabel(string(req.Status)),
			strconv.Itoa(req.Priority),
			fmt.Sprintf("%d/%d", req.RetryCount, req.MaxRetries),
			formatDisplayTime(req.CreatedAt),
		})
	}
	return rows
}

func buildAuditRows(entries []*queue.AuditEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		requestRef := "-"
		if entry.RequestID != nil {
			requestRef = strconv.FormatInt(*entry.RequestID, 10)
		}
		rows = append(rows, []string{
			formatDisplayTime(entry.CreatedAt),
			strings.ToUpper(string(entry.Level)),
			requestRef,
			entry.ProcessorID,
			entry.Message,
		})
	}
	return rows
}

func printRequestDetail(out io.Writer, req *queue.Request) {
	fmt.Fprintf(out, "Request #%d\n", req.ID)
	fmt.Fprintf(out, "  Status:       %s\n", formatStatusLabel(string(req.Status)))
	fmt.Fprintf(out, "  Branch:       %s -> %s\n", req.BranchName, req.TargetBranch)
	fmt.Fprintf(out, "  Title:        %s\n", req.PRTitle)
	if req.PRDescription != "" {
		fmt.Fprintf(out, "  Description:  %s\n", req.PRDescription)
	}
	fmt.Fprintf(out, "  File:         %s (%d bytes)\n", req.FileName, len(req.Payload))
	if req.StagePath != "" {
		fmt.Fprintf(out, "  Staged at:    %s\n", req.StagePath)
	}
	fmt.Fprintf(out, "  Priority:     %d\n", req.Priority)
	fmt.Fprintf(out, "  Retries:      %d/%d\n", req.RetryCount, req.MaxRetries)
	fmt.Fprintf(out, "  Submitted:    %s by %s\n", formatDisplayTime(req.CreatedAt), req.CreatedBy)
	if req.ProcessorID != "" {
		fmt.Fprintf(out, "  Processor:    %s\n", req.ProcessorID)
	}
	if req.ProcessedAt != nil {
		fmt.Fprintf(out, "  Processed:    %s\n", formatDisplayTime(*req.ProcessedAt))
	}
	if req.ErrorMessage != "" {
		fmt.Fprintf(out, "  Last error:   %s\n", req.ErrorMessage)
	}
	if req.BranchURL != "" {
		fmt.Fprintf(out, "  Branch URL:   %s\n", req.BranchURL)
	}
	if req.PRURL != "" {
		if req.PRNumber != 0 {
			fmt.Fprintf(out, "  Pull request: %s (#%d)\n", req.PRURL, req.PRNumber)
		} else {
			fmt.Fprintf(out, "  Pull request: %s\n", req.PRURL)
		}
	}
}
