package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

var commandContext = exec.CommandContext

// PublishResult carries the GitHub artifacts reported by a publisher.
type PublishResult struct {
	BranchURL string `json:"branch_url"`
	PRURL     string `json:"pr_url"`
	PRNumber  int64  `json:"pr_number"`
}

// Publisher pushes one staged request to GitHub and reports the created
// branch and pull request.
type Publisher interface {
	Publish(ctx context.Context, req *queue.Request, stagePath string) (PublishResult, error)
}

// publishRequest is the JSON document handed to the publish command.
type publishRequest struct {
	ID            int64  `json:"id"`
	CreatedBy     string `json:"created_by"`
	BranchName    string `json:"branch_name"`
	TargetBranch  string `json:"target_branch"`
	PRTitle       string `json:"pr_title"`
	PRDescription string `json:"pr_description,omitempty"`
	FileName      string `json:"file_name"`
	StagePath     string `json:"stage_path,omitempty"`
}

// ScriptPublisher wraps the external publish command. The command receives
// the request as JSON on stdin and must print a JSON object carrying
// branch_url, pr_url, and pr_number on stdout; any other stdout lines are
// ignored so scripts can narrate progress.
type ScriptPublisher struct {
	command string
}

// NewScriptPublisher builds a publisher around the configured command line.
func NewScriptPublisher(command string) *ScriptPublisher {
	return &ScriptPublisher{command: strings.TrimSpace(command)}
}

var _ Publisher = (*ScriptPublisher)(nil)

// Publish runs the publish command for one claimed request.
func (p *ScriptPublisher) Publish(ctx context.Context, req *queue.Request, stagePath string) (PublishResult, error) {
	if req == nil {
		return PublishResult{}, errors.New("request is nil")
	}
	parts := strings.Fields(p.command)
	if len(parts) == 0 {
		return PublishResult{}, errors.New("publish command not configured")
	}

	input, err := json.Marshal(publishRequest{
		ID:            req.ID,
		CreatedBy:     req.CreatedBy,
		BranchName:    req.BranchName,
		TargetBranch:  req.TargetBranch,
		PRTitle:       req.PRTitle,
		PRDescription: req.PRDescription,
		FileName:      req.FileName,
		StagePath:     stagePath,
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("encode publish request: %w", err)
	}

	cmd := commandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return PublishResult{}, fmt.Errorf("publish command failed: %w: %s", err, detail)
		}
		return PublishResult{}, fmt.Errorf("publish command failed: %w", err)
	}

	result, found := parseResult(&stdout)
	if !found {
		return PublishResult{}, errors.New("publish command produced no result document")
	}
	if result.PRURL == "" {
		return PublishResult{}, errors.New("publish result missing pr_url")
	}
	return result, nil
}

// parseResult scans stdout for JSON lines and keeps the last one that
// decodes into a result document.
func parseResult(stdout *bytes.Buffer) (PublishResult, bool) {
	var (
		result PublishResult
		found  bool
	)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var candidate PublishResult
		if err := json.Unmarshal(line, &candidate); err != nil {
			continue
		}
		if candidate.PRURL == "" && candidate.BranchURL == "" && candidate.PRNumber == 0 {
			continue
		}
		result = candidate
		found = true
	}
	return result, found
}
