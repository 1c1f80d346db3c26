// Package logstream drives `snowtower logs`: it tails the daemon log file
// over the IPC socket, optionally following for new lines until the context
// ends.
package logstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
)

// TailClient captures the IPC log tail contract the stream needs.
type TailClient interface {
	LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error)
}

// Options controls stream behavior. Lines bounds the initial backlog; zero
// or negative requests the whole file.
type Options struct {
	Lines  int
	Follow bool
}

// Stream emits log lines through onLine. It returns true when at least one
// line was emitted. With Follow set it keeps polling the daemon until the
// context is canceled.
func Stream(ctx context.Context, client TailClient, opts Options, onLine func(string)) (bool, error) {
	initialLimit := opts.Lines
	if initialLimit < 0 {
		initialLimit = 0
	}
	initialOffset := int64(-1)
	if initialLimit == 0 {
		initialOffset = 0
	}

	offset := initialOffset
	limit := initialLimit
	printed := false
	for {
		resp, err := client.LogTail(ipc.LogTailRequest{
			Offset:     offset,
			Limit:      limit,
			Follow:     opts.Follow,
			WaitMillis: 1000,
		})
		if err != nil {
			return printed, fmt.Errorf("tail logs: %w", err)
		}
		if resp == nil {
			return printed, errors.New("log tail response missing")
		}
		for _, line := range resp.Lines {
			if onLine != nil {
				onLine(line)
			}
			printed = true
		}
		offset = resp.Offset
		limit = 0
		if !opts.Follow {
			return printed, nil
		}
		select {
		case <-ctx.Done():
			return printed, nil
		default:
		}
	}
}
