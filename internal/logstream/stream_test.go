package logstream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logstream"
)

type scriptedClient struct {
	responses []*ipc.LogTailResponse
	requests  []ipc.LogTailRequest
	err       error
	cancel    context.CancelFunc
}

func (c *scriptedClient) LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		if c.cancel != nil {
			c.cancel()
		}
		return &ipc.LogTailResponse{Offset: req.Offset}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func TestStreamSingleRound(t *testing.T) {
	client := &scriptedClient{
		responses: []*ipc.LogTailResponse{{Lines: []string{"one", "two"}, Offset: 20}},
	}

	var lines []string
	printed, err := logstream.Stream(context.Background(), client, logstream.Options{Lines: 10}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed {
		t.Fatal("expected printed=true")
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines %v", lines)
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected a single request without follow, got %d", len(client.requests))
	}
	first := client.requests[0]
	if first.Offset != -1 || first.Limit != 10 || first.Follow {
		t.Fatalf("unexpected initial request %+v", first)
	}
}

func TestStreamZeroLinesReadsWholeFile(t *testing.T) {
	client := &scriptedClient{
		responses: []*ipc.LogTailResponse{{Lines: nil, Offset: 0}},
	}
	printed, err := logstream.Stream(context.Background(), client, logstream.Options{Lines: 0}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if printed {
		t.Fatal("expected printed=false for empty log")
	}
	if client.requests[0].Offset != 0 {
		t.Fatalf("zero lines should read from the start, got offset %d", client.requests[0].Offset)
	}
}

func TestStreamFollowResumesFromOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &scriptedClient{
		responses: []*ipc.LogTailResponse{
			{Lines: []string{"backlog"}, Offset: 8},
			{Lines: []string{"fresh"}, Offset: 14},
		},
		cancel: cancel,
	}

	var lines []string
	printed, err := logstream.Stream(ctx, client, logstream.Options{Lines: 5, Follow: true}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed || len(lines) != 2 {
		t.Fatalf("expected backlog and fresh lines, got %v", lines)
	}
	if client.requests[1].Offset != 8 || client.requests[1].Limit != 0 {
		t.Fatalf("follow round should resume at the reported offset, got %+v", client.requests[1])
	}
	if !client.requests[1].Follow {
		t.Fatal("follow rounds must request blocking tails")
	}
}

func TestStreamSurfacesClientErrors(t *testing.T) {
	client := &scriptedClient{err: errors.New("socket closed")}
	_, err := logstream.Stream(context.Background(), client, logstream.Options{Lines: 1}, nil)
	if err == nil || !errors.Is(err, client.err) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}
