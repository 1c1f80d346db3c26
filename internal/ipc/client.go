package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("SnowTower.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("SnowTower.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("SnowTower.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit enqueues a new work request through the daemon.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("SnowTower.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Claim claims the next pending request for the given processor.
func (c *Client) Claim(processorID string) (*ClaimResponse, error) {
	var resp ClaimResponse
	req := ClaimRequest{ProcessorID: processorID}
	if err := c.client.Call("SnowTower.Claim", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update reports a processing outcome through the daemon.
func (c *Client) Update(req UpdateRequest) (*UpdateResponse, error) {
	var resp UpdateResponse
	if err := c.client.Call("SnowTower.Update", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe returns details for a single request by id or branch name.
func (c *Client) Describe(req DescribeRequest) (*DescribeResponse, error) {
	var resp DescribeResponse
	if err := c.client.Call("SnowTower.Describe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns requests optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	req := QueueListRequest{Statuses: statuses}
	if err := c.client.Call("SnowTower.QueueList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStats returns per-status request counts.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var resp QueueStatsResponse
	if err := c.client.Call("SnowTower.QueueStats", QueueStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth returns queue diagnostics.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("SnowTower.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck evaluates queue health, optionally recording the verdict.
func (c *Client) HealthCheck(record bool) (*HealthCheckResponse, error) {
	var resp HealthCheckResponse
	req := HealthCheckRequest{Record: record}
	if err := c.client.Call("SnowTower.HealthCheck", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reclaim sweeps stale processing claims back to pending.
func (c *Client) Reclaim() (*ReclaimResponse, error) {
	var resp ReclaimResponse
	if err := c.client.Call("SnowTower.Reclaim", ReclaimRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retention deletes old terminal requests. Days 0 uses the configured window.
func (c *Client) Retention(days int) (*RetentionResponse, error) {
	var resp RetentionResponse
	req := RetentionRequest{Days: days}
	if err := c.client.Call("SnowTower.Retention", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearCompleted removes completed requests from the queue.
func (c *Client) QueueClearCompleted() (*QueueClearCompletedResponse, error) {
	var resp QueueClearCompletedResponse
	if err := c.client.Call("SnowTower.QueueClearCompleted", QueueClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRetry retries failed requests.
func (c *Client) QueueRetry(ids []int64) (*QueueRetryResponse, error) {
	var resp QueueRetryResponse
	req := QueueRetryRequest{IDs: ids}
	if err := c.client.Call("SnowTower.QueueRetry", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Audit returns audit entries for one request, or the newest entries when
// requestID is zero.
func (c *Client) Audit(requestID int64, limit int) (*AuditResponse, error) {
	var resp AuditResponse
	req := AuditRequest{RequestID: requestID, Limit: limit}
	if err := c.client.Call("SnowTower.Audit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("SnowTower.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed storage diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("SnowTower.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("SnowTower.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
