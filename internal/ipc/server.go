package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/daemon"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logs"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("SnowTower", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun snowtower stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = os.Getpid()
	resp.StartedAt = status.StartedAt
	resp.Workers = status.Workers
	resp.LockPath = status.LockFilePath
	resp.DatabaseTarget = status.DatabaseTarget
	resp.QueueStats = make(map[string]int, len(status.QueueStats))
	for k, v := range status.QueueStats {
		resp.QueueStats[string(k)] = v
	}
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.log().Debug("submit requested", logging.String(logging.FieldBranch, req.BranchName))
	stored, err := s.daemon.Submit(s.ctx, queue.SubmitParams{
		CreatedBy:     req.CreatedBy,
		RequestType:   queue.RequestType(req.RequestType),
		BranchName:    req.BranchName,
		PRTitle:       req.PRTitle,
		PRDescription: req.PRDescription,
		TargetBranch:  req.TargetBranch,
		FileName:      req.FileName,
		Payload:       req.Payload,
		Priority:      req.Priority,
		MaxRetries:    req.MaxRetries,
	})
	if err != nil {
		return err
	}
	resp.Request = FromQueueRequest(stored)
	s.log().Info("request submitted via IPC",
		logging.String(logging.FieldEventType, "request_submitted"),
		logging.Int64(logging.FieldRequestID, stored.ID),
		logging.String(logging.FieldBranch, stored.BranchName))
	return nil
}

func (s *service) Claim(req ClaimRequest, resp *ClaimResponse) error {
	claimed, err := s.daemon.ClaimNext(s.ctx, req.ProcessorID)
	if err != nil {
		return err
	}
	if claimed == nil {
		resp.Claimed = false
		return nil
	}
	dto := FromQueueRequest(claimed)
	resp.Claimed = true
	resp.Request = &dto
	return nil
}

func (s *service) Update(req UpdateRequest, resp *UpdateResponse) error {
	status, ok := queue.ParseStatus(req.Status)
	if !ok {
		return fmt.Errorf("invalid status %q", req.Status)
	}
	err := s.daemon.UpdateStatus(s.ctx, queue.UpdateParams{
		ID:           req.ID,
		ProcessorID:  req.ProcessorID,
		Status:       status,
		ErrorMessage: req.ErrorMessage,
		BranchURL:    req.BranchURL,
		PRURL:        req.PRURL,
		PRNumber:     req.PRNumber,
	})
	if err != nil {
		return err
	}
	resp.Updated = true
	return nil
}

func (s *service) Describe(req DescribeRequest, resp *DescribeResponse) error {
	var (
		stored *queue.Request
		err    error
	)
	switch {
	case req.ID > 0:
		stored, err = s.daemon.GetStatus(s.ctx, req.ID)
	case req.Branch != "":
		stored, err = s.daemon.GetStatusByBranch(s.ctx, req.Branch)
	default:
		return errors.New("describe requires an id or branch name")
	}
	if err != nil {
		return err
	}
	if stored == nil {
		if req.ID > 0 {
			return fmt.Errorf("request %d not found", req.ID)
		}
		return fmt.Errorf("no request found for branch %q", req.Branch)
	}
	resp.Request = FromQueueRequest(stored)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := queue.ParseStatus(status)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	requests, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Requests = make([]Request, 0, len(requests))
	for _, stored := range requests {
		if stored == nil {
			continue
		}
		resp.Requests = append(resp.Requests, FromQueueRequest(stored))
	}
	return nil
}

func (s *service) QueueStats(_ QueueStatsRequest, resp *QueueStatsResponse) error {
	stats, err := s.daemon.QueueStats(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = make(map[string]int, len(stats))
	for status, count := range stats {
		resp.Stats[string(status)] = count
	}
	return nil
}

func (s *service) QueueHealth(_ QueueHealthRequest, resp *QueueHealthResponse) error {
	health, err := s.daemon.QueueHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Pending = health.Pending
	resp.Processing = health.Processing
	resp.Completed = health.Completed
	resp.Failed = health.Failed
	resp.Cancelled = health.Cancelled
	return nil
}

func (s *service) HealthCheck(req HealthCheckRequest, resp *HealthCheckResponse) error {
	var (
		report queue.HealthReport
		err    error
	)
	if req.Record {
		report, err = s.daemon.RunHealthCheck(s.ctx)
	} else {
		report, err = s.daemon.HealthSnapshot(s.ctx)
	}
	if err != nil {
		return err
	}
	resp.Level = string(report.Level)
	resp.Healthy = report.Healthy()
	resp.CheckedAt = report.CheckedAt
	resp.OldPending = report.OldPending
	resp.HighRetry = report.HighRetry
	resp.RecentErrors = report.RecentErrors
	return nil
}

func (s *service) Reclaim(_ ReclaimRequest, resp *ReclaimResponse) error {
	s.log().Debug("reclaim sweep requested")
	report, err := s.daemon.RunReclaim(s.ctx)
	if err != nil {
		return err
	}
	resp.Cutoff = report.Cutoff
	resp.Examined = report.Examined
	resp.Reclaimed = report.Reclaimed
	if report.Reclaimed > 0 {
		s.log().Info("stale claims reclaimed via IPC",
			logging.String(logging.FieldEventType, "reclaim_sweep"),
			logging.Int("reclaimed_count", report.Reclaimed))
	}
	return nil
}

func (s *service) Retention(req RetentionRequest, resp *RetentionResponse) error {
	s.log().Debug("retention sweep requested", logging.Int("days", req.Days))
	report, err := s.daemon.RunRetention(s.ctx, req.Days)
	if err != nil {
		return err
	}
	resp.Cutoff = report.Cutoff
	resp.RequestsDeleted = report.RequestsDeleted
	resp.AuditDeleted = report.AuditDeleted
	return nil
}

func (s *service) QueueClearCompleted(_ QueueClearCompletedRequest, resp *QueueClearCompletedResponse) error {
	s.log().Debug("queue clear completed requested")
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("completed requests cleared",
		logging.String(logging.FieldEventType, "queue_clear_completed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	s.log().Debug("queue retry requested", logging.Int("request_count", len(req.IDs)))
	updated, err := s.daemon.RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.log().Info("failed requests retried",
		logging.String(logging.FieldEventType, "queue_retry"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) Audit(req AuditRequest, resp *AuditResponse) error {
	var (
		entries []*queue.AuditEntry
		err     error
	)
	if req.RequestID > 0 {
		entries, err = s.daemon.AuditTrail(s.ctx, req.RequestID, req.Limit)
	} else {
		entries, err = s.daemon.RecentAudit(s.ctx, req.Limit)
	}
	if err != nil {
		return err
	}
	resp.Entries = make([]AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		resp.Entries = append(resp.Entries, FromAuditEntry(entry))
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.JournalMode = health.JournalMode
	resp.TableExists = health.TableExists
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalRequests = health.TotalRequests
	resp.TotalAuditRows = health.TotalAuditRows
	resp.Error = health.Error
	if err != nil {
		return err
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
