package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

type requestPayload struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
	RequestType   string     `json:"request_type"`
	Status        string     `json:"status"`
	BranchName    string     `json:"branch_name"`
	PRTitle       string     `json:"pr_title"`
	PRDescription string     `json:"pr_description,omitempty"`
	TargetBranch  string     `json:"target_branch"`
	FileName      string     `json:"file_name"`
	Payload       string     `json:"payload,omitempty"`
	StagePath     string     `json:"stage_path,omitempty"`
	Priority      int        `json:"priority"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	ProcessorID   string     `json:"processor_id,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	BranchURL     string     `json:"branch_url,omitempty"`
	PRURL         string     `json:"pr_url,omitempty"`
	PRNumber      int64      `json:"pr_number,omitempty"`
}

func toRequestPayload(req *queue.Request) requestPayload {
	if req == nil {
		return requestPayload{}
	}
	return requestPayload{
		ID:            req.ID,
		CreatedAt:     req.CreatedAt,
		CreatedBy:     req.CreatedBy,
		RequestType:   string(req.RequestType),
		Status:        string(req.Status),
		BranchName:    req.BranchName,
		PRTitle:       req.PRTitle,
		PRDescription: req.PRDescription,
		TargetBranch:  req.TargetBranch,
		FileName:      req.FileName,
		Payload:       string(req.Payload),
		StagePath:     req.StagePath,
		Priority:      req.Priority,
		RetryCount:    req.RetryCount,
		MaxRetries:    req.MaxRetries,
		ProcessorID:   req.ProcessorID,
		ProcessedAt:   req.ProcessedAt,
		ErrorMessage:  req.ErrorMessage,
		BranchURL:     req.BranchURL,
		PRURL:         req.PRURL,
		PRNumber:      req.PRNumber,
	}
}

type requestResponse struct {
	Request requestPayload `json:"request"`
}

type requestListResponse struct {
	Requests []requestPayload `json:"requests"`
}

type submitBody struct {
	CreatedBy     string `json:"created_by"`
	RequestType   string `json:"request_type"`
	BranchName    string `json:"branch_name"`
	PRTitle       string `json:"pr_title"`
	PRDescription string `json:"pr_description"`
	TargetBranch  string `json:"target_branch"`
	FileName      string `json:"file_name"`
	Payload       string `json:"payload"`
	Priority      int    `json:"priority"`
	MaxRetries    int    `json:"max_retries"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	stored, err := s.daemon.Submit(r.Context(), queue.SubmitParams{
		CreatedBy:     body.CreatedBy,
		RequestType:   queue.RequestType(body.RequestType),
		BranchName:    body.BranchName,
		PRTitle:       body.PRTitle,
		PRDescription: body.PRDescription,
		TargetBranch:  body.TargetBranch,
		FileName:      body.FileName,
		Payload:       []byte(body.Payload),
		Priority:      body.Priority,
		MaxRetries:    body.MaxRetries,
	})
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, requestResponse{Request: toRequestPayload(stored)})
}

type claimBody struct {
	ProcessorID string `json:"processor_id"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	claimed, err := s.daemon.ClaimNext(r.Context(), body.ProcessorID)
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	if claimed == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, requestResponse{Request: toRequestPayload(claimed)})
}

type updateBody struct {
	ProcessorID  string `json:"processor_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	BranchURL    string `json:"branch_url"`
	PRURL        string `json:"pr_url"`
	PRNumber     int64  `json:"pr_number"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body updateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	status, ok := queue.ParseStatus(body.Status)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", body.Status))
		return
	}
	err = s.daemon.UpdateStatus(r.Context(), queue.UpdateParams{
		ID:           id,
		ProcessorID:  body.ProcessorID,
		Status:       status,
		ErrorMessage: body.ErrorMessage,
		BranchURL:    body.BranchURL,
		PRURL:        body.PRURL,
		PRNumber:     body.PRNumber,
	})
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.daemon.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	if stored == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("request %d not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, requestResponse{Request: toRequestPayload(stored)})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if branch := strings.TrimSpace(r.URL.Query().Get("branch")); branch != "" {
		stored, err := s.daemon.GetStatusByBranch(r.Context(), branch)
		if err != nil {
			s.writeError(w, errorStatus(err), err.Error())
			return
		}
		if stored == nil {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("no request found for branch %q", branch))
			return
		}
		s.writeJSON(w, http.StatusOK, requestResponse{Request: toRequestPayload(stored)})
		return
	}

	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", value))
			return
		}
		statuses = append(statuses, parsed)
	}
	requests, err := s.daemon.ListQueue(r.Context(), statuses)
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	payload := requestListResponse{Requests: make([]requestPayload, 0, len(requests))}
	for _, stored := range requests {
		if stored == nil {
			continue
		}
		payload.Requests = append(payload.Requests, toRequestPayload(stored))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.QueueStats(r.Context())
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	converted := make(map[string]int, len(stats))
	for status, count := range stats {
		converted[string(status)] = count
	}
	s.writeJSON(w, http.StatusOK, map[string]map[string]int{"stats": converted})
}

type queueHealthPayload struct {
	Total        int       `json:"total"`
	Pending      int       `json:"pending"`
	Processing   int       `json:"processing"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Cancelled    int       `json:"cancelled"`
	Level        string    `json:"level"`
	Healthy      bool      `json:"healthy"`
	CheckedAt    time.Time `json:"checked_at"`
	OldPending   int       `json:"old_pending"`
	HighRetry    int       `json:"high_retry"`
	RecentErrors int       `json:"recent_errors"`
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	summary, err := s.daemon.QueueHealth(r.Context())
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	report, err := s.daemon.HealthSnapshot(r.Context())
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, queueHealthPayload{
		Total:        summary.Total,
		Pending:      summary.Pending,
		Processing:   summary.Processing,
		Completed:    summary.Completed,
		Failed:       summary.Failed,
		Cancelled:    summary.Cancelled,
		Level:        string(report.Level),
		Healthy:      report.Healthy(),
		CheckedAt:    report.CheckedAt,
		OldPending:   report.OldPending,
		HighRetry:    report.HighRetry,
		RecentErrors: report.RecentErrors,
	})
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.RunReclaim(r.Context())
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"cutoff":    report.Cutoff,
		"examined":  report.Examined,
		"reclaimed": report.Reclaimed,
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.RunHealthCheck(r.Context())
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"level":         string(report.Level),
		"healthy":       report.Healthy(),
		"checked_at":    report.CheckedAt,
		"old_pending":   report.OldPending,
		"high_retry":    report.HighRetry,
		"recent_errors": report.RecentErrors,
	})
}

type retentionBody struct {
	Days int `json:"days"`
}

func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	var body retentionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.Days < 0 {
		s.writeError(w, http.StatusBadRequest, "days must not be negative")
		return
	}
	report, err := s.daemon.RunRetention(r.Context(), body.Days)
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"cutoff":           report.Cutoff,
		"requests_deleted": report.RequestsDeleted,
		"audit_deleted":    report.AuditDeleted,
	})
}

type daemonStatusPayload struct {
	Running        bool           `json:"running"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	Workers        int            `json:"workers"`
	DatabaseTarget string         `json:"database_target,omitempty"`
	QueueStats     map[string]int `json:"queue_stats,omitempty"`
}

func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := daemonStatusPayload{
		Running:        status.Running,
		Workers:        status.Workers,
		DatabaseTarget: status.DatabaseTarget,
	}
	if !status.StartedAt.IsZero() {
		started := status.StartedAt
		payload.StartedAt = &started
	}
	if len(status.QueueStats) > 0 {
		payload.QueueStats = make(map[string]int, len(status.QueueStats))
		for k, v := range status.QueueStats {
			payload.QueueStats[string(k)] = v
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func requestID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", raw)
	}
	return id, nil
}
