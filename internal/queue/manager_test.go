package queue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBackend wraps the real store so individual primitives can be forced
// into specific results while everything else behaves normally.
type fakeBackend struct {
	*queue.Store
	updateApplies *bool
	oldPending    *int
	highRetry     *int
	recentErrors  *int
}

func (f *fakeBackend) UpdateFromProcessing(ctx context.Context, id int64, outcome queue.ProcessingOutcome) (bool, error) {
	if f.updateApplies != nil {
		return *f.updateApplies, nil
	}
	return f.Store.UpdateFromProcessing(ctx, id, outcome)
}

func (f *fakeBackend) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if f.oldPending != nil {
		return *f.oldPending, nil
	}
	return f.Store.CountPendingOlderThan(ctx, cutoff)
}

func (f *fakeBackend) CountActiveHighRetry(ctx context.Context, minRetries int, since time.Time) (int, error) {
	if f.highRetry != nil {
		return *f.highRetry, nil
	}
	return f.Store.CountActiveHighRetry(ctx, minRetries, since)
}

func (f *fakeBackend) CountAuditLevelSince(ctx context.Context, level queue.AuditLevel, since time.Time) (int, error) {
	if f.recentErrors != nil {
		return *f.recentErrors, nil
	}
	return f.Store.CountAuditLevelSince(ctx, level, since)
}

func submitParams(branch string) queue.SubmitParams {
	return queue.SubmitParams{
		CreatedBy:  "tester",
		BranchName: branch,
		PRTitle:    "Add " + branch,
		FileName:   branch + ".yaml",
		Payload:    []byte("generated: true\n"),
	}
}

func auditMessages(entries []*queue.AuditEntry) []string {
	messages := make([]string, len(entries))
	for i, entry := range entries {
		messages[i] = entry.Message
	}
	return messages
}

func containsMessage(entries []*queue.AuditEntry, message string) bool {
	for _, entry := range entries {
		if entry.Message == message {
			return true
		}
	}
	return false
}

func TestSubmitAppliesDefaultsAndRoundTrips(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	req, err := manager.Submit(ctx, submitParams("perm/defaults"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if req.Priority != 5 {
		t.Fatalf("expected default priority 5, got %d", req.Priority)
	}
	if req.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", req.MaxRetries)
	}
	if req.TargetBranch != "main" {
		t.Fatalf("expected default target branch, got %q", req.TargetBranch)
	}
	if req.RequestType != queue.TypeCreatePR {
		t.Fatalf("expected default request type, got %q", req.RequestType)
	}

	byID, err := manager.GetStatus(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if byID == nil || byID.ID != req.ID || byID.BranchName != "perm/defaults" {
		t.Fatalf("unexpected snapshot: %#v", byID)
	}
	if string(byID.Payload) != "generated: true\n" {
		t.Fatalf("expected payload round-trip, got %q", byID.Payload)
	}

	byBranch, err := manager.GetStatusByBranch(ctx, "perm/defaults")
	if err != nil {
		t.Fatalf("GetStatusByBranch: %v", err)
	}
	if byBranch == nil || byBranch.ID != req.ID {
		t.Fatalf("unexpected by-branch snapshot: %#v", byBranch)
	}

	trail, err := manager.AuditTrail(ctx, req.ID, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if !containsMessage(trail, "request submitted") {
		t.Fatalf("expected submission audit, got %v", auditMessages(trail))
	}
}

func TestSubmitValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	cases := []struct {
		name   string
		mutate func(*queue.SubmitParams)
	}{
		{"missing branch", func(p *queue.SubmitParams) { p.BranchName = "" }},
		{"unsafe branch", func(p *queue.SubmitParams) { p.BranchName = "oops/../main" }},
		{"missing title", func(p *queue.SubmitParams) { p.PRTitle = "  " }},
		{"missing file", func(p *queue.SubmitParams) { p.FileName = "" }},
		{"missing creator", func(p *queue.SubmitParams) { p.CreatedBy = "" }},
		{"priority too high", func(p *queue.SubmitParams) { p.Priority = 11 }},
		{"priority negative", func(p *queue.SubmitParams) { p.Priority = -2 }},
		{"negative retries", func(p *queue.SubmitParams) { p.MaxRetries = -1 }},
		{"unsafe target", func(p *queue.SubmitParams) { p.TargetBranch = "release .lock" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := submitParams("perm/validation")
			tc.mutate(&params)
			if _, err := manager.Submit(ctx, params); !errors.Is(err, queue.ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}

	recent, err := manager.RecentAudit(ctx, 50)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if !containsMessage(recent, "submission rejected") {
		t.Fatalf("expected rejection audit, got %v", auditMessages(recent))
	}
}

func TestSubmitDuplicateBranchLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	first, err := manager.Submit(ctx, submitParams("perm/unique"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := manager.Submit(ctx, submitParams("perm/unique")); !errors.Is(err, queue.ErrDuplicateActiveRequest) {
		t.Fatalf("expected duplicate rejection while pending, got %v", err)
	}

	claimed, err := manager.ClaimNext(ctx, "proc-a")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected to claim request %d, got %#v", first.ID, claimed)
	}

	clock.Advance(time.Second)
	if _, err := manager.Submit(ctx, submitParams("perm/unique")); !errors.Is(err, queue.ErrDuplicateActiveRequest) {
		t.Fatalf("expected duplicate rejection while processing, got %v", err)
	}

	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: first.ID, Status: queue.StatusCompleted}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	clock.Advance(time.Second)
	second, err := manager.Submit(ctx, submitParams("perm/unique"))
	if err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh request id")
	}

	latest, err := manager.GetStatusByBranch(ctx, "perm/unique")
	if err != nil {
		t.Fatalf("GetStatusByBranch: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Fatalf("expected newest request %d, got %#v", second.ID, latest)
	}
}

func TestClaimNextOrdersByPriorityThenAge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	branches := []struct {
		branch   string
		priority int
	}{
		{"order/a", 3},
		{"order/b", 7},
		{"order/c", 7},
		{"order/d", 1},
	}
	ids := make(map[string]int64, len(branches))
	for _, b := range branches {
		params := submitParams(b.branch)
		params.Priority = b.priority
		req, err := manager.Submit(ctx, params)
		if err != nil {
			t.Fatalf("Submit %s: %v", b.branch, err)
		}
		ids[b.branch] = req.ID
		clock.Advance(time.Second)
	}

	want := []string{"order/b", "order/c", "order/a", "order/d"}
	for i, branch := range want {
		req, err := manager.ClaimNext(ctx, "proc-a")
		if err != nil {
			t.Fatalf("ClaimNext #%d: %v", i, err)
		}
		if req == nil {
			t.Fatalf("ClaimNext #%d: expected work, got nil", i)
		}
		if req.ID != ids[branch] {
			t.Fatalf("ClaimNext #%d: expected %s (%d), got id %d", i, branch, ids[branch], req.ID)
		}
	}

	empty, err := manager.ClaimNext(ctx, "proc-a")
	if err != nil {
		t.Fatalf("ClaimNext after drain: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected no work, got %#v", empty)
	}
}

func TestClaimNextRequiresProcessor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	if _, err := manager.ClaimNext(context.Background(), "  "); !errors.Is(err, queue.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestClaimNextConcurrentSingleWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	testsupport.SubmitRequest(t, manager, "race/solo")

	const claimers = 8
	results := make(chan *queue.Request, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req, err := manager.ClaimNext(ctx, fmt.Sprintf("proc-%d", n))
			if err != nil {
				t.Errorf("ClaimNext proc-%d: %v", n, err)
				return
			}
			results <- req
		}(i)
	}
	wg.Wait()
	close(results)

	var winners int
	for req := range results {
		if req != nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestClaimNextConcurrentDistinctAssignments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	const requests = 3
	for i := 0; i < requests; i++ {
		testsupport.SubmitRequest(t, manager, fmt.Sprintf("race/multi-%d", i))
	}

	const claimers = 8
	results := make(chan *queue.Request, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req, err := manager.ClaimNext(ctx, fmt.Sprintf("proc-%d", n))
			if err != nil {
				t.Errorf("ClaimNext proc-%d: %v", n, err)
				return
			}
			results <- req
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for req := range results {
		if req == nil {
			continue
		}
		if seen[req.ID] {
			t.Fatalf("request %d claimed twice", req.ID)
		}
		seen[req.ID] = true
	}
	if len(seen) != requests {
		t.Fatalf("expected %d distinct claims, got %d", requests, len(seen))
	}
}

func TestUpdateStatusCompletedRecordsResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "perm/complete")

	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: queue.StatusFailed, ErrorMessage: "transient"}); err != nil {
		t.Fatalf("transient failure: %v", err)
	}
	if _, err := manager.ClaimNext(ctx, "proc-b"); err != nil {
		t.Fatalf("second claim: %v", err)
	}

	clock.Advance(time.Minute)
	completedAt := clock.Now()
	err := manager.UpdateStatus(ctx, queue.UpdateParams{
		ID:        req.ID,
		Status:    queue.StatusCompleted,
		BranchURL: "https://github.example.com/org/repo/tree/perm/complete",
		PRURL:     "https://github.example.com/org/repo/pull/42",
		PRNumber:  42,
	})
	if err != nil {
		t.Fatalf("UpdateStatus completed: %v", err)
	}

	final, err := manager.GetStatus(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if final.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.ErrorMessage != "" {
		t.Fatalf("expected error cleared on completion, got %q", final.ErrorMessage)
	}
	if final.ProcessorID != "" {
		t.Fatalf("expected processor cleared, got %q", final.ProcessorID)
	}
	if final.PRURL != "https://github.example.com/org/repo/pull/42" || final.PRNumber != 42 {
		t.Fatalf("expected PR result recorded, got %q #%d", final.PRURL, final.PRNumber)
	}
	if final.BranchURL == "" {
		t.Fatal("expected branch url recorded")
	}
	if final.ProcessedAt == nil || !final.ProcessedAt.Equal(completedAt) {
		t.Fatalf("expected processed_at %v, got %v", completedAt, final.ProcessedAt)
	}
	if final.RetryCount != 1 {
		t.Fatalf("expected retry count preserved, got %d", final.RetryCount)
	}

	trail, err := manager.AuditTrail(ctx, req.ID, 20)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if !containsMessage(trail, "request completed") {
		t.Fatalf("expected completion audit, got %v", auditMessages(trail))
	}
}

func TestUpdateStatusCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "perm/cancel")
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clock.Advance(time.Minute)
	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: queue.StatusCancelled, ErrorMessage: "superseded by manual change"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final, err := manager.GetStatus(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if final.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.RetryCount != 0 {
		t.Fatalf("expected no retry consumed, got %d", final.RetryCount)
	}
	if final.ErrorMessage != "superseded by manual change" {
		t.Fatalf("expected cancel reason recorded, got %q", final.ErrorMessage)
	}
	if final.ProcessedAt == nil || !final.ProcessedAt.Equal(clock.Now()) {
		t.Fatalf("expected cancel time stamped, got %v", final.ProcessedAt)
	}

	// Terminal means terminal: no further claims for this branch's request.
	next, err := manager.ClaimNext(ctx, "proc-b")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if next != nil {
		t.Fatalf("expected empty queue, got %#v", next)
	}
}

func TestUpdateStatusBoundedRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	params := submitParams("perm/bounded")
	params.MaxRetries = 2
	req, err := manager.Submit(ctx, params)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := manager.ClaimNext(ctx, "proc-a")
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if claimed == nil || claimed.ID != req.ID {
			t.Fatalf("claim attempt %d: expected request %d, got %#v", attempt, req.ID, claimed)
		}
		clock.Advance(time.Second)
		if err := manager.UpdateStatus(ctx, queue.UpdateParams{
			ID:           req.ID,
			Status:       queue.StatusFailed,
			ErrorMessage: fmt.Sprintf("publish failed on attempt %d", attempt),
		}); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}

		snapshot, err := manager.GetStatus(ctx, req.ID)
		if err != nil {
			t.Fatalf("GetStatus after attempt %d: %v", attempt, err)
		}
		if attempt < 3 {
			if snapshot.Status != queue.StatusPending {
				t.Fatalf("attempt %d: expected pending for retry, got %s", attempt, snapshot.Status)
			}
			if snapshot.RetryCount != attempt {
				t.Fatalf("attempt %d: expected retry count %d, got %d", attempt, attempt, snapshot.RetryCount)
			}
			if !strings.Contains(snapshot.ErrorMessage, fmt.Sprintf("attempt %d", attempt)) {
				t.Fatalf("attempt %d: expected latest error retained, got %q", attempt, snapshot.ErrorMessage)
			}
		} else {
			if snapshot.Status != queue.StatusFailed {
				t.Fatalf("expected terminal failure, got %s", snapshot.Status)
			}
			if snapshot.RetryCount != 2 {
				t.Fatalf("expected retry count 2 at exhaustion, got %d", snapshot.RetryCount)
			}
		}
	}

	empty, err := manager.ClaimNext(ctx, "proc-a")
	if err != nil {
		t.Fatalf("ClaimNext after exhaustion: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected no claimable work, got %#v", empty)
	}

	trail, err := manager.AuditTrail(ctx, req.ID, 50)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	var retries, terminals int
	for _, entry := range trail {
		switch entry.Message {
		case "retry scheduled":
			retries++
			if entry.Level != queue.AuditWarn {
				t.Fatalf("expected warn level for retry, got %s", entry.Level)
			}
		case "terminal failure":
			terminals++
			if entry.Level != queue.AuditError {
				t.Fatalf("expected error level for terminal failure, got %s", entry.Level)
			}
		}
	}
	if retries != 2 || terminals != 1 {
		t.Fatalf("expected 2 retries and 1 terminal failure, got %d and %d", retries, terminals)
	}
}

func TestUpdateStatusRetryKeepsClaimTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "perm/claim-time")
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	claimedAt := clock.Now()

	clock.Advance(10 * time.Minute)
	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: queue.StatusFailed, ErrorMessage: "transient"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	snapshot, err := manager.GetStatus(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snapshot.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", snapshot.Status)
	}
	if snapshot.ProcessedAt == nil || !snapshot.ProcessedAt.Equal(claimedAt) {
		t.Fatalf("expected claim time %v preserved across retry, got %v", claimedAt, snapshot.ProcessedAt)
	}
}

func TestUpdateStatusRejectsBadTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "perm/bad-target")

	for _, target := range []queue.Status{queue.StatusPending, queue.StatusProcessing, queue.Status("bogus")} {
		if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: target}); !errors.Is(err, queue.ErrInvalidParameter) {
			t.Fatalf("target %q: expected ErrInvalidParameter, got %v", target, err)
		}
	}
}

func TestUpdateStatusUnknownRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: 4242, Status: queue.StatusCompleted})
	if !errors.Is(err, queue.ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}

	recent, err := manager.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if !containsMessage(recent, "status update for unknown request") {
		t.Fatalf("expected audit of unknown update, got %v", auditMessages(recent))
	}
}

func TestUpdateStatusRequiresProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "perm/not-claimed")

	err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: queue.StatusCompleted})
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	trail, err := manager.AuditTrail(ctx, req.ID, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if !containsMessage(trail, "status update rejected") {
		t.Fatalf("expected rejection audit, got %v", auditMessages(trail))
	}
}

func TestUpdateStatusLostRace(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	lost := false
	backend := &fakeBackend{Store: store, updateApplies: &lost}
	manager := testsupport.MustManager(t, cfg, backend)

	ctx := context.Background()
	req, err := manager.Submit(ctx, submitParams("perm/lost-race"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err = manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: queue.StatusCompleted})
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on lost race, got %v", err)
	}

	trail, err := manager.AuditTrail(ctx, req.ID, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if !containsMessage(trail, "status update lost race") {
		t.Fatalf("expected lost-race audit, got %v", auditMessages(trail))
	}
}

func TestRunReclaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	stuck := testsupport.SubmitRequest(t, manager, "reclaim/stuck")
	fresh := testsupport.SubmitRequest(t, manager, "reclaim/fresh")

	if _, err := manager.ClaimNext(ctx, "proc-dead"); err != nil {
		t.Fatalf("claim stuck: %v", err)
	}
	clock.Advance(time.Duration(cfg.Queue.MaxProcessingMinutes+1) * time.Minute)
	if _, err := manager.ClaimNext(ctx, "proc-live"); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	report, err := manager.RunReclaim(ctx)
	if err != nil {
		t.Fatalf("RunReclaim: %v", err)
	}
	if report.Reclaimed != 1 || report.Examined != 1 {
		t.Fatalf("expected one stale claim reclaimed, got %#v", report)
	}

	reclaimed, err := manager.GetStatus(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetStatus stuck: %v", err)
	}
	if reclaimed.Status != queue.StatusPending {
		t.Fatalf("expected stale claim back to pending, got %s", reclaimed.Status)
	}
	if reclaimed.RetryCount != 0 {
		t.Fatalf("expected no retry consumed by reclaim, got %d", reclaimed.RetryCount)
	}
	if reclaimed.ProcessorID != "" {
		t.Fatalf("expected processor cleared, got %q", reclaimed.ProcessorID)
	}
	if !strings.Contains(reclaimed.ErrorMessage, "proc-dead") {
		t.Fatalf("expected reset note to name the stale processor, got %q", reclaimed.ErrorMessage)
	}

	untouched, err := manager.GetStatus(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetStatus fresh: %v", err)
	}
	if untouched.Status != queue.StatusProcessing || untouched.ProcessorID != "proc-live" {
		t.Fatalf("expected live claim untouched, got %#v", untouched)
	}

	trail, err := manager.AuditTrail(ctx, stuck.ID, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	found := false
	for _, entry := range trail {
		if entry.Message == "stale claim reclaimed" {
			found = true
			if entry.Level != queue.AuditWarn {
				t.Fatalf("expected warn reclaim audit, got %s", entry.Level)
			}
		}
	}
	if !found {
		t.Fatalf("expected reclaim audit, got %v", auditMessages(trail))
	}

	recent, err := manager.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if !containsMessage(recent, "stale claim sweep completed") {
		t.Fatalf("expected sweep summary, got %v", auditMessages(recent))
	}

	// The reclaimed request is claimable again at full retry budget.
	again, err := manager.ClaimNext(ctx, "proc-b")
	if err != nil {
		t.Fatalf("ClaimNext after reclaim: %v", err)
	}
	if again == nil || again.ID != stuck.ID {
		t.Fatalf("expected reclaimed request to be claimable, got %#v", again)
	}
}

func TestRunReclaimAlwaysWritesSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	report, err := manager.RunReclaim(ctx)
	if err != nil {
		t.Fatalf("RunReclaim on empty queue: %v", err)
	}
	if report.Reclaimed != 0 {
		t.Fatalf("expected nothing reclaimed, got %d", report.Reclaimed)
	}

	recent, err := manager.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if !containsMessage(recent, "stale claim sweep completed") {
		t.Fatalf("expected summary even with zero reclaims, got %v", auditMessages(recent))
	}
}

func TestRunHealthCheckClassification(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	cases := []struct {
		name         string
		oldPending   int
		highRetry    int
		recentErrors int
		want         queue.AuditLevel
		message      string
	}{
		{"all clear", 0, 0, 0, queue.AuditInfo, "queue healthy"},
		{"some retries", 0, 1, 0, queue.AuditWarn, "queue health warning"},
		{"some errors", 0, 0, 1, queue.AuditWarn, "queue health warning"},
		{"aged pending", 1, 0, 0, queue.AuditError, "queue unhealthy"},
		{"retry storm", 0, 4, 0, queue.AuditError, "queue unhealthy"},
		{"error burst", 0, 0, 6, queue.AuditError, "queue unhealthy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{
				Store:        store,
				oldPending:   &tc.oldPending,
				highRetry:    &tc.highRetry,
				recentErrors: &tc.recentErrors,
			}
			manager := testsupport.MustManager(t, cfg, backend)

			report, err := manager.RunHealthCheck(context.Background())
			if err != nil {
				t.Fatalf("RunHealthCheck: %v", err)
			}
			if report.Level != tc.want {
				t.Fatalf("expected level %s, got %s", tc.want, report.Level)
			}
			if report.Healthy() != (tc.want == queue.AuditInfo) {
				t.Fatalf("Healthy() disagrees with level %s", report.Level)
			}

			recent, err := manager.RecentAudit(context.Background(), 1)
			if err != nil {
				t.Fatalf("RecentAudit: %v", err)
			}
			if len(recent) != 1 || recent[0].Message != tc.message || recent[0].Level != tc.want {
				t.Fatalf("expected %q at %s, got %v", tc.message, tc.want, auditMessages(recent))
			}
		})
	}
}

func TestRunHealthCheckWritesSingleAuditEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	testsupport.SubmitRequest(t, manager, "health/aging")
	before, err := manager.RecentAudit(ctx, 100)
	if err != nil {
		t.Fatalf("RecentAudit before: %v", err)
	}

	clock.Advance(2 * time.Hour)
	report, err := manager.RunHealthCheck(ctx)
	if err != nil {
		t.Fatalf("RunHealthCheck: %v", err)
	}
	if report.Level != queue.AuditError {
		t.Fatalf("expected unhealthy with hour-old pending work, got %s", report.Level)
	}
	if report.OldPending != 1 {
		t.Fatalf("expected one aged pending request, got %d", report.OldPending)
	}

	after, err := manager.RecentAudit(ctx, 100)
	if err != nil {
		t.Fatalf("RecentAudit after: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("expected exactly one new audit entry, got %d -> %d", len(before), len(after))
	}
}

func TestHealthSnapshotWritesNoAudit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	report, err := manager.HealthSnapshot(ctx)
	if err != nil {
		t.Fatalf("HealthSnapshot: %v", err)
	}
	if report.Level != queue.AuditInfo {
		t.Fatalf("expected healthy empty queue, got %s", report.Level)
	}

	recent, err := manager.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected no audit side effect, got %v", auditMessages(recent))
	}
}

func TestRunRetentionIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	done := testsupport.SubmitRequest(t, manager, "retain/done")
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: done.ID, Status: queue.StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	clock.Advance(time.Hour)
	survivor := testsupport.SubmitRequest(t, manager, "retain/survivor")

	clock.Advance(31 * 24 * time.Hour)
	report, err := manager.RunRetention(ctx, 0)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if report.RequestsDeleted != 1 {
		t.Fatalf("expected one request deleted, got %d", report.RequestsDeleted)
	}
	if report.AuditDeleted == 0 {
		t.Fatal("expected the request's audit entries deleted")
	}

	gone, err := manager.GetStatus(ctx, done.ID)
	if err != nil {
		t.Fatalf("GetStatus deleted: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected request deleted, got %#v", gone)
	}
	trail, err := manager.AuditTrail(ctx, done.ID, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 0 {
		t.Fatalf("expected audit trail deleted, got %v", auditMessages(trail))
	}

	kept, err := manager.GetStatus(ctx, survivor.ID)
	if err != nil {
		t.Fatalf("GetStatus survivor: %v", err)
	}
	if kept == nil || kept.Status != queue.StatusPending {
		t.Fatalf("expected non-terminal request untouched, got %#v", kept)
	}

	second, err := manager.RunRetention(ctx, 0)
	if err != nil {
		t.Fatalf("second RunRetention: %v", err)
	}
	if second.RequestsDeleted != 0 || second.AuditDeleted != 0 {
		t.Fatalf("expected idempotent second sweep, got %#v", second)
	}
}

func TestRunRetentionHonorsDaysOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clock := newFakeClock(time.Now().UTC())
	manager := testsupport.MustManager(t, cfg, store, queue.WithClock(clock.Now))

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "retain/override")
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: req.ID, Status: queue.StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	clock.Advance(10 * 24 * time.Hour)
	report, err := manager.RunRetention(ctx, 0)
	if err != nil {
		t.Fatalf("RunRetention default: %v", err)
	}
	if report.RequestsDeleted != 0 {
		t.Fatalf("expected default window to keep the row, got %d deleted", report.RequestsDeleted)
	}

	report, err = manager.RunRetention(ctx, 7)
	if err != nil {
		t.Fatalf("RunRetention override: %v", err)
	}
	if report.RequestsDeleted != 1 {
		t.Fatalf("expected 7-day override to delete the row, got %d", report.RequestsDeleted)
	}
}

func TestRecordStagePath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	req := testsupport.SubmitRequest(t, manager, "stage/path")
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := manager.RecordStagePath(ctx, req.ID, "/tmp/stage/42.yaml"); err != nil {
		t.Fatalf("RecordStagePath: %v", err)
	}
	snapshot, err := manager.GetStatus(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snapshot.StagePath != "/tmp/stage/42.yaml" {
		t.Fatalf("expected stage path recorded, got %q", snapshot.StagePath)
	}
}

func TestManagerAdminOperations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	ctx := context.Background()
	done := testsupport.SubmitRequest(t, manager, "admin/done")
	if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: done.ID, Status: queue.StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	params := submitParams("admin/broken")
	params.MaxRetries = 1
	broken, err := manager.Submit(ctx, params)
	if err != nil {
		t.Fatalf("Submit broken: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := manager.ClaimNext(ctx, "proc-a"); err != nil {
			t.Fatalf("claim broken #%d: %v", i, err)
		}
		if err := manager.UpdateStatus(ctx, queue.UpdateParams{ID: broken.ID, Status: queue.StatusFailed, ErrorMessage: "boom"}); err != nil {
			t.Fatalf("fail broken #%d: %v", i, err)
		}
	}

	cleared, err := manager.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}

	requeued, err := manager.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued, got %d", requeued)
	}
	refreshed, err := manager.GetStatus(ctx, broken.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if refreshed.Status != queue.StatusPending || refreshed.RetryCount != 0 {
		t.Fatalf("expected fresh pending request, got %#v", refreshed)
	}

	recent, err := manager.RecentAudit(ctx, 20)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if !containsMessage(recent, "completed requests cleared") || !containsMessage(recent, "failed requests requeued") {
		t.Fatalf("expected admin audits, got %v", auditMessages(recent))
	}
}
