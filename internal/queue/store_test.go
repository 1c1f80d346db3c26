package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/testsupport"
)

func newRequest(branch string, priority int, createdAt time.Time) *queue.Request {
	return &queue.Request{
		CreatedAt:    createdAt,
		CreatedBy:    "tester",
		RequestType:  queue.TypeCreatePR,
		BranchName:   branch,
		PRTitle:      "Add " + branch,
		TargetBranch: "main",
		FileName:     branch + ".yaml",
		Payload:      []byte("key: value\n"),
		Priority:     priority,
		MaxRetries:   3,
	}
}

func TestOpenAppliesMigrationsAndRoundTrips(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	req := newRequest("perm/add-user", 5, now)
	req.PRDescription = "Grant read access"

	id, err := store.InsertRequest(ctx, req)
	if err != nil {
		t.Fatalf("InsertRequest failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected assigned id")
	}

	fetched, err := store.RequestByID(ctx, id)
	if err != nil {
		t.Fatalf("RequestByID failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected stored request")
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", fetched.Status)
	}
	if fetched.BranchName != "perm/add-user" || fetched.PRTitle != "Add perm/add-user" {
		t.Fatalf("unexpected fields: %#v", fetched)
	}
	if fetched.PRDescription != "Grant read access" {
		t.Fatalf("expected description persisted, got %q", fetched.PRDescription)
	}
	if string(fetched.Payload) != "key: value\n" {
		t.Fatalf("expected payload round-trip, got %q", fetched.Payload)
	}
	if fetched.ProcessedAt != nil || fetched.ProcessorID != "" {
		t.Fatalf("expected unclaimed request, got processor=%q processed=%v", fetched.ProcessorID, fetched.ProcessedAt)
	}
	if !fetched.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, fetched.CreatedAt)
	}

	missing, err := store.RequestByID(ctx, id+999)
	if err != nil {
		t.Fatalf("RequestByID for missing id failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing id, got %#v", missing)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.InsertRequest(ctx, newRequest("perm/reopen", 5, time.Now().UTC())); err != nil {
		t.Fatalf("InsertRequest failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	req, err := reopened.LatestByBranch(ctx, "perm/reopen")
	if err != nil {
		t.Fatalf("LatestByBranch after reopen failed: %v", err)
	}
	if req == nil {
		t.Fatal("expected request to survive reopen")
	}
}

func TestInsertRequestRejectsActiveDuplicate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := store.InsertRequest(ctx, newRequest("perm/dup", 5, now)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err := store.InsertRequest(ctx, newRequest("perm/dup", 5, now.Add(time.Second)))
	if !errors.Is(err, queue.ErrDuplicateActiveRequest) {
		t.Fatalf("expected ErrDuplicateActiveRequest, got %v", err)
	}

	// A different branch is unaffected.
	if _, err := store.InsertRequest(ctx, newRequest("perm/other", 5, now)); err != nil {
		t.Fatalf("unrelated insert failed: %v", err)
	}
}

func TestNextPendingOrdersByPriorityThenAge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	idA, err := store.InsertRequest(ctx, newRequest("order/a", 3, base))
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	idB, err := store.InsertRequest(ctx, newRequest("order/b", 7, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}
	idC, err := store.InsertRequest(ctx, newRequest("order/c", 7, base.Add(2*time.Second)))
	if err != nil {
		t.Fatalf("insert c: %v", err)
	}
	idD, err := store.InsertRequest(ctx, newRequest("order/d", 1, base.Add(3*time.Second)))
	if err != nil {
		t.Fatalf("insert d: %v", err)
	}

	want := []int64{idB, idC, idA, idD}
	for i, expected := range want {
		next, err := store.NextPending(ctx)
		if err != nil {
			t.Fatalf("NextPending #%d: %v", i, err)
		}
		if next == nil {
			t.Fatalf("NextPending #%d: expected candidate, got nil", i)
		}
		if next.ID != expected {
			t.Fatalf("NextPending #%d: expected id %d, got %d", i, expected, next.ID)
		}
		claimed, err := store.ClaimPending(ctx, next.ID, "proc-1", time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending #%d: %v", i, err)
		}
		if !claimed {
			t.Fatalf("ClaimPending #%d: expected claim to win", i)
		}
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending after drain: %v", err)
	}
	if next != nil {
		t.Fatalf("expected empty queue, got %#v", next)
	}
}

func TestNextPendingSkipsExhaustedRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	overdrawn := newRequest("retry/overdrawn", 9, time.Now().UTC())
	overdrawn.RetryCount = 5
	overdrawn.MaxRetries = 3
	if _, err := store.InsertRequest(ctx, overdrawn); err != nil {
		t.Fatalf("insert overdrawn: %v", err)
	}
	atLimit := newRequest("retry/at-limit", 1, time.Now().UTC())
	atLimit.RetryCount = 3
	atLimit.MaxRetries = 3
	id, err := store.InsertRequest(ctx, atLimit)
	if err != nil {
		t.Fatalf("insert at-limit: %v", err)
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next == nil || next.ID != id {
		t.Fatalf("expected at-limit row %d despite lower priority, got %#v", id, next)
	}
}

func TestClaimPendingIsConditional(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	id, err := store.InsertRequest(ctx, newRequest("claim/once", 5, time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	at := time.Now().UTC()
	won, err := store.ClaimPending(ctx, id, "proc-a", at)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !won {
		t.Fatal("expected first claim to win")
	}

	again, err := store.ClaimPending(ctx, id, "proc-b", at)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again {
		t.Fatal("expected second claim to lose")
	}

	req, err := store.RequestByID(ctx, id)
	if err != nil {
		t.Fatalf("RequestByID: %v", err)
	}
	if req.Status != queue.StatusProcessing || req.ProcessorID != "proc-a" {
		t.Fatalf("expected proc-a to hold the claim, got status=%s processor=%q", req.Status, req.ProcessorID)
	}
	if req.ProcessedAt == nil || !req.ProcessedAt.Equal(at) {
		t.Fatalf("expected processed_at %v, got %v", at, req.ProcessedAt)
	}
}

func TestUpdateFromProcessingGuardsCurrentStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	id, err := store.InsertRequest(ctx, newRequest("guard/row", 5, time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	done := time.Now().UTC()
	outcome := queue.ProcessingOutcome{Status: queue.StatusCompleted, ProcessedAt: &done}

	applied, err := store.UpdateFromProcessing(ctx, id, outcome)
	if err != nil {
		t.Fatalf("update on pending row: %v", err)
	}
	if applied {
		t.Fatal("expected update to skip a row that is not processing")
	}

	if _, err := store.ClaimPending(ctx, id, "proc-a", time.Now().UTC()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	applied, err = store.UpdateFromProcessing(ctx, id, outcome)
	if err != nil {
		t.Fatalf("update on processing row: %v", err)
	}
	if !applied {
		t.Fatal("expected update to apply")
	}

	applied, err = store.UpdateFromProcessing(ctx, id, outcome)
	if err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if applied {
		t.Fatal("expected repeat update to lose the guard")
	}
}

func TestLatestByBranchPrefersNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	oldID, err := store.InsertRequest(ctx, newRequest("branch/history", 5, base))
	if err != nil {
		t.Fatalf("insert old: %v", err)
	}
	done := base.Add(time.Minute)
	if _, err := store.ClaimPending(ctx, oldID, "proc-a", base.Add(30*time.Second)); err != nil {
		t.Fatalf("claim old: %v", err)
	}
	if _, err := store.UpdateFromProcessing(ctx, oldID, queue.ProcessingOutcome{Status: queue.StatusCompleted, ProcessedAt: &done}); err != nil {
		t.Fatalf("complete old: %v", err)
	}

	newID, err := store.InsertRequest(ctx, newRequest("branch/history", 5, base.Add(10*time.Minute)))
	if err != nil {
		t.Fatalf("insert new: %v", err)
	}

	latest, err := store.LatestByBranch(ctx, "branch/history")
	if err != nil {
		t.Fatalf("LatestByBranch: %v", err)
	}
	if latest == nil || latest.ID != newID {
		t.Fatalf("expected newest request %d, got %#v", newID, latest)
	}

	none, err := store.LatestByBranch(ctx, "branch/unknown")
	if err != nil {
		t.Fatalf("LatestByBranch unknown: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for unknown branch, got %#v", none)
	}
}

func TestListSupportsStatusFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	aID, err := store.InsertRequest(ctx, newRequest("list/a", 5, base))
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	bID, err := store.InsertRequest(ctx, newRequest("list/b", 5, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if _, err := store.ClaimPending(ctx, bID, "proc-a", base.Add(2*time.Second)); err != nil {
		t.Fatalf("claim b: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != aID || all[1].ID != bID {
		t.Fatalf("unexpected list: %#v", all)
	}

	processing, err := store.List(ctx, queue.StatusProcessing)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(processing) != 1 || processing[0].ID != bID {
		t.Fatalf("expected only the claimed row, got %#v", processing)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusPending] != 1 || stats[queue.StatusProcessing] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestResetStaleGuardsAgainstFinishedRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)
	id, err := store.InsertRequest(ctx, newRequest("stale/row", 5, base))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.ClaimPending(ctx, id, "proc-a", base.Add(time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	cutoff := time.Now().UTC().Add(-time.Hour)
	stale, err := store.StaleProcessing(ctx, cutoff)
	if err != nil {
		t.Fatalf("StaleProcessing: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != id {
		t.Fatalf("expected one stale row, got %#v", stale)
	}

	// The row finishes between snapshot and reset; the reset must not win.
	done := time.Now().UTC()
	if _, err := store.UpdateFromProcessing(ctx, id, queue.ProcessingOutcome{Status: queue.StatusCompleted, ProcessedAt: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	reset, err := store.ResetStale(ctx, id, "note", cutoff)
	if err != nil {
		t.Fatalf("ResetStale: %v", err)
	}
	if reset {
		t.Fatal("expected reset to skip a finished row")
	}

	req, err := store.RequestByID(ctx, id)
	if err != nil {
		t.Fatalf("RequestByID: %v", err)
	}
	if req.Status != queue.StatusCompleted {
		t.Fatalf("expected completed row untouched, got %s", req.Status)
	}
}

func TestResetStaleKeepsRetryCountAndClaimTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)
	req := newRequest("stale/retry", 5, base)
	req.RetryCount = 1
	id, err := store.InsertRequest(ctx, req)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	claimedAt := base.Add(time.Minute)
	if _, err := store.ClaimPending(ctx, id, "proc-a", claimedAt); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reset, err := store.ResetStale(ctx, id, "claim expired", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ResetStale: %v", err)
	}
	if !reset {
		t.Fatal("expected reset to win")
	}

	after, err := store.RequestByID(ctx, id)
	if err != nil {
		t.Fatalf("RequestByID: %v", err)
	}
	if after.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", after.Status)
	}
	if after.RetryCount != 1 {
		t.Fatalf("expected retry count untouched, got %d", after.RetryCount)
	}
	if after.ProcessorID != "" {
		t.Fatalf("expected processor cleared, got %q", after.ProcessorID)
	}
	if after.ErrorMessage != "claim expired" {
		t.Fatalf("expected note recorded, got %q", after.ErrorMessage)
	}
	if after.ProcessedAt == nil || !after.ProcessedAt.Equal(claimedAt) {
		t.Fatalf("expected claim time preserved, got %v", after.ProcessedAt)
	}
}

func TestHealthCounters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	old := newRequest("health/old", 5, now.Add(-3*time.Hour))
	if _, err := store.InsertRequest(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	fresh := newRequest("health/fresh", 5, now.Add(-time.Minute))
	fresh.RetryCount = 2
	if _, err := store.InsertRequest(ctx, fresh); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	oldPending, err := store.CountPendingOlderThan(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountPendingOlderThan: %v", err)
	}
	if oldPending != 1 {
		t.Fatalf("expected 1 old pending, got %d", oldPending)
	}

	highRetry, err := store.CountActiveHighRetry(ctx, 2, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountActiveHighRetry: %v", err)
	}
	if highRetry != 1 {
		t.Fatalf("expected 1 high-retry row, got %d", highRetry)
	}

	entry := &queue.AuditEntry{Level: queue.AuditError, Message: "boom", CreatedAt: now.Add(-10 * time.Minute)}
	if err := store.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	stale := &queue.AuditEntry{Level: queue.AuditError, Message: "old boom", CreatedAt: now.Add(-2 * time.Hour)}
	if err := store.AppendAudit(ctx, stale); err != nil {
		t.Fatalf("AppendAudit old: %v", err)
	}

	recent, err := store.CountAuditLevelSince(ctx, queue.AuditError, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountAuditLevelSince: %v", err)
	}
	if recent != 1 {
		t.Fatalf("expected 1 recent error entry, got %d", recent)
	}
}

func TestRetentionPrimitives(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -30)

	expired := newRequest("retain/expired", 5, now.AddDate(0, 0, -40))
	expiredID, err := store.InsertRequest(ctx, expired)
	if err != nil {
		t.Fatalf("insert expired: %v", err)
	}
	if _, err := store.ClaimPending(ctx, expiredID, "proc-a", now.AddDate(0, 0, -40)); err != nil {
		t.Fatalf("claim expired: %v", err)
	}
	terminalAt := now.AddDate(0, 0, -35)
	if _, err := store.UpdateFromProcessing(ctx, expiredID, queue.ProcessingOutcome{Status: queue.StatusCompleted, ProcessedAt: &terminalAt}); err != nil {
		t.Fatalf("complete expired: %v", err)
	}
	linked := &queue.AuditEntry{RequestID: &expiredID, Level: queue.AuditInfo, Message: "done", CreatedAt: terminalAt}
	if err := store.AppendAudit(ctx, linked); err != nil {
		t.Fatalf("append linked audit: %v", err)
	}

	keeper := newRequest("retain/pending", 5, now.AddDate(0, 0, -40))
	if _, err := store.InsertRequest(ctx, keeper); err != nil {
		t.Fatalf("insert keeper: %v", err)
	}

	unlinkedOld := &queue.AuditEntry{Level: queue.AuditInfo, Message: "old sweep", CreatedAt: now.AddDate(0, 0, -60)}
	if err := store.AppendAudit(ctx, unlinkedOld); err != nil {
		t.Fatalf("append unlinked old: %v", err)
	}
	unlinkedFresh := &queue.AuditEntry{Level: queue.AuditInfo, Message: "recent sweep", CreatedAt: now.Add(-time.Hour)}
	if err := store.AppendAudit(ctx, unlinkedFresh); err != nil {
		t.Fatalf("append unlinked fresh: %v", err)
	}

	ids, err := store.ExpiredTerminal(ctx, cutoff)
	if err != nil {
		t.Fatalf("ExpiredTerminal: %v", err)
	}
	if len(ids) != 1 || ids[0] != expiredID {
		t.Fatalf("expected only the terminal row, got %v", ids)
	}

	auditDeleted, err := store.DeleteAuditForRequests(ctx, ids)
	if err != nil {
		t.Fatalf("DeleteAuditForRequests: %v", err)
	}
	if auditDeleted != 1 {
		t.Fatalf("expected 1 linked audit row deleted, got %d", auditDeleted)
	}

	requestsDeleted, err := store.DeleteRequests(ctx, ids)
	if err != nil {
		t.Fatalf("DeleteRequests: %v", err)
	}
	if requestsDeleted != 1 {
		t.Fatalf("expected 1 request deleted, got %d", requestsDeleted)
	}

	unlinkedDeleted, err := store.DeleteUnlinkedAuditBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteUnlinkedAuditBefore: %v", err)
	}
	if unlinkedDeleted != 1 {
		t.Fatalf("expected 1 unlinked audit row deleted, got %d", unlinkedDeleted)
	}

	survivor, err := store.LatestByBranch(ctx, "retain/pending")
	if err != nil {
		t.Fatalf("LatestByBranch: %v", err)
	}
	if survivor == nil {
		t.Fatal("expected pending row to survive retention primitives")
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	id, err := store.InsertRequest(ctx, newRequest("audit/row", 5, now))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < 3; i++ {
		entry := &queue.AuditEntry{
			RequestID:   &id,
			Level:       queue.AuditInfo,
			Message:     fmt.Sprintf("event %d", i),
			Details:     `{"step":` + fmt.Sprint(i) + `}`,
			ProcessorID: "proc-a",
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("AppendAudit %d: %v", i, err)
		}
		if entry.ID == 0 {
			t.Fatal("expected audit id assigned")
		}
	}
	wide := &queue.AuditEntry{Level: queue.AuditWarn, Message: "queue-wide", CreatedAt: now.Add(5 * time.Second)}
	if err := store.AppendAudit(ctx, wide); err != nil {
		t.Fatalf("AppendAudit wide: %v", err)
	}

	forRequest, err := store.AuditForRequest(ctx, id, 2)
	if err != nil {
		t.Fatalf("AuditForRequest: %v", err)
	}
	if len(forRequest) != 2 {
		t.Fatalf("expected limit to apply, got %d entries", len(forRequest))
	}
	if forRequest[0].Message != "event 2" || forRequest[1].Message != "event 1" {
		t.Fatalf("expected newest first, got %q then %q", forRequest[0].Message, forRequest[1].Message)
	}
	if forRequest[0].RequestID == nil || *forRequest[0].RequestID != id {
		t.Fatalf("expected request id %d, got %v", id, forRequest[0].RequestID)
	}

	recent, err := store.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(recent))
	}
	if recent[0].Message != "queue-wide" {
		t.Fatalf("expected queue-wide entry first, got %q", recent[0].Message)
	}
	if recent[0].RequestID != nil {
		t.Fatalf("expected nil request id on queue-wide entry, got %v", recent[0].RequestID)
	}
}

func TestClearCompletedAndRetryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	completeID, err := store.InsertRequest(ctx, newRequest("admin/complete", 5, now))
	if err != nil {
		t.Fatalf("insert complete: %v", err)
	}
	if _, err := store.ClaimPending(ctx, completeID, "proc-a", now); err != nil {
		t.Fatalf("claim complete: %v", err)
	}
	doneAt := now.Add(time.Minute)
	if _, err := store.UpdateFromProcessing(ctx, completeID, queue.ProcessingOutcome{Status: queue.StatusCompleted, ProcessedAt: &doneAt}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	failedID, err := store.InsertRequest(ctx, newRequest("admin/failed", 5, now))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := store.ClaimPending(ctx, failedID, "proc-a", now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	failAt := now.Add(time.Minute)
	if _, err := store.UpdateFromProcessing(ctx, failedID, queue.ProcessingOutcome{
		Status:       queue.StatusFailed,
		RetryCount:   3,
		ErrorMessage: "publish exploded",
		ProcessedAt:  &failAt,
	}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	cleared, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 completed row cleared, got %d", cleared)
	}

	requeued, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 failed row requeued, got %d", requeued)
	}

	req, err := store.RequestByID(ctx, failedID)
	if err != nil {
		t.Fatalf("RequestByID: %v", err)
	}
	if req.Status != queue.StatusPending || req.RetryCount != 0 || req.ErrorMessage != "" {
		t.Fatalf("expected fresh pending row, got %#v", req)
	}
}

func TestCheckHealthReportsDiagnostics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.InsertRequest(ctx, newRequest("diag/row", 5, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected health: %#v", health)
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
	if health.JournalMode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", health.JournalMode)
	}
	if health.TotalRequests != 1 {
		t.Fatalf("expected 1 request counted, got %d", health.TotalRequests)
	}
}
