package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domaindeploy "hookdeploy/internal/domain/deploy"
	sqliteuow "hookdeploy/internal/infrastructure/persistence/sqlite/uow"
	"hookdeploy/internal/ports"
)

func newPendingEvent(eventID string, createdAt time.Time) ports.Event {
	return ports.Event{
		EventID:     eventID,
		EventType:   string(domaindeploy.EventPush),
		GitHubEvent: "push",
		Repository:  "acme/site",
		Branch:      "main",
		CommitSHA:   "abc123",
		Payload:     []byte(`{"ref":"refs/heads/main","repository":{"full_name":"acme/site"}}`),
		Status:      string(domaindeploy.StatusPending),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestInsertEventIfNewIsIdempotent(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	inserted, err := repo.InsertEventIfNew(ctx, newPendingEvent("delivery-1", now))
	if err != nil || !inserted {
		t.Fatalf("InsertEventIfNew() inserted=%v err=%v", inserted, err)
	}

	again := newPendingEvent("delivery-1", now)
	again.Repository = "changed/repo"
	inserted, err = repo.InsertEventIfNew(ctx, again)
	if err != nil {
		t.Fatalf("InsertEventIfNew() duplicate error = %v", err)
	}
	if inserted {
		t.Fatalf("InsertEventIfNew() duplicate inserted = true")
	}

	got, err := repo.GetEventByEventID(ctx, "delivery-1")
	if err != nil {
		t.Fatalf("GetEventByEventID() error = %v", err)
	}
	if got.Repository != "acme/site" {
		t.Fatalf("stored repository = %q", got.Repository)
	}
}

func TestEventPayloadIsLossless(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()

	payload := `{"repository":{"full_name":"acme/site"},"n":1.50,"unicode":"é","nested":{"b":[1,2,{"c":null}]}}`
	event := newPendingEvent("delivery-raw", time.Now().UTC())
	event.Payload = []byte(payload)
	if _, err := repo.InsertEventIfNew(ctx, event); err != nil {
		t.Fatalf("InsertEventIfNew() error = %v", err)
	}

	got, err := repo.GetEventByEventID(ctx, "delivery-raw")
	if err != nil {
		t.Fatalf("GetEventByEventID() error = %v", err)
	}
	if string(got.Payload) != payload {
		t.Fatalf("payload = %s, want %s", got.Payload, payload)
	}
	byID, err := repo.GetEvent(ctx, got.ID)
	if err != nil || byID.EventID != "delivery-raw" {
		t.Fatalf("GetEvent() = %#v err=%v", byID, err)
	}
}

func TestTransitionEvent(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()

	if _, err := repo.InsertEventIfNew(ctx, newPendingEvent("delivery-2", time.Now().UTC())); err != nil {
		t.Fatalf("InsertEventIfNew() error = %v", err)
	}

	if err := repo.TransitionEvent(ctx, "delivery-2", ports.EventTransition{
		From: "pending", To: "processing",
	}); err != nil {
		t.Fatalf("TransitionEvent(pending->processing) error = %v", err)
	}
	got, _ := repo.GetEventByEventID(ctx, "delivery-2")
	if got.Status != "processing" || got.ProcessedAt != nil {
		t.Fatalf("after processing: status=%q processed_at=%v", got.Status, got.ProcessedAt)
	}

	err := repo.TransitionEvent(ctx, "delivery-2", ports.EventTransition{From: "pending", To: "completed"})
	if !errors.Is(err, ports.ErrTransitionConflict) {
		t.Fatalf("TransitionEvent(stale from) error = %v", err)
	}

	err = repo.TransitionEvent(ctx, "delivery-2", ports.EventTransition{From: "processing", To: "failed"})
	if err == nil {
		t.Fatalf("TransitionEvent(failed without message) expected error")
	}

	if err := repo.TransitionEvent(ctx, "delivery-2", ports.EventTransition{
		From: "processing", To: "failed", ErrorMessage: "checkout failed: boom",
	}); err != nil {
		t.Fatalf("TransitionEvent(processing->failed) error = %v", err)
	}
	got, _ = repo.GetEventByEventID(ctx, "delivery-2")
	if got.Status != "failed" || got.ErrorMessage != "checkout failed: boom" || got.ProcessedAt == nil {
		t.Fatalf("after failed: %#v", got)
	}

	err = repo.TransitionEvent(ctx, "delivery-2", ports.EventTransition{From: "failed", To: "processing"})
	if !errors.Is(err, domaindeploy.ErrInvalidTransition) {
		t.Fatalf("TransitionEvent(backward) error = %v", err)
	}

	err = repo.TransitionEvent(ctx, "missing", ports.EventTransition{From: "pending", To: "completed"})
	if !errors.Is(err, ports.ErrEventNotFound) {
		t.Fatalf("TransitionEvent(missing) error = %v", err)
	}
}

func TestTransitionEventRollsBackWithUnitOfWork(t *testing.T) {
	db := setupDB(t)
	repo := NewEventRepository(db)
	uow := sqliteuow.NewUnitOfWork(db)
	ctx := context.Background()

	boom := errors.New("boom")
	err := uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := repo.InsertEventIfNew(txCtx, newPendingEvent("delivery-tx", time.Now().UTC())); err != nil {
			return err
		}
		if err := repo.TransitionEvent(txCtx, "delivery-tx", ports.EventTransition{From: "pending", To: "completed"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v", err)
	}
	if _, err := repo.GetEventByEventID(ctx, "delivery-tx"); !errors.Is(err, ports.ErrEventNotFound) {
		t.Fatalf("GetEventByEventID() after rollback error = %v", err)
	}
}

func TestQueryEventsFiltersAndPaginates(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		event := newPendingEvent(fmt.Sprintf("push-%02d", i), base.Add(time.Duration(i)*time.Minute))
		if _, err := repo.InsertEventIfNew(ctx, event); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	release := newPendingEvent("release-1", base.Add(time.Hour))
	release.EventType = string(domaindeploy.EventRelease)
	release.Repository = "other/tool"
	if _, err := repo.InsertEventIfNew(ctx, release); err != nil {
		t.Fatalf("insert release: %v", err)
	}

	page, err := repo.QueryEvents(ctx, ports.EventFilter{})
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	if page.Total != 31 || page.TotalPages != 2 || page.PageSize != ports.DefaultEventPageSize || len(page.Items) != 25 {
		t.Fatalf("QueryEvents() page = total %d pages %d size %d items %d", page.Total, page.TotalPages, page.PageSize, len(page.Items))
	}
	if page.Items[0].EventID != "release-1" || page.Items[1].EventID != "push-29" {
		t.Fatalf("QueryEvents() order = %s, %s", page.Items[0].EventID, page.Items[1].EventID)
	}

	page, err = repo.QueryEvents(ctx, ports.EventFilter{Page: 9})
	if err != nil {
		t.Fatalf("QueryEvents(page 9) error = %v", err)
	}
	if page.Page != 2 || len(page.Items) != 6 {
		t.Fatalf("QueryEvents(page 9) page=%d items=%d", page.Page, len(page.Items))
	}

	page, err = repo.QueryEvents(ctx, ports.EventFilter{EventType: "release"})
	if err != nil || page.Total != 1 {
		t.Fatalf("QueryEvents(type) total=%d err=%v", page.Total, err)
	}
	page, err = repo.QueryEvents(ctx, ports.EventFilter{Repository: "OTHER"})
	if err != nil || page.Total != 1 || page.Items[0].EventID != "release-1" {
		t.Fatalf("QueryEvents(repository) total=%d err=%v", page.Total, err)
	}
	page, err = repo.QueryEvents(ctx, ports.EventFilter{Status: "completed"})
	if err != nil || page.Total != 0 || page.TotalPages != 1 {
		t.Fatalf("QueryEvents(status) total=%d pages=%d err=%v", page.Total, page.TotalPages, err)
	}
}

func TestEventStatsAndRecoveryListing(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := repo.InsertEventIfNew(ctx, newPendingEvent(id, now)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := repo.TransitionEvent(ctx, "a", ports.EventTransition{From: "pending", To: "processing"}); err != nil {
		t.Fatalf("transition a: %v", err)
	}
	if err := repo.TransitionEvent(ctx, "b", ports.EventTransition{From: "pending", To: "completed"}); err != nil {
		t.Fatalf("transition b: %v", err)
	}

	stats, err := repo.EventStats(ctx)
	if err != nil {
		t.Fatalf("EventStats() error = %v", err)
	}
	if stats.Total != 3 || stats.ByStatus["pending"] != 1 || stats.ByStatus["processing"] != 1 ||
		stats.ByStatus["completed"] != 1 || stats.ByStatus["failed"] != 0 || stats.ByType["push"] != 3 {
		t.Fatalf("EventStats() = %#v", stats)
	}

	open, err := repo.ListEventsByStatus(ctx, []string{"pending", "processing"}, 0)
	if err != nil {
		t.Fatalf("ListEventsByStatus() error = %v", err)
	}
	if len(open) != 2 || open[0].EventID != "a" || open[1].EventID != "c" {
		t.Fatalf("ListEventsByStatus() = %#v", open)
	}
}

func TestDeleteAndPurgeEvents(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	for _, id := range []string{"old-done", "old-open", "new-done"} {
		createdAt := old
		if id == "new-done" {
			createdAt = time.Now().UTC()
		}
		if _, err := repo.InsertEventIfNew(ctx, newPendingEvent(id, createdAt)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	for _, id := range []string{"old-done", "new-done"} {
		if err := repo.TransitionEvent(ctx, id, ports.EventTransition{From: "pending", To: "completed"}); err != nil {
			t.Fatalf("transition %s: %v", id, err)
		}
	}

	purged, err := repo.PurgeEventsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeEventsBefore() error = %v", err)
	}
	if purged != 1 {
		t.Fatalf("PurgeEventsBefore() = %d", purged)
	}
	if _, err := repo.GetEventByEventID(ctx, "old-open"); err != nil {
		t.Fatalf("open event purged: %v", err)
	}

	kept, err := repo.GetEventByEventID(ctx, "new-done")
	if err != nil {
		t.Fatalf("GetEventByEventID() error = %v", err)
	}
	if err := repo.DeleteEvent(ctx, kept.ID); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	if err := repo.DeleteEvent(ctx, kept.ID); !errors.Is(err, ports.ErrEventNotFound) {
		t.Fatalf("DeleteEvent() twice error = %v", err)
	}
}
