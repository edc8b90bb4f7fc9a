package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"hookdeploy/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "hookdeploy/internal/infrastructure/persistence/sqlite/repository"
	"hookdeploy/internal/infrastructure/state"
	"hookdeploy/internal/ports"
)

type testStores struct {
	events  *sqliterepo.EventRepository
	configs *sqliterepo.ConfigurationRepository
	state   *state.SQLiteStateStore
}

func setupStores(t *testing.T) testStores {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "deploy.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	return testStores{
		events:  sqliterepo.NewEventRepository(db),
		configs: sqliterepo.NewConfigurationRepository(db),
		state:   state.NewSQLiteStateStore(db),
	}
}

// insertEvent stores a push event in the given status.
func insertEvent(t *testing.T, events ports.EventRepository, eventID string, status string, mutate func(*ports.Event)) {
	t.Helper()

	now := time.Now().UTC()
	event := ports.Event{
		EventID:    eventID,
		EventType:  "push",
		Repository: "acme/site",
		Branch:     "main",
		CommitSHA:  "abc123",
		Payload:    []byte(`{"ref":"refs/heads/main","repository":{"full_name":"acme/site"},"head_commit":{"id":"abc123","message":"fix"}}`),
		Status:     "pending",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if mutate != nil {
		mutate(&event)
	}

	ctx := context.Background()
	if _, err := events.InsertEventIfNew(ctx, event); err != nil {
		t.Fatalf("insert event %s: %v", eventID, err)
	}
	if status == "pending" {
		return
	}
	if err := events.TransitionEvent(ctx, eventID, ports.EventTransition{From: "pending", To: status}); err != nil {
		t.Fatalf("transition event %s: %v", eventID, err)
	}
}

func newGitWorkDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("create .git: %v", err)
	}
	return dir
}

func waitForStatus(t *testing.T, events ports.EventReadRepository, eventID string, want string) ports.Event {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		event, err := events.GetEventByEventID(context.Background(), eventID)
		if err == nil && event.Status == want {
			return event
		}
		if time.Now().After(deadline) {
			t.Fatalf("event %s status = %q (err %v), want %q", eventID, event.Status, err, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
