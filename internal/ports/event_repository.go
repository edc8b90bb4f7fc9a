package ports

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEventNotFound      = errors.New("webhook event not found")
	ErrTransitionConflict = errors.New("webhook event status changed concurrently")
)

// DefaultEventPageSize is the page size of event listings.
const DefaultEventPageSize = 25

type Event struct {
	ID              uint64
	EventID         string
	EventType       string
	GitHubEvent     string
	Repository      string
	Branch          string
	CommitSHA       string
	CommitSummary   string
	Payload         []byte
	Status          string
	ErrorMessage    string
	ConfigurationID *uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
}

// EventTransition is a compare-and-set status change.
type EventTransition struct {
	From         string
	To           string
	ErrorMessage string
	At           time.Time
}

type EventFilter struct {
	EventType  string
	Status     string
	Repository string
	Page       int
	PageSize   int
}

type EventPage struct {
	Items      []Event
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}

type EventStats struct {
	Total    int64
	ByStatus map[string]int64
	ByType   map[string]int64
}

type EventReadRepository interface {
	GetEvent(ctx context.Context, id uint64) (Event, error)
	GetEventByEventID(ctx context.Context, eventID string) (Event, error)
	QueryEvents(ctx context.Context, filter EventFilter) (EventPage, error)
	EventStats(ctx context.Context) (EventStats, error)
	ListEventsByStatus(ctx context.Context, statuses []string, limit int) ([]Event, error)
}

type EventRepository interface {
	EventReadRepository
	// InsertEventIfNew stores event unless its event id is already present.
	// It reports whether a row was inserted.
	InsertEventIfNew(ctx context.Context, event Event) (bool, error)
	TransitionEvent(ctx context.Context, eventID string, transition EventTransition) error
	DeleteEvent(ctx context.Context, id uint64) error
	PurgeEventsBefore(ctx context.Context, before time.Time) (int64, error)
}
