package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/infrastructure/persistence/sqlite/model"
	"hookdeploy/internal/ports"
)

var errFailureReasonRequired = errors.New("failed events require an error message")

type EventRepository struct {
	db *gorm.DB
}

var _ ports.EventRepository = (*EventRepository)(nil)

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) InsertEventIfNew(ctx context.Context, event ports.Event) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	row := model.Event{
		EventID:         event.EventID,
		EventType:       event.EventType,
		GitHubEvent:     event.GitHubEvent,
		Repository:      event.Repository,
		Branch:          event.Branch,
		CommitSHA:       event.CommitSHA,
		CommitSummary:   event.CommitSummary,
		Payload:         datatypes.JSON(event.Payload),
		Status:          event.Status,
		ErrorMessage:    event.ErrorMessage,
		ConfigurationID: event.ConfigurationID,
		CreatedAt:       event.CreatedAt,
		UpdatedAt:       event.UpdatedAt,
		ProcessedAt:     event.ProcessedAt,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "insert event")
	}
	return result.RowsAffected > 0, nil
}

func (r *EventRepository) TransitionEvent(ctx context.Context, eventID string, transition ports.EventTransition) error {
	from := domaindeploy.Status(transition.From)
	to := domaindeploy.Status(transition.To)
	if err := domaindeploy.ValidateTransition(from, to); err != nil {
		return err
	}

	message := strings.TrimSpace(transition.ErrorMessage)
	if to == domaindeploy.StatusFailed && message == "" {
		return errFailureReasonRequired
	}
	if to != domaindeploy.StatusFailed {
		message = ""
	}

	at := transition.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updates := map[string]any{
		"status":        string(to),
		"error_message": message,
		"updated_at":    at,
	}
	if to.IsTerminal() {
		updates["processed_at"] = at
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.Event{}).
		Where("event_id = ? AND status = ?", eventID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return errs.Wrap(result.Error, "update event status")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := getEventBy(db, "event_id = ?", eventID); err != nil {
		return err
	}
	return errs.Wrapf(ports.ErrTransitionConflict, "event %s is no longer %s", eventID, from)
}

func (r *EventRepository) GetEvent(ctx context.Context, id uint64) (ports.Event, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Event{}, err
	}
	return getEventBy(db, "id = ?", id)
}

func (r *EventRepository) GetEventByEventID(ctx context.Context, eventID string) (ports.Event, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Event{}, err
	}
	return getEventBy(db, "event_id = ?", eventID)
}

func (r *EventRepository) QueryEvents(ctx context.Context, filter ports.EventFilter) (ports.EventPage, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.EventPage{}, err
	}

	query := db.Model(&model.Event{})
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if repository := strings.TrimSpace(filter.Repository); repository != "" {
		query = query.Where(`LOWER(repository) LIKE ? ESCAPE '\'`, containsPattern(repository))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return ports.EventPage{}, errs.Wrap(err, "count events")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = ports.DefaultEventPageSize
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages == 0 {
		totalPages = 1
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	var rows []model.Event
	if err := query.
		Order("created_at desc").
		Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return ports.EventPage{}, errs.Wrap(err, "query events")
	}

	return ports.EventPage{
		Items:      mapEvents(rows),
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

func (r *EventRepository) EventStats(ctx context.Context) (ports.EventStats, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.EventStats{}, err
	}

	stats := ports.EventStats{
		ByStatus: make(map[string]int64, len(domaindeploy.Statuses)),
		ByType:   make(map[string]int64, len(domaindeploy.EventTypes)),
	}
	for _, status := range domaindeploy.Statuses {
		stats.ByStatus[string(status)] = 0
	}
	for _, eventType := range domaindeploy.EventTypes {
		stats.ByType[string(eventType)] = 0
	}

	type groupCount struct {
		GroupKey string
		Count    int64
	}

	var byStatus []groupCount
	if err := db.Model(&model.Event{}).
		Select("status AS group_key, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return ports.EventStats{}, errs.Wrap(err, "count events by status")
	}
	for _, row := range byStatus {
		stats.ByStatus[row.GroupKey] = row.Count
		stats.Total += row.Count
	}

	var byType []groupCount
	if err := db.Model(&model.Event{}).
		Select("event_type AS group_key, COUNT(*) AS count").
		Group("event_type").
		Scan(&byType).Error; err != nil {
		return ports.EventStats{}, errs.Wrap(err, "count events by type")
	}
	for _, row := range byType {
		stats.ByType[row.GroupKey] = row.Count
	}

	return stats, nil
}

func (r *EventRepository) ListEventsByStatus(ctx context.Context, statuses []string, limit int) ([]ports.Event, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	query := db.Where("status IN ?", statuses).Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.Event
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query events by status")
	}
	return mapEvents(rows), nil
}

func (r *EventRepository) DeleteEvent(ctx context.Context, id uint64) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Where("id = ?", id).Delete(&model.Event{})
	if result.Error != nil {
		return errs.Wrap(result.Error, "delete event")
	}
	if result.RowsAffected == 0 {
		return ports.ErrEventNotFound
	}
	return nil
}

// PurgeEventsBefore deletes terminal events created before the cutoff.
// In-flight events are kept so the worker can still finish them.
func (r *EventRepository) PurgeEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	result := db.
		Where("created_at < ?", before).
		Where("status IN ?", []string{string(domaindeploy.StatusCompleted), string(domaindeploy.StatusFailed)}).
		Delete(&model.Event{})
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "purge events")
	}
	return result.RowsAffected, nil
}

func getEventBy(db *gorm.DB, cond string, arg any) (ports.Event, error) {
	var row model.Event
	if err := db.Where(cond, arg).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Event{}, ports.ErrEventNotFound
		}
		return ports.Event{}, errs.Wrap(err, "query event")
	}
	return mapEvent(row), nil
}

func mapEvents(rows []model.Event) []ports.Event {
	items := make([]ports.Event, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapEvent(row))
	}
	return items
}

func mapEvent(row model.Event) ports.Event {
	return ports.Event{
		ID:              row.ID,
		EventID:         row.EventID,
		EventType:       row.EventType,
		GitHubEvent:     row.GitHubEvent,
		Repository:      row.Repository,
		Branch:          row.Branch,
		CommitSHA:       row.CommitSHA,
		CommitSummary:   row.CommitSummary,
		Payload:         []byte(row.Payload),
		Status:          row.Status,
		ErrorMessage:    row.ErrorMessage,
		ConfigurationID: row.ConfigurationID,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		ProcessedAt:     row.ProcessedAt,
	}
}
