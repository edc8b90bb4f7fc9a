package operator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/ports"
)

// RecentEventLimit is the number of events shown on the dashboard.
const RecentEventLimit = 50

// WarnMissingSecret is returned when a configuration accepts unsigned deliveries.
const WarnMissingSecret = "configuration has no secret: deliveries will not be authenticated"

type ConfigurationInput struct {
	RepositoryURL string
	Secret        string
	Enabled       bool
	AutoDeploy    bool
	DeployBranch  string
	WorkDir       string
}

// ConfigurationPatch changes only the fields that are set.
type ConfigurationPatch struct {
	RepositoryURL *string
	Secret        *string
	Enabled       *bool
	AutoDeploy    *bool
	DeployBranch  *string
	WorkDir       *string
}

type EventQuery struct {
	EventType  string
	Status     string
	Repository string
	Page       int
}

type Service struct {
	configs ports.ConfigurationRepository
	events  ports.EventRepository
	state   ports.DeployStateStore
	now     func() time.Time
}

func NewService(configs ports.ConfigurationRepository, events ports.EventRepository, state ports.DeployStateStore) *Service {
	return &Service{
		configs: configs,
		events:  events,
		state:   state,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateConfiguration(ctx context.Context, in ConfigurationInput) (SaveResult, error) {
	fields := domaindeploy.ConfigurationFields(in).Normalize()
	if err := fields.Validate(); err != nil {
		return SaveResult{}, errs.E(errs.KindInvalid, err)
	}

	now := s.now()
	created, err := s.configs.CreateConfiguration(ctx, ports.Configuration{
		RepositoryURL: fields.RepositoryURL,
		Secret:        fields.Secret,
		Enabled:       fields.Enabled,
		AutoDeploy:    fields.AutoDeploy,
		DeployBranch:  fields.DeployBranch,
		WorkDir:       fields.WorkDir,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return SaveResult{}, classify(err, "create configuration")
	}

	return s.saved(ctx, "configuration created", created), nil
}

func (s *Service) UpdateConfiguration(ctx context.Context, id uint64, patch ConfigurationPatch) (SaveResult, error) {
	current, err := s.configs.GetConfiguration(ctx, id)
	if err != nil {
		return SaveResult{}, classify(err, "load configuration")
	}

	fields := domaindeploy.ConfigurationFields{
		RepositoryURL: current.RepositoryURL,
		Secret:        current.Secret,
		Enabled:       current.Enabled,
		AutoDeploy:    current.AutoDeploy,
		DeployBranch:  current.DeployBranch,
		WorkDir:       current.WorkDir,
	}
	if patch.RepositoryURL != nil {
		fields.RepositoryURL = *patch.RepositoryURL
	}
	if patch.Secret != nil {
		fields.Secret = *patch.Secret
	}
	if patch.Enabled != nil {
		fields.Enabled = *patch.Enabled
	}
	if patch.AutoDeploy != nil {
		fields.AutoDeploy = *patch.AutoDeploy
	}
	if patch.DeployBranch != nil {
		fields.DeployBranch = *patch.DeployBranch
	}
	if patch.WorkDir != nil {
		fields.WorkDir = *patch.WorkDir
	}

	fields = fields.Normalize()
	if err := fields.Validate(); err != nil {
		return SaveResult{}, errs.E(errs.KindInvalid, err)
	}

	updated, err := s.configs.UpdateConfiguration(ctx, ports.Configuration{
		ID:            id,
		RepositoryURL: fields.RepositoryURL,
		Secret:        fields.Secret,
		Enabled:       fields.Enabled,
		AutoDeploy:    fields.AutoDeploy,
		DeployBranch:  fields.DeployBranch,
		WorkDir:       fields.WorkDir,
		UpdatedAt:     s.now(),
	})
	if err != nil {
		return SaveResult{}, classify(err, "update configuration")
	}

	return s.saved(ctx, "configuration updated", updated), nil
}

func (s *Service) saved(ctx context.Context, msg string, cfg ports.Configuration) SaveResult {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "operator"),
		slog.Uint64("configuration_id", cfg.ID),
		slog.String("repository_url", cfg.RepositoryURL),
	)
	logging.Info(logCtx, msg)

	out := SaveResult{Configuration: configurationView(cfg)}
	if !cfg.HasSecret() {
		logging.Warn(logCtx, WarnMissingSecret)
		out.Warnings = append(out.Warnings, WarnMissingSecret)
	}
	return out
}

func (s *Service) DeleteConfiguration(ctx context.Context, id uint64) error {
	if err := s.configs.DeleteConfiguration(ctx, id); err != nil {
		return classify(err, "delete configuration")
	}
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "operator")), "configuration deleted", slog.Uint64("configuration_id", id))
	return nil
}

func (s *Service) GetConfiguration(ctx context.Context, id uint64) (ConfigurationView, error) {
	cfg, err := s.configs.GetConfiguration(ctx, id)
	if err != nil {
		return ConfigurationView{}, classify(err, "get configuration")
	}
	return configurationView(cfg), nil
}

func (s *Service) ListConfigurations(ctx context.Context) ([]ConfigurationView, error) {
	items, err := s.configs.ListConfigurations(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "list configurations")
	}
	out := make([]ConfigurationView, 0, len(items))
	for _, item := range items {
		out = append(out, configurationView(item))
	}
	return out, nil
}

func (s *Service) ListEvents(ctx context.Context, q EventQuery) (EventPageView, error) {
	filter := ports.EventFilter{
		EventType:  strings.TrimSpace(q.EventType),
		Status:     strings.TrimSpace(q.Status),
		Repository: strings.TrimSpace(q.Repository),
		Page:       q.Page,
		PageSize:   ports.DefaultEventPageSize,
	}
	if filter.Status != "" {
		status, err := domaindeploy.ParseStatus(filter.Status)
		if err != nil {
			return EventPageView{}, errs.E(errs.KindInvalid, err)
		}
		filter.Status = string(status)
	}
	if filter.EventType != "" && !knownEventType(filter.EventType) {
		return EventPageView{}, errs.E(errs.KindInvalid, errors.New("unknown event type "+strconv.Quote(filter.EventType)))
	}

	page, err := s.events.QueryEvents(ctx, filter)
	if err != nil {
		return EventPageView{}, errs.Wrap(err, "query events")
	}
	return EventPageView{
		Items:      eventViews(page.Items),
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
		HasNext:    page.Page < page.TotalPages,
		HasPrev:    page.Page > 1,
	}, nil
}

// GetEvent looks an event up by row id, then by event id.
func (s *Service) GetEvent(ctx context.Context, ref string) (EventView, error) {
	event, err := s.findEvent(ctx, ref)
	if err != nil {
		return EventView{}, err
	}
	return eventView(event, true), nil
}

func (s *Service) DeleteEvent(ctx context.Context, ref string) error {
	event, err := s.findEvent(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.events.DeleteEvent(ctx, event.ID); err != nil {
		return classify(err, "delete event")
	}
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "operator")), "event deleted", slog.String("event_id", event.EventID))
	return nil
}

func (s *Service) findEvent(ctx context.Context, ref string) (ports.Event, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ports.Event{}, errs.E(errs.KindInvalid, errors.New("event reference is required"))
	}

	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		event, err := s.events.GetEvent(ctx, id)
		if err == nil {
			return event, nil
		}
		if !errors.Is(err, ports.ErrEventNotFound) {
			return ports.Event{}, errs.Wrap(err, "get event")
		}
	}

	event, err := s.events.GetEventByEventID(ctx, ref)
	if err != nil {
		return ports.Event{}, classify(err, "get event")
	}
	return event, nil
}

func (s *Service) Stats(ctx context.Context) (StatsView, error) {
	stats, err := s.events.EventStats(ctx)
	if err != nil {
		return StatsView{}, errs.Wrap(err, "event stats")
	}
	return StatsView{
		Total:      stats.Total,
		Pending:    stats.ByStatus[string(domaindeploy.StatusPending)],
		Processing: stats.ByStatus[string(domaindeploy.StatusProcessing)],
		Completed:  stats.ByStatus[string(domaindeploy.StatusCompleted)],
		Failed:     stats.ByStatus[string(domaindeploy.StatusFailed)],
		ByType:     stats.ByType,
	}, nil
}

func (s *Service) Deploys(ctx context.Context) ([]DeployView, error) {
	records, err := s.state.ListDeploys(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "list deploys")
	}
	out := make([]DeployView, 0, len(records))
	for _, r := range records {
		out = append(out, DeployView(r))
	}
	return out, nil
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	recent, err := s.events.QueryEvents(ctx, ports.EventFilter{PageSize: RecentEventLimit})
	if err != nil {
		return Dashboard{}, errs.Wrap(err, "recent events")
	}
	configs, err := s.ListConfigurations(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	deploys, err := s.Deploys(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		Stats:          stats,
		RecentEvents:   eventViews(recent.Items),
		Configurations: configs,
		Deploys:        deploys,
	}, nil
}

// PurgeEvents deletes finished events older than olderThan.
func (s *Service) PurgeEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errs.E(errs.KindInvalid, errors.New("purge age must be positive"))
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.events.PurgeEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, errs.Wrap(err, "purge events")
	}
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "operator")), "events purged",
		slog.Int64("deleted", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}

func knownEventType(raw string) bool {
	for _, t := range domaindeploy.EventTypes {
		if string(t) == raw {
			return true
		}
	}
	return false
}

func classify(err error, msg string) error {
	switch {
	case errors.Is(err, ports.ErrConfigurationNotFound), errors.Is(err, ports.ErrEventNotFound):
		return errs.E(errs.KindNotFound, errs.Wrap(err, msg))
	case errors.Is(err, ports.ErrDuplicateRepository):
		return errs.E(errs.KindConflict, errs.Wrap(err, msg))
	default:
		return errs.Wrap(err, msg)
	}
}
