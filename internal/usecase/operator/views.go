package operator

import (
	"encoding/json"
	"time"

	"hookdeploy/internal/ports"
)

// ConfigurationView is a configuration as shown to operators. The secret is
// never included.
type ConfigurationView struct {
	ID            uint64    `json:"id" yaml:"id" toml:"id"`
	RepositoryURL string    `json:"repository_url" yaml:"repository_url" toml:"repository_url"`
	HasSecret     bool      `json:"has_secret" yaml:"has_secret" toml:"has_secret"`
	Enabled       bool      `json:"enabled" yaml:"enabled" toml:"enabled"`
	AutoDeploy    bool      `json:"auto_deploy" yaml:"auto_deploy" toml:"auto_deploy"`
	DeployBranch  string    `json:"deploy_branch" yaml:"deploy_branch" toml:"deploy_branch"`
	WorkDir       string    `json:"work_dir,omitempty" yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at" toml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at" toml:"updated_at"`
}

type EventView struct {
	ID              uint64          `json:"id"`
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	GitHubEvent     string          `json:"github_event,omitempty"`
	Repository      string          `json:"repository"`
	Branch          string          `json:"branch"`
	CommitSHA       string          `json:"commit_sha"`
	CommitSummary   string          `json:"commit_summary"`
	Status          string          `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ConfigurationID *uint64         `json:"configuration_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

type EventPageView struct {
	Items      []EventView `json:"items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	HasNext    bool        `json:"has_next"`
	HasPrev    bool        `json:"has_previous"`
}

type StatsView struct {
	Total      int64            `json:"total"`
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Completed  int64            `json:"completed"`
	Failed     int64            `json:"failed"`
	ByType     map[string]int64 `json:"by_type"`
}

type DeployView struct {
	WorkDir    string    `json:"work_dir"`
	Repository string    `json:"repository"`
	Branch     string    `json:"branch"`
	CommitSHA  string    `json:"commit_sha"`
	EventID    string    `json:"event_id"`
	DeployedAt time.Time `json:"deployed_at"`
}

type Dashboard struct {
	Stats          StatsView           `json:"stats"`
	RecentEvents   []EventView         `json:"recent_events"`
	Configurations []ConfigurationView `json:"configurations"`
	Deploys        []DeployView        `json:"deploys"`
}

type SaveResult struct {
	Configuration ConfigurationView `json:"configuration"`
	Warnings      []string          `json:"warnings,omitempty"`
}

func configurationView(c ports.Configuration) ConfigurationView {
	return ConfigurationView{
		ID:            c.ID,
		RepositoryURL: c.RepositoryURL,
		HasSecret:     c.HasSecret(),
		Enabled:       c.Enabled,
		AutoDeploy:    c.AutoDeploy,
		DeployBranch:  c.DeployBranch,
		WorkDir:       c.WorkDir,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func eventView(e ports.Event, withPayload bool) EventView {
	view := EventView{
		ID:              e.ID,
		EventID:         e.EventID,
		EventType:       e.EventType,
		GitHubEvent:     e.GitHubEvent,
		Repository:      e.Repository,
		Branch:          e.Branch,
		CommitSHA:       e.CommitSHA,
		CommitSummary:   e.CommitSummary,
		Status:          e.Status,
		ErrorMessage:    e.ErrorMessage,
		ConfigurationID: e.ConfigurationID,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		ProcessedAt:     e.ProcessedAt,
	}
	if withPayload && json.Valid(e.Payload) {
		view.Payload = json.RawMessage(e.Payload)
	}
	return view
}

func eventViews(items []ports.Event) []EventView {
	out := make([]EventView, 0, len(items))
	for _, item := range items {
		out = append(out, eventView(item, false))
	}
	return out
}
