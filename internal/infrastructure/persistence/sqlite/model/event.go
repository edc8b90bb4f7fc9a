package model

import (
	"time"

	"gorm.io/datatypes"
)

type Event struct {
	ID              uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventID         string         `gorm:"column:event_id;type:text;not null;uniqueIndex"`
	EventType       string         `gorm:"column:event_type;type:text;not null;index"`
	GitHubEvent     string         `gorm:"column:github_event;type:text;not null;default:''"`
	Repository      string         `gorm:"column:repository;type:text;not null;index"`
	Branch          string         `gorm:"column:branch;type:text;not null;default:''"`
	CommitSHA       string         `gorm:"column:commit_sha;type:text;not null;default:''"`
	CommitSummary   string         `gorm:"column:commit_summary;type:text;not null;default:''"`
	Payload         datatypes.JSON `gorm:"column:payload;not null"`
	Status          string         `gorm:"column:status;type:text;not null;index"`
	ErrorMessage    string         `gorm:"column:error_message;type:text;not null;default:''"`
	ConfigurationID *uint64        `gorm:"column:configuration_id;index"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null;index"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at"`
}

func (Event) TableName() string {
	return "events"
}
