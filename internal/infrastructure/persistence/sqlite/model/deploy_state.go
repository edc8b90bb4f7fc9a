package model

import "time"

type DeployState struct {
	WorkDir    string    `gorm:"column:work_dir;type:text;primaryKey"`
	Repository string    `gorm:"column:repository;type:text;not null"`
	Branch     string    `gorm:"column:branch;type:text;not null"`
	CommitSHA  string    `gorm:"column:commit_sha;type:text;not null"`
	EventID    string    `gorm:"column:event_id;type:text;not null"`
	DeployedAt time.Time `gorm:"column:deployed_at;not null"`
}

func (DeployState) TableName() string {
	return "deploy_states"
}

// All lists every table the application migrates.
func All() []any {
	return []any{
		&Configuration{},
		&Event{},
		&DeployState{},
	}
}
