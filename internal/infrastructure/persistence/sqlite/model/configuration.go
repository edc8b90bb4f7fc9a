package model

import "time"

type Configuration struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RepositoryURL string    `gorm:"column:repository_url;type:text;not null;index"`
	Secret        string    `gorm:"column:secret;type:text;not null;default:''"`
	Enabled       bool      `gorm:"column:enabled;not null;index"`
	AutoDeploy    bool      `gorm:"column:auto_deploy;not null"`
	DeployBranch  string    `gorm:"column:deploy_branch;type:text;not null"`
	WorkDir       string    `gorm:"column:work_dir;type:text;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

func (Configuration) TableName() string {
	return "configurations"
}
