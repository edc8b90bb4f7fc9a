package ports

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConfigurationNotFound = errors.New("webhook configuration not found")
	ErrDuplicateRepository   = errors.New("an enabled configuration already watches this repository url")
)

// Configuration is one watched repository.
type Configuration struct {
	ID            uint64
	RepositoryURL string
	Secret        string
	Enabled       bool
	AutoDeploy    bool
	DeployBranch  string
	WorkDir       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c Configuration) HasSecret() bool {
	return c.Secret != ""
}

type ConfigurationReadRepository interface {
	// FindEnabledByRepo returns the earliest enabled configuration whose
	// repository url contains repo (case-insensitive). With exact set, the
	// url must name exactly that owner/name.
	FindEnabledByRepo(ctx context.Context, repo string, exact bool) (Configuration, bool, error)
	GetConfiguration(ctx context.Context, id uint64) (Configuration, error)
	ListConfigurations(ctx context.Context) ([]Configuration, error)
}

type ConfigurationRepository interface {
	ConfigurationReadRepository
	CreateConfiguration(ctx context.Context, cfg Configuration) (Configuration, error)
	UpdateConfiguration(ctx context.Context, cfg Configuration) (Configuration, error)
	DeleteConfiguration(ctx context.Context, id uint64) error
}
