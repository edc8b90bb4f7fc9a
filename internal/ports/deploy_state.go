package ports

import (
	"context"
	"time"
)

// DeployRecord is the last successful deploy of a working copy.
type DeployRecord struct {
	WorkDir    string
	Repository string
	Branch     string
	CommitSHA  string
	EventID    string
	DeployedAt time.Time
}

// DeployStateStore remembers what each working copy was last deployed to.
type DeployStateStore interface {
	LastDeploy(ctx context.Context, workDir string) (record DeployRecord, found bool, err error)
	RecordDeploy(ctx context.Context, record DeployRecord) error
	ListDeploys(ctx context.Context) ([]DeployRecord, error)
}
