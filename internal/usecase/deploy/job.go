package deploy

import (
	"path/filepath"
	"strings"

	"hookdeploy/internal/ports"
)

// Job is one accepted push waiting to be deployed.
type Job struct {
	EventID    string
	Repository string
	Branch     string
	CommitSHA  string
	WorkDir    string
}

// NewJob builds the deploy job of an accepted event. The configuration's
// work dir is resolved against root; an empty one means root itself.
func NewJob(event ports.Event, cfg ports.Configuration, root string) Job {
	branch := event.Branch
	if branch == "" {
		branch = cfg.DeployBranch
	}
	return Job{
		EventID:    event.EventID,
		Repository: event.Repository,
		Branch:     branch,
		CommitSHA:  event.CommitSHA,
		WorkDir:    ResolveWorkDir(root, cfg.WorkDir),
	}
}

func ResolveWorkDir(root string, workDir string) string {
	workDir = strings.TrimSpace(workDir)
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}

	dir := root
	if workDir != "" {
		if filepath.IsAbs(workDir) {
			dir = workDir
		} else {
			dir = filepath.Join(root, workDir)
		}
	}

	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
