package deploy

import (
	"fmt"
	"net/url"
	"strings"
)

// MatchMode selects how a payload repository is matched against stored
// repository URLs.
type MatchMode string

const (
	MatchSubstring MatchMode = "substring"
	MatchExact     MatchMode = "exact"
)

// MinSecretLength is the shortest secret accepted for a configuration.
const MinSecretLength = 10

var repositoryURLPrefixes = []string{
	"https://github.com/",
	"https://www.github.com/",
}

func ParseMatchMode(raw string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchExact:
		return MatchExact, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMatchMode, raw)
	}
}

// ConfigurationFields are the operator-editable fields of a watched repository.
type ConfigurationFields struct {
	RepositoryURL string
	Secret        string
	Enabled       bool
	AutoDeploy    bool
	DeployBranch  string
	WorkDir       string
}

// Normalize trims surrounding whitespace from the string fields.
func (f ConfigurationFields) Normalize() ConfigurationFields {
	f.RepositoryURL = strings.TrimSpace(f.RepositoryURL)
	f.DeployBranch = strings.TrimSpace(f.DeployBranch)
	f.WorkDir = strings.TrimSpace(f.WorkDir)
	return f
}

func (f ConfigurationFields) Validate() error {
	if !hasRepositoryURLPrefix(f.RepositoryURL) {
		return fmt.Errorf("%w: %q", ErrRepositoryURL, f.RepositoryURL)
	}
	if f.Secret != "" && len(f.Secret) < MinSecretLength {
		return ErrSecretTooShort
	}
	if f.AutoDeploy && f.DeployBranch == "" {
		return ErrDeployBranchMissing
	}
	return nil
}

func hasRepositoryURLPrefix(raw string) bool {
	for _, prefix := range repositoryURLPrefixes {
		if strings.HasPrefix(raw, prefix) && len(raw) > len(prefix) {
			return true
		}
	}
	return false
}

// CanonicalRepository returns the lower-cased "owner/name" a repository URL
// points at, or "" when the URL has no such path.
func CanonicalRepository(repositoryURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(repositoryURL))
	if err != nil {
		return ""
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	name := strings.TrimSuffix(parts[1], ".git")
	return strings.ToLower(parts[0] + "/" + name)
}

// MatchesRepository reports whether a stored repository URL matches the
// repository named by a payload under mode.
func MatchesRepository(repositoryURL string, repository string, mode MatchMode) bool {
	repository = strings.ToLower(strings.TrimSpace(repository))
	if repository == "" {
		return false
	}
	if mode == MatchExact {
		return CanonicalRepository(repositoryURL) == repository
	}
	return strings.Contains(strings.ToLower(repositoryURL), repository)
}
