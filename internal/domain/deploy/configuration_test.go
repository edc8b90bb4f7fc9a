package deploy

import (
	"errors"
	"testing"
)

func TestConfigurationFieldsValidate(t *testing.T) {
	valid := ConfigurationFields{
		RepositoryURL: "https://github.com/acme/app",
		Secret:        "s3cret-token",
		Enabled:       true,
		AutoDeploy:    true,
		DeployBranch:  "main",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	noSecret := valid
	noSecret.Secret = ""
	if err := noSecret.Validate(); err != nil {
		t.Fatalf("Validate() without secret error = %v", err)
	}

	www := valid
	www.RepositoryURL = "https://www.github.com/acme/app"
	if err := www.Validate(); err != nil {
		t.Fatalf("Validate() www url error = %v", err)
	}

	badURL := valid
	badURL.RepositoryURL = "https://gitlab.com/acme/app"
	if err := badURL.Validate(); !errors.Is(err, ErrRepositoryURL) {
		t.Fatalf("Validate() error = %v, want ErrRepositoryURL", err)
	}

	shortSecret := valid
	shortSecret.Secret = "short"
	if err := shortSecret.Validate(); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("Validate() error = %v, want ErrSecretTooShort", err)
	}

	noBranch := valid
	noBranch.DeployBranch = ""
	if err := noBranch.Validate(); !errors.Is(err, ErrDeployBranchMissing) {
		t.Fatalf("Validate() error = %v, want ErrDeployBranchMissing", err)
	}

	noBranch.AutoDeploy = false
	if err := noBranch.Validate(); err != nil {
		t.Fatalf("Validate() manual config error = %v", err)
	}
}

func TestMatchesRepository(t *testing.T) {
	if !MatchesRepository("https://github.com/Acme/App", "acme/app", MatchSubstring) {
		t.Fatal("substring match should be case-insensitive")
	}
	if !MatchesRepository("https://github.com/acme/app-v2", "acme/app", MatchSubstring) {
		t.Fatal("substring match should accept acme/app-v2")
	}
	if MatchesRepository("https://github.com/acme/app-v2", "acme/app", MatchExact) {
		t.Fatal("exact match should reject acme/app-v2")
	}
	if !MatchesRepository("https://github.com/acme/app.git", "Acme/App", MatchExact) {
		t.Fatal("exact match should accept .git suffix")
	}
	if MatchesRepository("https://github.com/acme/app", "", MatchSubstring) {
		t.Fatal("empty repository must not match")
	}
}

func TestDecideDeploy(t *testing.T) {
	push := ParsedEvent{Type: EventPush, Branch: "main"}
	if d := DecideDeploy(push, true, "main"); !d.Deploy {
		t.Fatalf("DecideDeploy() = %+v, want deploy", d)
	}
	if d := DecideDeploy(push, false, "main"); d.Deploy {
		t.Fatalf("DecideDeploy() auto deploy off = %+v", d)
	}
	if d := DecideDeploy(ParsedEvent{Type: EventPush, Branch: "dev"}, true, "main"); d.Deploy {
		t.Fatalf("DecideDeploy() wrong branch = %+v", d)
	}
	if d := DecideDeploy(ParsedEvent{Type: EventPullRequest, Branch: "main"}, true, "main"); d.Deploy {
		t.Fatalf("DecideDeploy() pull request = %+v", d)
	}
}
