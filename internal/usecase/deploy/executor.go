package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/metrics"
	"hookdeploy/internal/ports"
)

const (
	// MaxErrorMessageBytes bounds the failure reason stored on an event.
	MaxErrorMessageBytes = 4 << 10

	reasonNotGitRepository = "not a git repository"
)

// Settings are the hot-reloadable knobs of the executor.
type Settings struct {
	GitTimeout           time.Duration
	HookTimeout          time.Duration
	MigrateCommand       []string
	CollectStaticCommand []string
}

// Result is the terminal outcome of one deploy.
type Result struct {
	Status   domaindeploy.Status
	Message  string
	Warnings []string
}

// JobRunner executes one job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, job Job) Result
}

type step struct {
	name    string
	command []string
	timeout time.Duration
	fatal   bool
}

type Executor struct {
	events ports.EventRepository
	state  ports.DeployStateStore
	run    CommandRunner
	now    func() time.Time

	mu       sync.RWMutex
	settings Settings
}

var _ JobRunner = (*Executor)(nil)

type ExecutorOption func(*Executor)

func WithCommandRunner(run CommandRunner) ExecutorOption {
	return func(e *Executor) {
		if run != nil {
			e.run = run
		}
	}
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(events ports.EventRepository, state ports.DeployStateStore, settings Settings, opts ...ExecutorOption) *Executor {
	e := &Executor{
		events:   events,
		state:    state,
		run:      execCommand,
		now:      func() time.Time { return time.Now().UTC() },
		settings: settings,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := e.settings
	out.MigrateCommand = append([]string(nil), e.settings.MigrateCommand...)
	out.CollectStaticCommand = append([]string(nil), e.settings.CollectStaticCommand...)
	return out
}

// UpdateSettings applies to deploys started after the call.
func (e *Executor) UpdateSettings(settings Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
}

// Run deploys job and records the terminal status of its event. Cancelling
// ctx does not interrupt a started deploy.
func (e *Executor) Run(ctx context.Context, job Job) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithAttrs(
		context.WithoutCancel(ctx),
		slog.String("component", "deploy.executor"),
		slog.String("event_id", job.EventID),
		slog.String("repository", job.Repository),
		slog.String("branch", job.Branch),
		slog.String("workdir", job.WorkDir),
	)

	logging.Info(ctx, "deploy started", slog.String("commit_sha", job.CommitSHA))
	started := e.now()
	result := e.deploy(ctx, job)
	e.finish(ctx, job, result)
	logging.Info(ctx, "deploy finished",
		slog.String("status", string(result.Status)),
		slog.Duration("elapsed", e.now().Sub(started)),
	)
	return result
}

func (e *Executor) deploy(ctx context.Context, job Job) Result {
	if err := ensureGitWorkDir(job.WorkDir); err != nil {
		logging.Warn(ctx, "working copy check failed", slog.Any("err", errs.Loggable(err)))
		return Result{Status: domaindeploy.StatusFailed, Message: reasonNotGitRepository}
	}

	settings := e.Settings()
	steps := []step{
		{name: "git fetch", command: []string{"git", "fetch", "origin"}, timeout: settings.GitTimeout, fatal: true},
		{name: "git checkout", command: []string{"git", "checkout", job.Branch}, timeout: settings.GitTimeout, fatal: true},
		{name: "git pull", command: []string{"git", "pull", "origin", job.Branch}, timeout: settings.GitTimeout, fatal: true},
		{name: "migrate", command: settings.MigrateCommand, timeout: settings.HookTimeout},
		{name: "collectstatic", command: settings.CollectStaticCommand, timeout: settings.HookTimeout},
	}

	result := Result{Status: domaindeploy.StatusCompleted}
	for _, s := range steps {
		if len(s.command) == 0 {
			logging.Debug(ctx, "deploy step disabled", slog.String("step", s.name))
			continue
		}

		reason, timedOut, ok := e.runStep(ctx, job.WorkDir, s)
		if ok {
			continue
		}
		if s.fatal || timedOut {
			return Result{Status: domaindeploy.StatusFailed, Message: reason, Warnings: result.Warnings}
		}
		logging.Warn(ctx, "post-deploy step failed", slog.String("step", s.name), slog.String("reason", reason))
		result.Warnings = append(result.Warnings, reason)
	}
	return result
}

// runStep returns the failure reason when the step did not succeed.
func (e *Executor) runStep(ctx context.Context, dir string, s step) (reason string, timedOut bool, ok bool) {
	stepCtx := ctx
	cancel := func() {}
	if s.timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	started := e.now()
	out, err := e.run(stepCtx, dir, s.command[0], s.command[1:]...)
	elapsed := e.now().Sub(started)

	if err == nil {
		metrics.ObserveStep(s.name, "ok", elapsed)
		logging.Info(ctx, "deploy step succeeded", slog.String("step", s.name), slog.Duration("elapsed", elapsed))
		return "", false, true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		metrics.ObserveStep(s.name, "timeout", elapsed)
		return failureReason(s.name, fmt.Sprintf("timed out after %s", s.timeout)), true, false
	}

	metrics.ObserveStep(s.name, "error", elapsed)
	detail := strings.TrimSpace(out.Stderr)
	if detail == "" {
		detail = err.Error()
	}
	logging.Warn(ctx, "deploy step failed",
		slog.String("step", s.name),
		slog.Int("exit_code", out.ExitCode),
		slog.Any("err", errs.Loggable(err)),
	)
	return failureReason(s.name, detail), false, false
}

func (e *Executor) finish(ctx context.Context, job Job, result Result) {
	at := e.now()
	transition := ports.EventTransition{
		From: string(domaindeploy.StatusProcessing),
		To:   string(result.Status),
		At:   at,
	}
	if result.Status == domaindeploy.StatusFailed {
		transition.ErrorMessage = result.Message
	}

	if err := e.events.TransitionEvent(ctx, job.EventID, transition); err != nil {
		logging.Error(ctx, "record deploy outcome failed", slog.Any("err", errs.Loggable(err)))
	}
	metrics.RecordDeploy(string(result.Status))

	if result.Status != domaindeploy.StatusCompleted || e.state == nil {
		return
	}
	if err := e.state.RecordDeploy(ctx, ports.DeployRecord{
		WorkDir:    job.WorkDir,
		Repository: job.Repository,
		Branch:     job.Branch,
		CommitSHA:  job.CommitSHA,
		EventID:    job.EventID,
		DeployedAt: at,
	}); err != nil {
		logging.Error(ctx, "record deploy state failed", slog.Any("err", errs.Loggable(err)))
	}
}

func ensureGitWorkDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("work dir is required")
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return errs.Wrapf(err, "stat %s", filepath.Join(dir, ".git"))
	}
	return nil
}

func failureReason(step string, detail string) string {
	return Truncate(step+" failed: "+detail, MaxErrorMessageBytes)
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 rune.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
