package deploy

import (
	"context"
	"errors"
	"log/slog"

	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/ports"
)

const (
	reasonConfigurationRemoved  = "configuration removed"
	reasonConfigurationDisabled = "configuration disabled"
)

// Submitter accepts deploy jobs without blocking.
type Submitter interface {
	Submit(job Job) error
}

// SweepReport counts what a recovery sweep did.
type SweepReport struct {
	Requeued  int
	Completed int
	Failed    int
}

// Sweeper finishes events a previous process left non-terminal. Every event
// is decided again against its current configuration: pending events that
// no longer deploy complete, processing events that no longer deploy fail,
// and the rest are queued.
type Sweeper struct {
	events  ports.EventRepository
	configs ports.ConfigurationReadRepository
	pool    Submitter
	root    string
}

func NewSweeper(events ports.EventRepository, configs ports.ConfigurationReadRepository, pool Submitter, root string) *Sweeper {
	return &Sweeper{events: events, configs: configs, pool: pool, root: root}
}

func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	if ctx == nil {
		return SweepReport{}, errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "deploy.sweep"))

	open, err := s.events.ListEventsByStatus(ctx, []string{
		string(domaindeploy.StatusPending),
		string(domaindeploy.StatusProcessing),
	}, 0)
	if err != nil {
		return SweepReport{}, errs.Wrap(err, "list unfinished events")
	}

	var report SweepReport
	for _, event := range open {
		eventCtx := logging.WithAttrs(logCtx,
			slog.String("event_id", event.EventID),
			slog.String("status", event.Status),
		)
		to, reason, job, err := s.recover(ctx, event)
		if err != nil {
			return report, err
		}

		if to != "" {
			if err := s.events.TransitionEvent(ctx, event.EventID, ports.EventTransition{
				From:         event.Status,
				To:           string(to),
				ErrorMessage: reason,
			}); err != nil {
				if errors.Is(err, ports.ErrTransitionConflict) {
					continue
				}
				return report, errs.Wrapf(err, "recover event %s", event.EventID)
			}
		}

		switch to {
		case domaindeploy.StatusCompleted:
			report.Completed++
			logging.Info(eventCtx, "recovered event completed without deploy", slog.String("reason", reason))
			continue
		case domaindeploy.StatusFailed:
			report.Failed++
			logging.Warn(eventCtx, "recovered event failed", slog.String("reason", reason))
			continue
		}

		if err := s.pool.Submit(job); err != nil {
			if errors.Is(err, ErrPoolStopped) {
				return report, err
			}
			if terr := s.events.TransitionEvent(ctx, event.EventID, ports.EventTransition{
				From:         string(domaindeploy.StatusProcessing),
				To:           string(domaindeploy.StatusFailed),
				ErrorMessage: ErrQueueFull.Error(),
			}); terr != nil {
				return report, errs.Wrapf(terr, "fail event %s", event.EventID)
			}
			report.Failed++
			logging.Warn(eventCtx, "recovered event dropped, queue full")
			continue
		}
		report.Requeued++
		logging.Info(eventCtx, "recovered event requeued")
	}

	logging.Info(logCtx, "recovery sweep finished",
		slog.Int("requeued", report.Requeued),
		slog.Int("completed", report.Completed),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// recover decides the next status of an unfinished event. An empty status
// with a job means the event is, or becomes, processing and must be queued.
func (s *Sweeper) recover(ctx context.Context, event ports.Event) (domaindeploy.Status, string, Job, error) {
	if event.ConfigurationID == nil {
		return domaindeploy.StatusFailed, reasonConfigurationRemoved, Job{}, nil
	}
	cfg, err := s.configs.GetConfiguration(ctx, *event.ConfigurationID)
	if errors.Is(err, ports.ErrConfigurationNotFound) {
		return domaindeploy.StatusFailed, reasonConfigurationRemoved, Job{}, nil
	}
	if err != nil {
		return "", "", Job{}, errs.Wrapf(err, "load configuration of event %s", event.EventID)
	}

	processing := event.Status == string(domaindeploy.StatusProcessing)
	if !cfg.Enabled {
		return domaindeploy.StatusFailed, reasonConfigurationDisabled, Job{}, nil
	}

	decision := domaindeploy.DecideDeploy(domaindeploy.ParseEvent(event.Payload), cfg.AutoDeploy, cfg.DeployBranch)
	if !decision.Deploy {
		if processing {
			return domaindeploy.StatusFailed, decision.Reason, Job{}, nil
		}
		return domaindeploy.StatusCompleted, decision.Reason, Job{}, nil
	}

	job := NewJob(event, cfg, s.root)
	if processing {
		return "", "", job, nil
	}
	if err := s.events.TransitionEvent(ctx, event.EventID, ports.EventTransition{
		From: string(domaindeploy.StatusPending),
		To:   string(domaindeploy.StatusProcessing),
	}); err != nil {
		return "", "", Job{}, errs.Wrapf(err, "mark event %s processing", event.EventID)
	}
	return "", "", job, nil
}
