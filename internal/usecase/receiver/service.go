package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/ports"
	"hookdeploy/internal/usecase/deploy"
)

var ErrRateLimited = errors.New("too many deliveries for repository")

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRecorded  Outcome = "recorded"
	OutcomeQueued    Outcome = "queued"
	OutcomeQueueFull Outcome = "queue_full"
	// OutcomeDeferred means the pool was stopping; the event stays processing
	// until the next start's recovery sweep picks it up.
	OutcomeDeferred Outcome = "deferred"
)

// Delivery is one webhook request as received.
type Delivery struct {
	Body        []byte
	Signature   string
	GitHubEvent string
	DeliveryID  string
}

type Result struct {
	Outcome    Outcome
	EventID    string
	Status     domaindeploy.Status
	Repository string
	Reason     string
}

// Limiter throttles accepted deliveries per repository.
type Limiter interface {
	Allow(repository string) bool
}

type Options struct {
	ExactMatch bool
	DeployRoot string
	Limiter    Limiter
}

type Service struct {
	configs ports.ConfigurationReadRepository
	events  ports.EventRepository
	uow     ports.UnitOfWork
	pool    deploy.Submitter
	opts    Options

	now   func() time.Time
	newID func() string
}

func NewService(
	configs ports.ConfigurationReadRepository,
	events ports.EventRepository,
	uow ports.UnitOfWork,
	pool deploy.Submitter,
	opts Options,
) *Service {
	return &Service{
		configs: configs,
		events:  events,
		uow:     uow,
		pool:    pool,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
}

// Receive authenticates, records and dispatches one delivery. Returned errors
// carry an errs.Kind: invalid payloads, bad signatures and throttled
// repositories are never recorded.
func (s *Service) Receive(ctx context.Context, d Delivery) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "receiver"))

	repository, err := domaindeploy.DecodePayload(d.Body)
	if err != nil {
		return Result{}, errs.E(errs.KindInvalid, err)
	}
	logCtx = logging.WithAttrs(logCtx, slog.String("repository", repository))

	cfg, found, err := s.configs.FindEnabledByRepo(ctx, repository, s.opts.ExactMatch)
	if err != nil {
		return Result{}, errs.Wrap(err, "find configuration")
	}
	if !found {
		logging.Info(logCtx, "delivery for unknown repository ignored")
		return Result{Outcome: OutcomeIgnored, Repository: repository}, nil
	}

	if cfg.HasSecret() && !domaindeploy.VerifySignature(d.Body, d.Signature, []byte(cfg.Secret)) {
		logging.Warn(logCtx, "delivery signature rejected", slog.Uint64("configuration_id", cfg.ID))
		return Result{}, errs.E(errs.KindUnauthorized, domaindeploy.ErrSignatureMismatch)
	}

	if s.opts.Limiter != nil && !s.opts.Limiter.Allow(repository) {
		logging.Warn(logCtx, "delivery rate limited")
		return Result{}, errs.E(errs.KindRateLimited, ErrRateLimited)
	}

	parsed := domaindeploy.ParseEvent(d.Body)
	decision := domaindeploy.DecideDeploy(parsed, cfg.AutoDeploy, cfg.DeployBranch)

	now := s.now()
	configurationID := cfg.ID
	event := ports.Event{
		EventID:         s.eventID(d.DeliveryID, repository, now),
		EventType:       string(parsed.Type),
		GitHubEvent:     strings.TrimSpace(d.GitHubEvent),
		Repository:      repository,
		Branch:          parsed.Branch,
		CommitSHA:       parsed.CommitSHA,
		CommitSummary:   parsed.CommitSummary,
		Payload:         d.Body,
		Status:          string(domaindeploy.StatusPending),
		ConfigurationID: &configurationID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	logCtx = logging.WithAttrs(logCtx,
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("branch", event.Branch),
	)

	result := Result{EventID: event.EventID, Repository: repository, Reason: decision.Reason}
	inserted := false
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := s.events.InsertEventIfNew(txCtx, event)
		if err != nil {
			return err
		}
		inserted = ok
		if !ok {
			return nil
		}

		next := domaindeploy.StatusCompleted
		if decision.Deploy {
			next = domaindeploy.StatusProcessing
		}
		return s.events.TransitionEvent(txCtx, event.EventID, ports.EventTransition{
			From: string(domaindeploy.StatusPending),
			To:   string(next),
			At:   now,
		})
	}); err != nil {
		return Result{}, errs.Wrap(err, "record event")
	}

	if !inserted {
		logging.Info(logCtx, "duplicate delivery ignored")
		result.Outcome = OutcomeDuplicate
		return result, nil
	}

	if !decision.Deploy {
		logging.Info(logCtx, "event recorded without deploy", slog.String("reason", decision.Reason))
		result.Outcome = OutcomeRecorded
		result.Status = domaindeploy.StatusCompleted
		return result, nil
	}

	job := deploy.NewJob(event, cfg, s.opts.DeployRoot)
	err = s.pool.Submit(job)
	switch {
	case err == nil:
		logging.Info(logCtx, "deploy queued", slog.String("workdir", job.WorkDir))
		result.Outcome = OutcomeQueued
		result.Status = domaindeploy.StatusProcessing
		return result, nil
	case errors.Is(err, deploy.ErrPoolStopped):
		logging.Warn(logCtx, "deploy pool stopping, event left for recovery")
		result.Outcome = OutcomeDeferred
		result.Status = domaindeploy.StatusProcessing
		return result, nil
	}

	logging.Warn(logCtx, "deploy queue full", slog.Any("err", errs.Loggable(err)))
	if terr := s.events.TransitionEvent(context.WithoutCancel(ctx), event.EventID, ports.EventTransition{
		From:         string(domaindeploy.StatusProcessing),
		To:           string(domaindeploy.StatusFailed),
		ErrorMessage: deploy.ErrQueueFull.Error(),
		At:           s.now(),
	}); terr != nil {
		return Result{}, errs.Wrap(terr, "record queue overflow")
	}
	result.Outcome = OutcomeQueueFull
	result.Status = domaindeploy.StatusFailed
	result.Reason = deploy.ErrQueueFull.Error()
	return result, nil
}

func (s *Service) eventID(deliveryID string, repository string, now time.Time) string {
	if id := strings.TrimSpace(deliveryID); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d-%s", repository, now.UnixNano(), s.newID())
}
