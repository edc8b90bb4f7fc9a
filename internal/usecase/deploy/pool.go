package deploy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/metrics"
	"hookdeploy/internal/ports"
)

var (
	ErrQueueFull   = errors.New("deploy queue full")
	ErrPoolStopped = errors.New("deploy pool stopped")
)

const reasonWorkDirBusy = "working copy busy"

type PoolConfig struct {
	Workers   int
	QueueSize int
	LockWait  time.Duration
}

type queuedJob struct {
	job      Job
	requeued bool
}

type dispatchedJob struct {
	queuedJob
	ticket *lockTicket
}

// Pool runs deploy jobs on a fixed number of workers. Jobs are taken from a
// bounded FIFO queue and jobs for the same working directory never overlap.
type Pool struct {
	runner JobRunner
	events ports.EventRepository
	cfg    PoolConfig
	locks  *dirLocks

	queue chan queuedJob
	ready chan dispatchedJob
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	ctx     context.Context
	started bool
	stopped bool
}

func NewPool(runner JobRunner, events ports.EventRepository, cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Pool{
		runner: runner,
		events: events,
		cfg:    cfg,
		locks:  newDirLocks(),
		queue:  make(chan queuedJob, cfg.QueueSize),
		ready:  make(chan dispatchedJob),
		done:   make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return nil
	}
	p.started = true
	p.ctx = logging.WithAttrs(context.WithoutCancel(ctx), slog.String("component", "deploy.pool"))

	p.wg.Add(1 + p.cfg.Workers)
	go p.dispatch()
	for i := 0; i < p.cfg.Workers; i++ {
		go p.work(i)
	}

	logging.Info(p.ctx, "deploy pool started",
		slog.Int("workers", p.cfg.Workers),
		slog.Int("queue_size", p.cfg.QueueSize),
		slog.Duration("lock_wait", p.cfg.LockWait),
	)
	return nil
}

// Submit offers job without blocking.
func (p *Pool) Submit(job Job) error {
	return p.offer(queuedJob{job: job})
}

func (p *Pool) offer(item queuedJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of jobs waiting in the queue.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Stop stops taking jobs from the queue and waits for running deploys to
// reach a terminal status. Jobs still queued are dropped; their events stay
// processing. A started step is never cut short: when ctx ends first Stop
// logs and keeps waiting.
func (p *Pool) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	close(p.done)
	p.mu.Unlock()

	if !started {
		return nil
	}

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		logging.Warn(p.ctx, "shutdown deadline passed, still waiting for running deploys",
			slog.Any("err", errs.Loggable(ctx.Err())),
		)
		<-finished
	}
	logging.Info(p.ctx, "deploy pool drained", slog.Int("left_in_queue", len(p.queue)))
	return nil
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		select {
		case <-p.done:
			return
		case item := <-p.queue:
			metrics.SetQueueDepth(len(p.queue))
			ticket := p.locks.reserve(item.job.WorkDir)
			select {
			case p.ready <- dispatchedJob{queuedJob: item, ticket: ticket}:
			case <-p.done:
				p.locks.release(ticket)
				return
			}
		}
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	ctx := logging.WithAttrs(p.ctx, slog.Int("worker", id))

	for {
		select {
		case <-p.done:
			return
		case d := <-p.ready:
			select {
			case <-p.done:
				p.locks.release(d.ticket)
				return
			default:
			}
			p.handle(ctx, d)
		}
	}
}

func (p *Pool) handle(ctx context.Context, d dispatchedJob) {
	ctx = logging.WithAttrs(ctx,
		slog.String("event_id", d.job.EventID),
		slog.String("workdir", d.job.WorkDir),
	)

	acquired, abandoned := p.waitForLock(d.ticket)
	if abandoned {
		logging.Info(ctx, "deploy left queued for recovery on shutdown")
		return
	}
	if !acquired {
		p.onLockTimeout(ctx, d.queuedJob)
		return
	}

	defer p.locks.release(d.ticket)
	p.runner.Run(ctx, d.job)
}

func (p *Pool) waitForLock(t *lockTicket) (acquired bool, abandoned bool) {
	select {
	case <-t.granted:
		return true, false
	default:
	}

	var timeout <-chan time.Time
	if p.cfg.LockWait > 0 {
		timer := time.NewTimer(p.cfg.LockWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-t.granted:
		return true, false
	case <-timeout:
	case <-p.done:
		p.locks.release(t)
		return false, true
	}

	select {
	case <-t.granted:
		return true, false
	default:
		p.locks.release(t)
		return false, false
	}
}

func (p *Pool) onLockTimeout(ctx context.Context, item queuedJob) {
	if !item.requeued {
		item.requeued = true
		err := p.offer(item)
		if err == nil {
			logging.Warn(ctx, "working copy busy, deploy requeued")
			return
		}
		if errors.Is(err, ErrPoolStopped) {
			return
		}
	}

	logging.Warn(ctx, "working copy busy, deploy abandoned")
	if err := p.events.TransitionEvent(ctx, item.job.EventID, ports.EventTransition{
		From:         string(domaindeploy.StatusProcessing),
		To:           string(domaindeploy.StatusFailed),
		ErrorMessage: reasonWorkDirBusy,
	}); err != nil {
		logging.Error(ctx, "record busy failure failed", slog.Any("err", errs.Loggable(err)))
	}
	metrics.RecordDeploy(string(domaindeploy.StatusFailed))
}
