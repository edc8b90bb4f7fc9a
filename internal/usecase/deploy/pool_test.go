package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hookdeploy/internal/ports"
)

type blockingRunner struct {
	mu       sync.Mutex
	order    []string
	active   map[string]int
	maxByDir map[string]int
	started  chan string
	release  map[string]chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		active:   make(map[string]int),
		maxByDir: make(map[string]int),
		started:  make(chan string, 16),
		release:  make(map[string]chan struct{}),
	}
}

// gate makes the job with eventID block until the returned func is called.
func (r *blockingRunner) gate(eventID string) func() {
	ch := make(chan struct{})
	r.mu.Lock()
	r.release[eventID] = ch
	r.mu.Unlock()
	return func() { close(ch) }
}

func (r *blockingRunner) Run(_ context.Context, job Job) Result {
	r.mu.Lock()
	r.order = append(r.order, job.EventID)
	r.active[job.WorkDir]++
	if r.active[job.WorkDir] > r.maxByDir[job.WorkDir] {
		r.maxByDir[job.WorkDir] = r.active[job.WorkDir]
	}
	gate := r.release[job.EventID]
	r.mu.Unlock()

	r.started <- job.EventID
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	r.active[job.WorkDir]--
	r.mu.Unlock()
	return Result{Status: "completed"}
}

func (r *blockingRunner) snapshot() ([]string, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order := append([]string(nil), r.order...)
	maxByDir := make(map[string]int, len(r.maxByDir))
	for k, v := range r.maxByDir {
		maxByDir[k] = v
	}
	return order, maxByDir
}

func waitStarted(t *testing.T, r *blockingRunner, want string) {
	t.Helper()

	select {
	case got := <-r.started:
		if got != want {
			t.Fatalf("started %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job %q never started", want)
	}
}

func TestPoolSerializesPerWorkDir(t *testing.T) {
	stores := setupStores(t)
	runner := newBlockingRunner()
	pool := NewPool(runner, stores.events, PoolConfig{Workers: 3, QueueSize: 10, LockWait: time.Minute})
	releaseA1 := runner.gate("a1")

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	if err := pool.Submit(Job{EventID: "a1", WorkDir: "/srv/a"}); err != nil {
		t.Fatalf("Submit(a1) error = %v", err)
	}
	waitStarted(t, runner, "a1")

	for _, job := range []Job{
		{EventID: "a2", WorkDir: "/srv/a"},
		{EventID: "b1", WorkDir: "/srv/b"},
	} {
		if err := pool.Submit(job); err != nil {
			t.Fatalf("Submit(%s) error = %v", job.EventID, err)
		}
	}
	waitStarted(t, runner, "b1")
	select {
	case got := <-runner.started:
		t.Fatalf("%s started while a1 holds /srv/a", got)
	case <-time.After(50 * time.Millisecond):
	}

	releaseA1()
	waitStarted(t, runner, "a2")

	order, maxByDir := runner.snapshot()
	if maxByDir["/srv/a"] != 1 {
		t.Fatalf("max concurrent deploys in /srv/a = %d", maxByDir["/srv/a"])
	}
	if order[0] != "a1" || order[len(order)-1] != "a2" {
		t.Fatalf("order = %#v", order)
	}
}

func TestPoolSubmitIsNonBlocking(t *testing.T) {
	stores := setupStores(t)
	pool := NewPool(newBlockingRunner(), stores.events, PoolConfig{Workers: 1, QueueSize: 1})

	if err := pool.Submit(Job{EventID: "x1", WorkDir: "/srv/x"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- pool.Submit(Job{EventID: "x2", WorkDir: "/srv/x"}) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("Submit() on full queue error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Submit() blocked on a full queue")
	}
	if pool.Pending() != 1 {
		t.Fatalf("Pending() = %d", pool.Pending())
	}
}

func TestPoolFailsJobAfterSecondLockTimeout(t *testing.T) {
	stores := setupStores(t)
	insertEvent(t, stores.events, "holder", "processing", nil)
	insertEvent(t, stores.events, "waiter", "processing", nil)

	runner := newBlockingRunner()
	releaseHolder := runner.gate("holder")
	pool := NewPool(runner, stores.events, PoolConfig{Workers: 2, QueueSize: 10, LockWait: 30 * time.Millisecond})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	if err := pool.Submit(Job{EventID: "holder", WorkDir: "/srv/site"}); err != nil {
		t.Fatalf("Submit(holder) error = %v", err)
	}
	waitStarted(t, runner, "holder")
	if err := pool.Submit(Job{EventID: "waiter", WorkDir: "/srv/site"}); err != nil {
		t.Fatalf("Submit(waiter) error = %v", err)
	}

	event := waitForStatus(t, stores.events, "waiter", "failed")
	if event.ErrorMessage != "working copy busy" {
		t.Fatalf("error_message = %q", event.ErrorMessage)
	}
	releaseHolder()

	order, _ := runner.snapshot()
	for _, id := range order {
		if id == "waiter" {
			t.Fatalf("busy job still ran: %#v", order)
		}
	}
}

func TestPoolStopDrainsRunningDeploys(t *testing.T) {
	stores := setupStores(t)
	runner := newBlockingRunner()
	releaseFirst := runner.gate("first")
	pool := NewPool(runner, stores.events, PoolConfig{Workers: 1, QueueSize: 10, LockWait: time.Minute})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := pool.Submit(Job{EventID: "first", WorkDir: "/srv/site"}); err != nil {
		t.Fatalf("Submit(first) error = %v", err)
	}
	waitStarted(t, runner, "first")
	if err := pool.Submit(Job{EventID: "queued", WorkDir: "/srv/other"}); err != nil {
		t.Fatalf("Submit(queued) error = %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- pool.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatalf("Stop() returned while a deploy was running")
	case <-time.After(50 * time.Millisecond):
	}

	releaseFirst()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop() never returned")
	}

	order, _ := runner.snapshot()
	if len(order) != 1 || order[0] != "first" {
		t.Fatalf("ran after stop: %#v", order)
	}
	if err := pool.Submit(Job{EventID: "late"}); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("Submit() after stop error = %v", err)
	}
}

// slowRunner holds every deploy in its first step for delay, then completes it.
type slowRunner struct {
	events  ports.EventRepository
	delay   time.Duration
	started chan string
}

func (r *slowRunner) Run(ctx context.Context, job Job) Result {
	r.started <- job.EventID
	time.Sleep(r.delay)
	if err := r.events.TransitionEvent(ctx, job.EventID, ports.EventTransition{From: "processing", To: "completed"}); err != nil {
		return Result{Status: "failed"}
	}
	return Result{Status: "completed"}
}

func TestPoolStopPastDeadlineWaitsForRunningStep(t *testing.T) {
	stores := setupStores(t)
	insertEvent(t, stores.events, "slow", "processing", nil)

	runner := &slowRunner{events: stores.events, delay: 300 * time.Millisecond, started: make(chan string, 1)}
	pool := NewPool(runner, stores.events, PoolConfig{Workers: 1, QueueSize: 1, LockWait: time.Minute})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := pool.Submit(Job{EventID: "slow", WorkDir: "/srv/site"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("deploy never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	event, err := stores.events.GetEventByEventID(context.Background(), "slow")
	if err != nil {
		t.Fatalf("GetEventByEventID() error = %v", err)
	}
	if event.Status != "completed" || event.ProcessedAt == nil {
		t.Fatalf("event at Stop() return = %s, processed_at %v", event.Status, event.ProcessedAt)
	}
}
