// Package tasks is the async runner: long operations (compile, eval,
// deploy, regression) run as tasks with tracked state and cooperative
// cancellation. Submissions to the same workspace execute FIFO; different
// workspaces run in parallel under a global worker cap.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// State is a task lifecycle state.
type State string

const (
	StatePending  State = "PENDING"
	StateRunning  State = "RUNNING"
	StateSuccess  State = "SUCCESS"
	StateFailed   State = "FAILED"
	StateCanceled State = "CANCELED"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateCanceled
}

// Handler executes one task kind. The context carries the task deadline and
// is canceled by Cancel; handlers observe it at their checkpoints.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Status is a point-in-time snapshot of a task.
type Status struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Workspace   string      `json:"workspace"`
	State       State       `json:"state"`
	SubmittedAt time.Time   `json:"submitted_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Retryable   bool        `json:"retryable,omitempty"`
}

var (
	// ErrUnknownKind is returned when no handler is registered for a kind.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrQueueFull is returned when a workspace lane cannot accept more
	// submissions.
	ErrQueueFull = errors.New("task queue is full")

	// ErrRunnerStopped is returned when the runner is shutting down.
	ErrRunnerStopped = errors.New("task runner is stopped")
)

// Config sizes the runner.
type Config struct {
	MaxWorkers     int           // Global cap on concurrently running tasks
	LaneDepth      int           // Queued submissions allowed per workspace
	DefaultTimeout time.Duration // Deadline applied to each task's context
	DrainTimeout   time.Duration // Grace period on Stop
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     4,
		LaneDepth:      32,
		DefaultTimeout: 5 * time.Minute,
		DrainTimeout:   30 * time.Second,
	}
}

type task struct {
	id          string
	kind        string
	workspace   string
	args        map[string]interface{}
	state       State
	submittedAt time.Time
	startedAt   *time.Time
	completedAt *time.Time
	result      interface{}
	err         error
	retryable   bool
	cancel      context.CancelFunc
}

// lane is one workspace's FIFO queue and its worker goroutine.
type lane struct {
	ch chan *task
}

// Runner schedules tasks across per-workspace lanes.
type Runner struct {
	mu       sync.RWMutex
	config   Config
	handlers map[string]Handler
	tasks    map[string]*task
	lanes    map[string]*lane

	// sem enforces the global cap across all lanes.
	sem *semaphore.Weighted

	isRunning bool
	baseCtx   context.Context
	stop      context.CancelFunc
	laneWg    sync.WaitGroup

	totalSubmitted int64
	totalCompleted int64
	totalCanceled  int64
}

// NewRunner creates a runner. Register handlers before submitting.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 32
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		config:    cfg,
		handlers:  make(map[string]Handler),
		tasks:     make(map[string]*task),
		lanes:     make(map[string]*lane),
		sem:       semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		isRunning: true,
		baseCtx:   ctx,
		stop:      stop,
	}
}

// Register binds a handler to a task kind.
func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Submit queues a task on its workspace lane and returns the task id.
func (r *Runner) Submit(workspace, kind string, args map[string]interface{}) (string, error) {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return "", ErrRunnerStopped
	}
	if _, ok := r.handlers[kind]; !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	t := &task{
		id:          uuid.New().String(),
		kind:        kind,
		workspace:   workspace,
		args:        args,
		state:       StatePending,
		submittedAt: time.Now(),
	}
	r.tasks[t.id] = t
	ln := r.laneFor(workspace)
	r.mu.Unlock()

	select {
	case ln.ch <- t:
		atomic.AddInt64(&r.totalSubmitted, 1)
		logging.TasksDebug("queued task %s (kind=%s, workspace=%s)", t.id, kind, workspace)
		return t.id, nil
	default:
		r.mu.Lock()
		delete(r.tasks, t.id)
		r.mu.Unlock()
		return "", fmt.Errorf("%w: workspace %s", ErrQueueFull, workspace)
	}
}

// laneFor returns the workspace lane, starting its worker on first use.
// Caller holds r.mu.
func (r *Runner) laneFor(workspace string) *lane {
	if ln, ok := r.lanes[workspace]; ok {
		return ln
	}
	ln := &lane{ch: make(chan *task, r.config.LaneDepth)}
	r.lanes[workspace] = ln
	r.laneWg.Add(1)
	go r.runLane(workspace, ln)
	return ln
}

// runLane executes one workspace's tasks in submission order.
func (r *Runner) runLane(workspace string, ln *lane) {
	defer r.laneWg.Done()

	for {
		select {
		case <-r.baseCtx.Done():
			r.drainLane(ln)
			return
		case t := <-ln.ch:
			if err := r.sem.Acquire(r.baseCtx, 1); err != nil {
				r.finish(t, nil, oerrors.Wrap(oerrors.CodeCanceled, err, "runner stopped before task started"))
				continue
			}
			r.execute(t)
			r.sem.Release(1)
		}
	}
}

// drainLane fails any tasks still queued at shutdown.
func (r *Runner) drainLane(ln *lane) {
	for {
		select {
		case t := <-ln.ch:
			r.finish(t, nil, oerrors.New(oerrors.CodeCanceled, "runner stopped before task started"))
		default:
			return
		}
	}
}

// execute runs one task under its deadline.
func (r *Runner) execute(t *task) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.config.DefaultTimeout)
	defer cancel()

	r.mu.Lock()
	if t.state == StateCanceled {
		// Canceled while queued; never ran.
		r.mu.Unlock()
		return
	}
	now := time.Now()
	t.state = StateRunning
	t.startedAt = &now
	t.cancel = cancel
	handler := r.handlers[t.kind]
	r.mu.Unlock()

	logging.Tasks("task %s started (kind=%s, workspace=%s)", t.id, t.kind, t.workspace)
	result, err := handler(ctx, t.args)
	r.finish(t, result, err)
}

// finish records a task's terminal state.
func (r *Runner) finish(t *task, result interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.state.Terminal() {
		return
	}
	now := time.Now()
	t.completedAt = &now
	t.result = result
	t.err = err

	switch {
	case err == nil:
		t.state = StateSuccess
	case oerrors.IsCode(err, oerrors.CodeCanceled) || errors.Is(err, context.Canceled):
		t.state = StateCanceled
		atomic.AddInt64(&r.totalCanceled, 1)
	default:
		t.state = StateFailed
		t.retryable = oerrors.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
	}
	atomic.AddInt64(&r.totalCompleted, 1)

	if err != nil {
		logging.Tasks("task %s finished: %s (%v)", t.id, t.state, err)
	} else {
		logging.Tasks("task %s finished: %s", t.id, t.state)
	}
}

// Status returns a snapshot of a task.
func (r *Runner) Status(id string) (*Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, oerrors.New(oerrors.CodeNotFound, "task %s not found", id)
	}

	st := &Status{
		ID:          t.id,
		Kind:        t.kind,
		Workspace:   t.workspace,
		State:       t.state,
		SubmittedAt: t.submittedAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
		Result:      t.result,
		Retryable:   t.retryable,
	}
	if t.err != nil {
		st.Error = t.err.Error()
	}
	return st, nil
}

// Cancel requests cooperative cancellation. A queued task is canceled
// immediately; a running task's context is canceled and the next handler
// checkpoint terminates it. In-flight warehouse calls are not interrupted.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return oerrors.New(oerrors.CodeNotFound, "task %s not found", id)
	}
	if t.state.Terminal() {
		return nil
	}

	if t.state == StatePending {
		now := time.Now()
		t.state = StateCanceled
		t.completedAt = &now
		t.err = oerrors.New(oerrors.CodeCanceled, "canceled before start")
		atomic.AddInt64(&r.totalCanceled, 1)
		return nil
	}

	if t.cancel != nil {
		t.cancel()
	}
	logging.Tasks("task %s cancellation requested", id)
	return nil
}

// Wait blocks until the task reaches a terminal state or the context
// expires.
func (r *Runner) Wait(ctx context.Context, id string) (*Status, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		st, err := r.Status(id)
		if err != nil {
			return nil, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Metrics exposes runner counters.
type Metrics struct {
	Submitted int64
	Completed int64
	Canceled  int64
	Lanes     int
}

// GetMetrics returns current counters.
func (r *Runner) GetMetrics() Metrics {
	r.mu.RLock()
	lanes := len(r.lanes)
	r.mu.RUnlock()

	return Metrics{
		Submitted: atomic.LoadInt64(&r.totalSubmitted),
		Completed: atomic.LoadInt64(&r.totalCompleted),
		Canceled:  atomic.LoadInt64(&r.totalCanceled),
		Lanes:     lanes,
	}
}

// Stop shuts the runner down, canceling running tasks and failing queued
// ones. Waits up to DrainTimeout for lane workers to exit.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	r.stop()

	done := make(chan struct{})
	go func() {
		r.laneWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Tasks("runner stopped")
		return nil
	case <-time.After(r.config.DrainTimeout):
		return fmt.Errorf("drain timeout exceeded")
	}
}
