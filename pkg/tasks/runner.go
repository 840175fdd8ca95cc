package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRunnerClosed is returned by Submit after Stop.
	ErrRunnerClosed = errors.New("task runner closed")

	// ErrQueueFull is returned by Submit when the work queue is saturated.
	// Submit never blocks the caller.
	ErrQueueFull = errors.New("task queue full")

	// ErrCancelled is the cause carried by a cancelled task's completion.
	ErrCancelled = errors.New("task cancelled")
)

// Outcome is the terminal state of a task.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Completion is the single terminal result delivered for a task.
type Completion struct {
	TaskID   string
	Owner    string
	Outcome  Outcome
	Value    any   // set when Outcome == Succeeded
	Err      error // set when Outcome == Failed or Cancelled
	Attempts int   // number of attempts actually executed
}

// task lifecycle states; the pending->done transition happens exactly once.
const (
	statePending int32 = iota
	stateDone
)

// Handle identifies a submitted task and allows best-effort cancellation.
type Handle struct {
	id    string
	owner string

	action Action
	policy Policy

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	attempts atomic.Int32

	runner *Runner
}

// ID returns the unique task identifier.
func (h *Handle) ID() string { return h.id }

// Owner returns the identity the task was submitted under.
func (h *Handle) Owner() string { return h.owner }

// Done reports whether the task has reached a terminal state.
func (h *Handle) Done() bool { return h.state.Load() == stateDone }

// Cancel requests cancellation. If no terminal result has been delivered
// yet, the task completes as Cancelled; otherwise Cancel is a no-op. The
// underlying action is interrupted via its context but may still finish its
// current attempt; its side effects are not rolled back.
func (h *Handle) Cancel() {
	if !h.state.CompareAndSwap(statePending, stateDone) {
		return
	}
	h.cancel()
	h.runner.finish(h, Completion{
		TaskID:   h.id,
		Owner:    h.owner,
		Outcome:  Cancelled,
		Err:      ErrCancelled,
		Attempts: int(h.attempts.Load()),
	})
}

// Stats holds cumulative runner counters.
type Stats struct {
	Submitted  uint64
	Succeeded  uint64
	Failed     uint64
	Cancelled  uint64
	Retries    uint64
	QueueDepth int
}

// Runner executes submitted actions on a fixed worker pool.
type Runner struct {
	log *logrus.Logger

	workCh      chan *Handle
	completions chan Completion

	mu     sync.Mutex
	owned  map[string]map[string]*Handle // owner -> task id -> handle
	closed bool

	wg   sync.WaitGroup
	quit chan struct{}

	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	retries   atomic.Uint64
}

// NewRunner starts a runner with the given worker count and queue capacity.
func NewRunner(workers, queueSize int, log *logrus.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	if log == nil {
		log = logrus.New()
	}

	r := &Runner{
		log:    log,
		workCh: make(chan *Handle, queueSize),
		// Sized so every admitted task can deliver its completion without
		// blocking a shutdown that is no longer draining.
		completions: make(chan Completion, queueSize+workers),
		owned:       make(map[string]map[string]*Handle),
		quit:        make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	return r
}

// Completions returns the channel every terminal result is delivered on.
// The host drains it on its control goroutine. The channel is closed by
// Stop once all workers have exited.
func (r *Runner) Completions() <-chan Completion {
	return r.completions
}

// Submit schedules action under the given owner and returns its handle
// without blocking. ErrQueueFull is returned when the queue is saturated,
// ErrRunnerClosed after Stop.
func (r *Runner) Submit(action Action, policy Policy, owner string) (*Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     uuid.NewString(),
		owner:  owner,
		action: action,
		policy: policy.normalized(),
		ctx:    ctx,
		cancel: cancel,
		runner: r,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrRunnerClosed
	}
	if r.owned[owner] == nil {
		r.owned[owner] = make(map[string]*Handle)
	}
	r.owned[owner][h.id] = h

	// The send stays under the mutex: Stop marks closed while holding it
	// before closing workCh, so no submitter can straddle the close. The
	// send is non-blocking, so the lock is never held long.
	select {
	case r.workCh <- h:
	default:
		delete(r.owned[owner], h.id)
		if len(r.owned[owner]) == 0 {
			delete(r.owned, owner)
		}
		r.mu.Unlock()
		cancel()
		return nil, ErrQueueFull
	}
	r.mu.Unlock()

	r.submitted.Add(1)
	return h, nil
}

// CancelOwned cancels every outstanding task submitted under owner. Tasks
// that already delivered a terminal result are unaffected.
func (r *Runner) CancelOwned(owner string) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.owned[owner]))
	for _, h := range r.owned[owner] {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Stop cancels all outstanding tasks, waits for the workers to drain — up
// to the context deadline — and closes the completions channel.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	owners := make([]string, 0, len(r.owned))
	for owner := range r.owned {
		owners = append(owners, owner)
	}
	r.mu.Unlock()

	for _, owner := range owners {
		r.CancelOwned(owner)
	}

	close(r.workCh)

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		close(r.completions)
		return nil
	case <-ctx.Done():
		close(r.quit)
		<-drained
		close(r.completions)
		return fmt.Errorf("task runner drain interrupted: %w", ctx.Err())
	}
}

// Stats returns cumulative counters for observability.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted:  r.submitted.Load(),
		Succeeded:  r.succeeded.Load(),
		Failed:     r.failed.Load(),
		Cancelled:  r.cancelled.Load(),
		Retries:    r.retries.Load(),
		QueueDepth: len(r.workCh),
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for h := range r.workCh {
		r.execute(h)
	}
}

// execute runs the attempt loop for one task. Backoff waits happen here, on
// the worker goroutine.
func (r *Runner) execute(h *Handle) {
	if h.Done() {
		return // cancelled while queued; completion already delivered
	}

	bo := h.policy.NewBackOff()
	var lastErr error

	for attempt := 1; attempt <= h.policy.MaxAttempts; attempt++ {
		if h.ctx.Err() != nil {
			return // cancellation won the race; Cancel delivered the result
		}

		h.attempts.Store(int32(attempt))
		value, err := r.runAttempt(h)
		if err == nil {
			r.complete(h, Completion{
				TaskID:   h.id,
				Owner:    h.owner,
				Outcome:  Succeeded,
				Value:    value,
				Attempts: attempt,
			})
			return
		}
		lastErr = err

		if !h.policy.retryable(err) || attempt == h.policy.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		r.retries.Add(1)

		select {
		case <-time.After(delay):
		case <-h.ctx.Done():
			return
		case <-r.quit:
			return
		}
	}

	r.complete(h, Completion{
		TaskID:   h.id,
		Owner:    h.owner,
		Outcome:  Failed,
		Err:      lastErr,
		Attempts: int(h.attempts.Load()),
	})
}

// runAttempt executes a single attempt with timeout and panic isolation.
func (r *Runner) runAttempt(h *Handle) (value any, err error) {
	ctx := h.ctx
	if h.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.policy.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{
				"task":  h.id,
				"owner": h.owner,
				"panic": rec,
				"stack": string(debug.Stack()),
			}).Error("Task action panicked")
			err = fmt.Errorf("task action panicked: %v", rec)
		}
	}()

	return h.action(ctx)
}

// complete delivers a worker-side terminal result unless cancellation
// already did.
func (r *Runner) complete(h *Handle, c Completion) {
	if !h.state.CompareAndSwap(statePending, stateDone) {
		return
	}
	h.cancel()
	r.finish(h, c)
}

// finish records the outcome and hands the completion to the host. The
// caller must have won the pending->done transition.
func (r *Runner) finish(h *Handle, c Completion) {
	r.forget(h)

	switch c.Outcome {
	case Succeeded:
		r.succeeded.Add(1)
	case Failed:
		r.failed.Add(1)
	case Cancelled:
		r.cancelled.Add(1)
	}

	select {
	case r.completions <- c:
	case <-r.quit:
		r.log.WithFields(logrus.Fields{
			"task":    c.TaskID,
			"owner":   c.Owner,
			"outcome": c.Outcome.String(),
		}).Warn("Dropping task completion during forced shutdown")
	}
}

func (r *Runner) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tasks := r.owned[h.owner]; tasks != nil {
		delete(tasks, h.id)
		if len(tasks) == 0 {
			delete(r.owned, h.owner)
		}
	}
}
