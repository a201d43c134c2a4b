// Package schedule provides the task scheduler the batch processors and the
// scoped executors run on. Work is submitted as a delayed task rather than
// held in a blocking loop, so an idle processor does not pin a goroutine.
//
// Production code uses Timers; tests use Fake for deterministic time.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

// Handle identifies a scheduled task.
type Handle interface {
	// Cancel prevents the task from running. It reports true if the task
	// was pending and will now never run, false if it already ran, is
	// running, or was cancelled before.
	Cancel() bool
}

// Scheduler runs tasks after a delay.
type Scheduler interface {
	// Schedule runs task once after delay. A non-positive delay means
	// "as soon as possible". After Stop, tasks are silently discarded and
	// the returned handle reports false from Cancel.
	Schedule(task func(), delay time.Duration) Handle

	// Now returns the scheduler's notion of the current time.
	Now() time.Time

	// Stop cancels all pending tasks. Running tasks are not interrupted.
	Stop()
}

var (
	tasksScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_shipper_scheduler_tasks_scheduled_total",
		Help: "Total tasks submitted to timer schedulers",
	})
	tasksRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_shipper_scheduler_tasks_run_total",
		Help: "Total scheduled tasks that ran",
	})
	tasksPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_shipper_scheduler_tasks_pending",
		Help: "Tasks waiting for their timer to fire",
	})
)

func init() {
	prometheus.MustRegister(tasksScheduled, tasksRun, tasksPending)
}

// Option configures Timers.
type Option func(*Timers)

// WithMaxConcurrency bounds how many tasks may run at once. Tasks whose
// timer fires while the bound is reached wait for a free slot.
// A non-positive n means unbounded.
func WithMaxConcurrency(n int64) Option {
	return func(t *Timers) {
		if n > 0 {
			t.sem = semaphore.NewWeighted(n)
		}
	}
}

// Timers is a Scheduler backed by time.AfterFunc. Each due task runs on its
// own goroutine.
type Timers struct {
	mu      sync.Mutex
	pending map[*timerHandle]struct{}
	stopped bool
	sem     *semaphore.Weighted
}

// New creates a Timers scheduler.
func New(opts ...Option) *Timers {
	t := &Timers{pending: make(map[*timerHandle]struct{})}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type timerHandle struct {
	owner *Timers
	timer *time.Timer
}

func (h *timerHandle) Cancel() bool {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if _, ok := h.owner.pending[h]; !ok {
		return false
	}
	h.timer.Stop()
	delete(h.owner.pending, h)
	tasksPending.Dec()
	return true
}

type stoppedHandle struct{}

func (stoppedHandle) Cancel() bool { return false }

// Schedule implements Scheduler.
func (t *Timers) Schedule(task func(), delay time.Duration) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return stoppedHandle{}
	}
	if delay < 0 {
		delay = 0
	}

	h := &timerHandle{owner: t}
	// The callback takes t.mu, so it cannot observe h before it is registered.
	h.timer = time.AfterFunc(delay, func() { t.run(h, task) })
	t.pending[h] = struct{}{}
	tasksScheduled.Inc()
	tasksPending.Inc()
	return h
}

func (t *Timers) run(h *timerHandle, task func()) {
	t.mu.Lock()
	if _, ok := t.pending[h]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.pending, h)
	tasksPending.Dec()
	t.mu.Unlock()

	if t.sem != nil {
		if err := t.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer t.sem.Release(1)
	}
	tasksRun.Inc()
	task()
}

// Now implements Scheduler.
func (t *Timers) Now() time.Time { return time.Now() }

// Stop implements Scheduler. It is safe to call more than once.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	for h := range t.pending {
		h.timer.Stop()
		tasksPending.Dec()
	}
	clear(t.pending)
}

// Pending returns the number of tasks whose timer has not fired yet.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
