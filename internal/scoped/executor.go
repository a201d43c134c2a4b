package scoped

import (
	"sync"
	"time"

	"github.com/szibis/telemetry-shipper/internal/schedule"
)

// Task is a unit of work that runs with the Storage of the goroutine
// executing it.
type Task func(s *Storage)

// Wrap returns a task that makes c current for the duration of task and
// restores the previous context afterwards, also when task panics.
func (c *Context) Wrap(task Task) Task {
	return func(s *Storage) {
		scope := s.Attach(c)
		defer scope.Close()
		task(s)
	}
}

// Go runs fn on a new goroutine with a fresh Storage. The new goroutine
// starts at Root regardless of what is current on the caller.
func Go(fn Task) {
	go fn(NewStorage())
}

// Executor runs tasks.
type Executor interface {
	Execute(task Task)
}

// ScheduledExecutor runs tasks after a delay or repeatedly.
type ScheduledExecutor interface {
	Executor
	Schedule(task Task, delay time.Duration) schedule.Handle
	// ScheduleAtFixedRate runs task first after initialDelay and then every
	// period, measured from the previous scheduled start. It panics if
	// period is not positive.
	ScheduleAtFixedRate(task Task, initialDelay, period time.Duration) schedule.Handle
}

// WrapExecutor returns an Executor that runs every task with c current.
func (c *Context) WrapExecutor(e Executor) Executor {
	return &contextExecutor{ctx: c, delegate: e}
}

// WrapScheduledExecutor returns a ScheduledExecutor that runs every task
// invocation with c current. Each run of a repeating task gets its own
// activation, closed when that run returns.
func (c *Context) WrapScheduledExecutor(e ScheduledExecutor) ScheduledExecutor {
	return &contextScheduledExecutor{contextExecutor{ctx: c, delegate: e}, e}
}

type contextExecutor struct {
	ctx      *Context
	delegate Executor
}

func (e *contextExecutor) Execute(task Task) {
	e.delegate.Execute(e.ctx.Wrap(task))
}

type contextScheduledExecutor struct {
	contextExecutor
	scheduled ScheduledExecutor
}

func (e *contextScheduledExecutor) Schedule(task Task, delay time.Duration) schedule.Handle {
	return e.scheduled.Schedule(e.ctx.Wrap(task), delay)
}

func (e *contextScheduledExecutor) ScheduleAtFixedRate(task Task, initialDelay, period time.Duration) schedule.Handle {
	return e.scheduled.ScheduleAtFixedRate(e.ctx.Wrap(task), initialDelay, period)
}

// NewExecutor returns a ScheduledExecutor on top of sched. Every task
// invocation gets a fresh Storage.
func NewExecutor(sched schedule.Scheduler) ScheduledExecutor {
	return &schedulerExecutor{sched: sched}
}

type schedulerExecutor struct {
	sched schedule.Scheduler
}

func (e *schedulerExecutor) Execute(task Task) {
	e.Schedule(task, 0)
}

func (e *schedulerExecutor) Schedule(task Task, delay time.Duration) schedule.Handle {
	return e.sched.Schedule(func() { task(NewStorage()) }, delay)
}

func (e *schedulerExecutor) ScheduleAtFixedRate(task Task, initialDelay, period time.Duration) schedule.Handle {
	if period <= 0 {
		panic("scoped: non-positive period for ScheduleAtFixedRate")
	}

	r := &repeating{}
	next := e.sched.Now().Add(initialDelay)
	var run func()
	run = func() {
		if r.isCancelled() {
			return
		}
		task(NewStorage())
		next = next.Add(period)
		r.set(e.sched.Schedule(run, next.Sub(e.sched.Now())))
	}
	r.set(e.sched.Schedule(run, initialDelay))
	return r
}

// repeating is the handle of a fixed-rate task. It tracks the handle of the
// next run.
type repeating struct {
	mu        sync.Mutex
	cancelled bool
	current   schedule.Handle
}

func (r *repeating) set(h schedule.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		h.Cancel()
		return
	}
	r.current = h
}

func (r *repeating) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *repeating) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false
	}
	r.cancelled = true
	if r.current != nil {
		r.current.Cancel()
	}
	return true
}
