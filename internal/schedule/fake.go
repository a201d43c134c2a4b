package schedule

import (
	"sync"
	"time"
)

// Fake is a deterministic Scheduler for tests. Time stands still until
// Advance is called; due tasks then run synchronously on the caller's
// goroutine in deadline order, submission order breaking ties.
//
// Tasks may schedule further tasks. Those that fall due within the same
// Advance run before it returns. Do not call Advance from inside a task.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	tasks   []*fakeTask
	stopped bool
}

type fakeTask struct {
	owner     *Fake
	at        time.Time
	seq       uint64
	fn        func()
	cancelled bool
	fired     bool
}

func (ft *fakeTask) Cancel() bool {
	ft.owner.mu.Lock()
	defer ft.owner.mu.Unlock()
	if ft.cancelled || ft.fired {
		return false
	}
	ft.cancelled = true
	return true
}

// NewFake returns a Fake scheduler whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Schedule implements Scheduler.
func (f *Fake) Schedule(task func(), delay time.Duration) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	f.seq++
	ft := &fakeTask{owner: f, at: f.now.Add(delay), seq: f.seq, fn: task}
	if f.stopped {
		ft.cancelled = true
		return ft
	}
	f.tasks = append(f.tasks, ft)
	return ft
}

// Now implements Scheduler.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Stop implements Scheduler.
func (f *Fake) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	for _, ft := range f.tasks {
		ft.cancelled = true
	}
	f.tasks = nil
}

// Stopped reports whether Stop was called.
func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Advance moves the clock forward by d and runs every task that is due.
// Advance(0) runs the tasks that are already due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()

	for {
		next := f.popDue()
		if next == nil {
			return
		}
		next.fn()
	}
}

func (f *Fake) popDue() *fakeTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	live := f.tasks[:0]
	for _, ft := range f.tasks {
		if ft.cancelled || ft.fired {
			continue
		}
		live = append(live, ft)
	}
	f.tasks = live

	for i, ft := range f.tasks {
		if ft.at.After(f.now) {
			continue
		}
		if idx < 0 || ft.at.Before(f.tasks[idx].at) ||
			(ft.at.Equal(f.tasks[idx].at) && ft.seq < f.tasks[idx].seq) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	ft := f.tasks[idx]
	ft.fired = true
	return ft
}

// Pending returns the number of tasks that have neither run nor been
// cancelled.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ft := range f.tasks {
		if !ft.cancelled && !ft.fired {
			n++
		}
	}
	return n
}

// NextDelay returns how long until the earliest pending task is due, and
// false if nothing is pending.
func (f *Fake) NextDelay() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var earliest *fakeTask
	for _, ft := range f.tasks {
		if ft.cancelled || ft.fired {
			continue
		}
		if earliest == nil || ft.at.Before(earliest.at) {
			earliest = ft
		}
	}
	if earliest == nil {
		return 0, false
	}
	return earliest.at.Sub(f.now), true
}
