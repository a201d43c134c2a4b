package scoped

import (
	"sync"
	"testing"
	"time"

	"github.com/szibis/telemetry-shipper/internal/schedule"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestWrapActivatesAndRestores(t *testing.T) {
	k := NewKey("tenant")
	ctx := Root().With(k, "acme")
	s := NewStorage()

	var seen any
	ctx.Wrap(func(s *Storage) { seen = s.Current().Get(k) })(s)

	if seen != "acme" {
		t.Fatalf("wrapped task saw %v, want acme", seen)
	}
	if s.Current() != Root() {
		t.Fatal("wrapped task must restore the previous context")
	}
}

func TestWrapRestoresOnPanic(t *testing.T) {
	ctx := Root().With(NewKey("k"), 1)
	s := NewStorage()

	func() {
		defer func() { _ = recover() }()
		ctx.Wrap(func(*Storage) { panic("boom") })(s)
	}()

	if s.Current() != Root() {
		t.Fatal("panicking task must still restore the previous context")
	}
}

func TestGoStartsAtRoot(t *testing.T) {
	k := NewKey("k")
	parent := NewStorage()
	scope := parent.Attach(Root().With(k, "parent"))
	defer scope.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var childSaw any = "unset"
	Go(func(s *Storage) {
		defer wg.Done()
		childSaw = s.Current().Get(k)
	})
	wg.Wait()

	if childSaw != nil {
		t.Fatalf("new goroutine saw %v, want no binding", childSaw)
	}
}

func TestNewExecutorFreshStoragePerTask(t *testing.T) {
	f := schedule.NewFake(epoch)
	exec := NewExecutor(f)
	k := NewKey("k")

	var leaked bool
	exec.Execute(func(s *Storage) {
		s.Attach(Root().With(k, "left attached"))
	})
	exec.Execute(func(s *Storage) {
		leaked = s.Current().Get(k) != nil
	})
	f.Advance(0)

	if leaked {
		t.Fatal("a context left attached by one task must not leak into the next")
	}
}

func TestWrapScheduledExecutor(t *testing.T) {
	f := schedule.NewFake(epoch)
	k := NewKey("job")
	ctx := Root().With(k, "compaction")
	exec := ctx.WrapScheduledExecutor(NewExecutor(f))

	var got []any
	record := func(s *Storage) { got = append(got, s.Current().Get(k)) }

	exec.Execute(record)
	exec.Schedule(record, time.Second)
	f.Advance(0)
	if len(got) != 1 || got[0] != "compaction" {
		t.Fatalf("Execute ran with %v", got)
	}
	f.Advance(time.Second)
	if len(got) != 2 || got[1] != "compaction" {
		t.Fatalf("Schedule ran with %v", got)
	}
}

func TestWrapScheduledExecutorFixedRate(t *testing.T) {
	f := schedule.NewFake(epoch)
	k := NewKey("job")
	ctx := Root().With(k, "flush")
	exec := ctx.WrapScheduledExecutor(NewExecutor(f))

	var runs []time.Time
	var afterRun []bool
	h := exec.ScheduleAtFixedRate(func(s *Storage) {
		if s.Current().Get(k) != "flush" {
			t.Errorf("run %d did not see the wrapped context", len(runs))
		}
		runs = append(runs, f.Now())
		afterRun = append(afterRun, s.Current() == ctx)
	}, 100*time.Millisecond, time.Second)

	for i := 0; i < 3; i++ {
		f.Advance(100 * time.Millisecond)
		f.Advance(900 * time.Millisecond)
	}

	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, at := range runs {
		if want := epoch.Add(100*time.Millisecond + time.Duration(i)*time.Second); !at.Equal(want) {
			t.Errorf("run %d at %v, want %v", i, at, want)
		}
		if !afterRun[i] {
			t.Errorf("run %d: wrapped context not current during the run", i)
		}
	}

	if !h.Cancel() {
		t.Fatal("Cancel on an active fixed-rate task should report true")
	}
	f.Advance(5 * time.Second)
	if len(runs) != 3 {
		t.Fatalf("task ran after Cancel: %d runs", len(runs))
	}
	if h.Cancel() {
		t.Fatal("second Cancel should report false")
	}
}

type recordingExecutor struct {
	tasks []Task
}

func (e *recordingExecutor) Execute(task Task) { e.tasks = append(e.tasks, task) }

func TestWrapExecutor(t *testing.T) {
	k := NewKey("k")
	ctx := Root().With(k, "v")
	inner := &recordingExecutor{}

	var seen any
	ctx.WrapExecutor(inner).Execute(func(s *Storage) { seen = s.Current().Get(k) })

	if len(inner.tasks) != 1 {
		t.Fatalf("expected the delegate to receive 1 task, got %d", len(inner.tasks))
	}
	s := NewStorage()
	inner.tasks[0](s)
	if seen != "v" {
		t.Fatalf("task saw %v, want v", seen)
	}
	if s.Current() != Root() {
		t.Fatal("wrapped task should restore the executing goroutine's context")
	}
}

func TestScheduleAtFixedRatePanicsOnNonPositivePeriod(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewExecutor(schedule.NewFake(epoch)).ScheduleAtFixedRate(func(*Storage) {}, 0, 0)
}
