package retry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset")

// recordingSleep records every requested sleep and never blocks.
type recordingSleep struct {
	mu     sync.Mutex
	sleeps []time.Duration
	failAt int // 1-based sleep number that reports interruption; 0 never
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	if r.failAt > 0 && len(r.sleeps) == r.failAt {
		return context.Canceled
	}
	return nil
}

func (r *recordingSleep) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sleeps)
}

func identity(d time.Duration) time.Duration { return d }

func isRetryableStatus(code int) bool { return code == 503 }

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func newTestDelivery(t *testing.T, policy Policy, sleep *recordingSleep, opts ...Option) *Delivery[int] {
	t.Helper()
	opts = append([]Option{WithSleep(sleep.sleep), WithName(t.Name())}, opts...)
	d, err := New[int](policy, isRetryableStatus, isTransient, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return d
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Policy)
		wantErr bool
	}{
		{"default", func(*Policy) {}, false},
		{"single attempt", func(p *Policy) { p.MaxAttempts = 1 }, false},
		{"zero attempts", func(p *Policy) { p.MaxAttempts = 0 }, true},
		{"zero initial backoff", func(p *Policy) { p.InitialBackoff = 0 }, true},
		{"max below initial", func(p *Policy) { p.MaxBackoff = p.InitialBackoff / 2 }, true},
		{"multiplier of one", func(p *Policy) { p.BackoffMultiplier = 1.0 }, true},
		{"negative elapsed", func(p *Policy) { p.MaxElapsed = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.modify(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	bad := DefaultPolicy()
	bad.MaxAttempts = 0
	if _, err := New[int](bad, nil, nil); err == nil {
		t.Fatal("New should reject an invalid policy")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 5 || p.InitialBackoff != time.Second || p.MaxBackoff != 5*time.Second || p.BackoffMultiplier != 1.5 {
		t.Fatalf("unexpected default policy %+v", p)
	}
}

func TestDo_SucceedsOnFifthAttempt(t *testing.T) {
	sleep := &recordingSleep{}
	d := newTestDelivery(t, DefaultPolicy(), sleep)

	calls := 0
	res, err := d.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 5 {
			return 503, nil
		}
		return 200, nil
	})

	if err != nil || res != 200 {
		t.Fatalf("Do() = %d, %v; want 200, nil", res, err)
	}
	if calls != 5 {
		t.Errorf("attempts = %d, want 5", calls)
	}
	if n := sleep.count(); n != 4 {
		t.Errorf("sleeps = %d, want 4", n)
	}
}

func TestDo_NeverSucceedsReturnsLastError(t *testing.T) {
	sleep := &recordingSleep{}
	d := newTestDelivery(t, DefaultPolicy(), sleep)

	calls := 0
	var last error
	_, err := d.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		last = fmt.Errorf("attempt %d: %w", calls, errTransient)
		return 0, last
	})

	if err != last {
		t.Fatalf("Do() error = %v, want the last attempt's error %v", err, last)
	}
	if calls != 5 {
		t.Errorf("attempts = %d, want 5", calls)
	}
	if n := sleep.count(); n != 4 {
		t.Errorf("sleeps = %d, want 4", n)
	}
}

func TestDo_RetryableResponseExhausted(t *testing.T) {
	sleep := &recordingSleep{}
	p := DefaultPolicy()
	p.MaxAttempts = 3
	d := newTestDelivery(t, p, sleep)

	res, err := d.Do(context.Background(), func(context.Context) (int, error) { return 503, nil })
	if err != nil || res != 503 {
		t.Fatalf("Do() = %d, %v; want the last response 503", res, err)
	}
	if n := sleep.count(); n != 2 {
		t.Errorf("sleeps = %d, want 2", n)
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	tests := []struct {
		name    string
		res     int
		err     error
		wantErr bool
	}{
		{"success", 200, nil, false},
		{"client error", 400, nil, false},
		{"permanent transport error", 0, errors.New("certificate rejected"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleep := &recordingSleep{}
			d := newTestDelivery(t, DefaultPolicy(), sleep)

			calls := 0
			res, err := d.Do(context.Background(), func(context.Context) (int, error) {
				calls++
				return tt.res, tt.err
			})
			if calls != 1 || sleep.count() != 0 {
				t.Fatalf("calls = %d, sleeps = %d; want 1 and 0", calls, sleep.count())
			}
			if (err != nil) != tt.wantErr || res != tt.res {
				t.Errorf("Do() = %d, %v", res, err)
			}
		})
	}
}

func TestDo_InterruptedSleepReturnsLastResult(t *testing.T) {
	sleep := &recordingSleep{failAt: 2}
	d := newTestDelivery(t, DefaultPolicy(), sleep)

	calls := 0
	_, err := d.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d: %w", calls, errTransient)
	})

	if calls != 2 {
		t.Fatalf("attempts = %d, want 2 (no attempt after the interrupted sleep)", calls)
	}
	if err == nil || err.Error() != "attempt 2: connection reset" {
		t.Errorf("Do() error = %v, want the second attempt's error", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Error("the interruption itself must not be surfaced as the failure")
	}
}

func TestDo_ContextCancelledDuringRealSleep(t *testing.T) {
	d, err := New[int](DefaultPolicy(), isRetryableStatus, isTransient, WithName(t.Name()), WithJitter(identity))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, _ := d.Do(ctx, func(context.Context) (int, error) {
		calls++
		return 503, nil
	})

	if calls != 1 || res != 503 {
		t.Fatalf("calls = %d, res = %d; want 1 and 503", calls, res)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took %v, the 1s backoff should have been interrupted", elapsed)
	}
}

func TestBackoffMagnitudeGrowsAndCaps(t *testing.T) {
	sleep := &recordingSleep{}
	p := DefaultPolicy()
	p.MaxAttempts = 7
	d := newTestDelivery(t, p, sleep, WithJitter(identity))

	d.Do(context.Background(), func(context.Context) (int, error) { return 503, nil })

	want := []time.Duration{
		time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5 * time.Second,
		5 * time.Second,
	}
	if !reflect.DeepEqual(sleep.sleeps, want) {
		t.Fatalf("sleeps = %v, want %v", sleep.sleeps, want)
	}
}

func TestJitterReceivesCappedMagnitude(t *testing.T) {
	sleep := &recordingSleep{}
	var ceilings []time.Duration
	jitter := func(c time.Duration) time.Duration {
		ceilings = append(ceilings, c)
		return c / 2
	}
	d := newTestDelivery(t, DefaultPolicy(), sleep, WithJitter(jitter))

	d.Do(context.Background(), func(context.Context) (int, error) { return 503, nil })

	for i, c := range ceilings {
		if sleep.sleeps[i] != c/2 {
			t.Errorf("sleep %d = %v, want the jittered %v", i, sleep.sleeps[i], c/2)
		}
	}
}

func TestFullJitterBounds(t *testing.T) {
	ceiling := 10 * time.Millisecond
	for i := 0; i < 1000; i++ {
		if d := fullJitter(ceiling); d < 0 || d > ceiling {
			t.Fatalf("fullJitter(%v) = %v, out of [0, %v]", ceiling, d, ceiling)
		}
	}
	if d := fullJitter(0); d != 0 {
		t.Fatalf("fullJitter(0) = %v, want 0", d)
	}
}

func TestMaxElapsedStopsRetrying(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		now = now.Add(d)
		return nil
	}

	p := DefaultPolicy()
	p.MaxElapsed = 2 * time.Second
	d, err := New[int](p, isRetryableStatus, isTransient,
		WithName(t.Name()), WithSleep(sleep), WithJitter(identity), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	calls := 0
	d.Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 503, nil
	})

	// 1s fits in the 2s bound; 1s + 1.5s does not.
	if calls != 2 || len(sleeps) != 1 {
		t.Fatalf("calls = %d, sleeps = %v; want 2 calls and one 1s sleep", calls, sleeps)
	}
}

func TestWrap_SucceedsOnFifthAttempt(t *testing.T) {
	sleep := &recordingSleep{}
	d := newTestDelivery(t, DefaultPolicy(), sleep)

	var mu sync.Mutex
	calls := 0
	inner := SenderFunc[int](func(ctx context.Context, body []byte, onResponse func(int), onError func(error)) {
		go func() {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 5 {
				onError(errTransient)
				return
			}
			onResponse(200)
		}()
	})

	done := make(chan int, 1)
	d.Wrap(inner).Send(context.Background(), []byte("payload"),
		func(res int) { done <- res },
		func(err error) { t.Errorf("unexpected error: %v", err); done <- -1 },
	)

	select {
	case res := <-done:
		if res != 200 {
			t.Fatalf("final response = %d, want 200", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wrapped send did not complete")
	}
	if n := sleep.count(); n != 4 {
		t.Errorf("sleeps = %d, want 4", n)
	}
}

func TestWrap_NeverSucceeds(t *testing.T) {
	sleep := &recordingSleep{}
	d := newTestDelivery(t, DefaultPolicy(), sleep)

	calls := 0
	var last error
	inner := SenderFunc[int](func(ctx context.Context, body []byte, onResponse func(int), onError func(error)) {
		calls++
		last = fmt.Errorf("attempt %d: %w", calls, errTransient)
		onError(last)
	})

	var responses int
	var got error
	d.Wrap(inner).Send(context.Background(), nil,
		func(int) { responses++ },
		func(err error) { got = err },
	)

	if got != last || responses != 0 {
		t.Fatalf("final error = %v (responses %d), want %v", got, responses, last)
	}
	if calls != 5 || sleep.count() != 4 {
		t.Errorf("calls = %d, sleeps = %d; want 5 and 4", calls, sleep.count())
	}
}

func TestWrap_RetryableResponseExhausted(t *testing.T) {
	sleep := &recordingSleep{}
	p := DefaultPolicy()
	p.MaxAttempts = 2
	d := newTestDelivery(t, p, sleep)

	inner := SenderFunc[int](func(ctx context.Context, body []byte, onResponse func(int), onError func(error)) {
		onResponse(503)
	})

	var got []int
	d.Wrap(inner).Send(context.Background(), nil,
		func(res int) { got = append(got, res) },
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)

	if !reflect.DeepEqual(got, []int{503}) {
		t.Fatalf("callbacks = %v, want a single final 503", got)
	}
	if sleep.count() != 1 {
		t.Errorf("sleeps = %d, want 1", sleep.count())
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("uninterrupted sleep returned %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepContext(ctx, time.Hour)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext on a cancelled ctx = %v", err)
	}
}
