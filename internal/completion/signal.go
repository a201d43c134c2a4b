// Package completion provides Signal, a one-shot success/failure flag used to
// observe and combine the outcome of asynchronous export operations without
// blocking goroutines.
package completion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrFailed is reported by Err when a signal failed without a specific cause.
var ErrFailed = errors.New("completion: operation failed")

type state uint8

const (
	statePending state = iota
	stateSucceeded
	stateFailed
)

// Signal is a thread-safe, one-way completion flag. It starts pending and
// moves at most once to succeeded or failed; later transitions are ignored.
// The zero value is not usable; create signals with New.
type Signal struct {
	mu        sync.Mutex
	state     state
	err       error
	callbacks []func()
	done      chan struct{}
}

// New returns a pending signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Succeeded returns a signal that has already succeeded.
func Succeeded() *Signal {
	return New().Succeed()
}

// Failed returns a signal that has already failed with err.
// A nil err is reported as ErrFailed.
func Failed(err error) *Signal {
	return New().FailWithError(err)
}

// Succeed completes the signal successfully unless it is already terminal.
func (s *Signal) Succeed() *Signal {
	s.complete(stateSucceeded, nil)
	return s
}

// Fail completes the signal as failed unless it is already terminal.
func (s *Signal) Fail() *Signal {
	s.complete(stateFailed, nil)
	return s
}

// FailWithError completes the signal as failed, recording err as the cause.
func (s *Signal) FailWithError(err error) *Signal {
	s.complete(stateFailed, err)
	return s
}

func (s *Signal) complete(to state, err error) {
	s.mu.Lock()
	if s.state != statePending {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.err = err
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// WhenComplete registers fn to run once the signal is terminal. fn runs on
// the goroutine that completes the signal, or immediately on the calling
// goroutine if the signal is already terminal. Returns s for chaining.
func (s *Signal) WhenComplete(fn func()) *Signal {
	s.mu.Lock()
	if s.state == statePending {
		s.callbacks = append(s.callbacks, fn)
		s.mu.Unlock()
		return s
	}
	s.mu.Unlock()
	fn()
	return s
}

// IsDone reports whether the signal is terminal.
func (s *Signal) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != statePending
}

// IsSuccess reports whether the signal succeeded. A pending signal is not
// successful.
func (s *Signal) IsSuccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateSucceeded
}

// Err returns nil for pending and succeeded signals, the recorded cause for
// failed ones, or ErrFailed when no cause was given.
func (s *Signal) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateFailed {
		return nil
	}
	if s.err == nil {
		return ErrFailed
	}
	return s.err
}

// Done returns a channel that is closed when the signal becomes terminal.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Join waits up to timeout for the signal to become terminal and returns s.
// A non-positive timeout does not wait.
// A timeout does not change the signal's state; callers check IsDone or
// IsSuccess afterwards.
func (s *Signal) Join(timeout time.Duration) *Signal {
	if timeout <= 0 {
		return s
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
	}
	return s
}

// Wait blocks until the signal is terminal or ctx is done. It returns the
// context error in the latter case, otherwise Err().
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OfAll returns a signal that becomes terminal once every input is terminal.
// It succeeds only if all inputs succeeded. An empty input succeeds at once.
func OfAll(signals ...*Signal) *Signal {
	out := New()
	if len(signals) == 0 {
		return out.Succeed()
	}

	var (
		pending atomic.Int64
		failed  atomic.Bool
		errMu   sync.Mutex
		errs    []error
	)
	pending.Store(int64(len(signals)))

	for _, sig := range signals {
		sig.WhenComplete(func() {
			if !sig.IsSuccess() {
				failed.Store(true)
				errMu.Lock()
				errs = append(errs, sig.Err())
				errMu.Unlock()
			}
			if pending.Add(-1) != 0 {
				return
			}
			if failed.Load() {
				errMu.Lock()
				err := errors.Join(errs...)
				errMu.Unlock()
				out.FailWithError(err)
				return
			}
			out.Succeed()
		})
	}
	return out
}
