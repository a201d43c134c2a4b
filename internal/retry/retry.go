// Package retry implements transport-agnostic retrying with capped
// exponential backoff and full jitter.
//
// A Delivery knows nothing about encodings or transports. It repeats a send
// while the outcome is retryable, sleeping a uniformly random duration in
// [0, min(magnitude, MaxBackoff)] between attempts, and returns the last
// outcome once attempts run out, the elapsed bound is reached, or the
// context ends during a sleep.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/telemetry-shipper/internal/logging"
)

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_retry_attempts_total",
		Help: "Total send attempts made through retrying deliveries",
	}, []string{"delivery"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_retry_retries_total",
		Help: "Total send attempts beyond the first",
	}, []string{"delivery"})

	givenUpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_retry_given_up_total",
		Help: "Deliveries that stopped retrying a retryable outcome, by reason (exhausted, elapsed, interrupted)",
	}, []string{"delivery", "reason"})

	backoffSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemetry_shipper_retry_backoff_seconds",
		Help:    "Jittered sleep before a retry",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"delivery"})
)

func init() {
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(retriesTotal)
	prometheus.MustRegister(givenUpTotal)
	prometheus.MustRegister(backoffSeconds)
}

// Sender performs one asynchronous send. Exactly one of onResponse or
// onError is called per Send, on any goroutine.
type Sender[R any] interface {
	Send(ctx context.Context, body []byte, onResponse func(R), onError func(error))
}

// SenderFunc adapts a function to Sender.
type SenderFunc[R any] func(ctx context.Context, body []byte, onResponse func(R), onError func(error))

// Send implements Sender.
func (f SenderFunc[R]) Send(ctx context.Context, body []byte, onResponse func(R), onError func(error)) {
	f(ctx, body, onResponse, onError)
}

// Option configures a Delivery.
type Option func(*settings)

type settings struct {
	name   string
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(ceiling time.Duration) time.Duration
	now    func() time.Time
}

// WithName sets the label used in metrics.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithSleep replaces the interruptible sleep between attempts. The function
// returns a non-nil error when the sleep was interrupted.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) { s.sleep = sleep }
}

// WithJitter replaces the full-jitter draw. It receives the capped backoff
// magnitude and returns the duration to sleep.
func WithJitter(jitter func(ceiling time.Duration) time.Duration) Option {
	return func(s *settings) { s.jitter = jitter }
}

// WithClock replaces time.Now for the elapsed bound.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Delivery retries sends of responses of type R according to a Policy.
type Delivery[R any] struct {
	policy         Policy
	isRetryable    func(R) bool
	isRetryableErr func(error) bool
	settings
}

// New creates a Delivery. isRetryable classifies responses and
// isRetryableErr classifies transport errors; a nil predicate treats every
// outcome of that kind as final.
func New[R any](policy Policy, isRetryable func(R) bool, isRetryableErr func(error) bool, opts ...Option) (*Delivery[R], error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("retry: invalid policy: %w", err)
	}
	d := &Delivery[R]{
		policy:         policy,
		isRetryable:    isRetryable,
		isRetryableErr: isRetryableErr,
		settings: settings{
			name:   "default",
			sleep:  sleepContext,
			jitter: fullJitter,
			now:    time.Now,
		},
	}
	for _, opt := range opts {
		opt(&d.settings)
	}
	return d, nil
}

// Policy returns the policy the delivery was built with.
func (d *Delivery[R]) Policy() Policy { return d.policy }

// Do calls attempt until its outcome is final and returns that outcome.
// When retrying stops early (attempts exhausted, elapsed bound, or ctx done
// during a sleep) the last outcome is returned as is.
func (d *Delivery[R]) Do(ctx context.Context, attempt func(ctx context.Context) (R, error)) (R, error) {
	st := d.newState()
	for {
		res, err := attempt(ctx)
		st.attempts++
		attemptsTotal.WithLabelValues(d.name).Inc()
		if !d.retryable(res, err) {
			return res, err
		}
		if !d.pause(ctx, st) {
			return res, err
		}
	}
}

// Wrap returns a Sender that retries next. The caller's callback receives
// the final outcome exactly once. Sleeps happen on the goroutine that
// delivered the retryable outcome.
func (d *Delivery[R]) Wrap(next Sender[R]) Sender[R] {
	return SenderFunc[R](func(ctx context.Context, body []byte, onResponse func(R), onError func(error)) {
		st := d.newState()
		var send func()
		send = func() {
			next.Send(ctx, body,
				func(res R) {
					st.attempts++
					attemptsTotal.WithLabelValues(d.name).Inc()
					if d.isRetryable == nil || !d.isRetryable(res) || !d.pause(ctx, st) {
						onResponse(res)
						return
					}
					send()
				},
				func(err error) {
					st.attempts++
					attemptsTotal.WithLabelValues(d.name).Inc()
					if d.isRetryableErr == nil || !d.isRetryableErr(err) || !d.pause(ctx, st) {
						onError(err)
						return
					}
					send()
				},
			)
		}
		send()
	})
}

func (d *Delivery[R]) retryable(res R, err error) bool {
	if err != nil {
		return d.isRetryableErr != nil && d.isRetryableErr(err)
	}
	return d.isRetryable != nil && d.isRetryable(res)
}

type state struct {
	attempts  int
	started   time.Time
	magnitude *backoff.ExponentialBackOff
}

func (d *Delivery[R]) newState() *state {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.policy.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          d.policy.BackoffMultiplier,
		MaxInterval:         d.policy.MaxBackoff,
	}
	b.Reset()
	return &state{started: d.now(), magnitude: b}
}

// pause sleeps before the next attempt. It reports false when retrying
// must stop.
func (d *Delivery[R]) pause(ctx context.Context, st *state) bool {
	if st.attempts >= d.policy.MaxAttempts {
		givenUpTotal.WithLabelValues(d.name, "exhausted").Inc()
		return false
	}

	delay := d.jitter(st.magnitude.NextBackOff())
	if d.policy.MaxElapsed > 0 && d.now().Sub(st.started)+delay > d.policy.MaxElapsed {
		givenUpTotal.WithLabelValues(d.name, "elapsed").Inc()
		return false
	}

	logging.Debug("retrying send", logging.F(
		"delivery", d.name,
		"attempt", st.attempts+1,
		"backoff", delay.String(),
	))
	backoffSeconds.WithLabelValues(d.name).Observe(delay.Seconds())
	if err := d.sleep(ctx, delay); err != nil {
		givenUpTotal.WithLabelValues(d.name, "interrupted").Inc()
		return false
	}
	retriesTotal.WithLabelValues(d.name).Inc()
	return true
}

// ErrInterrupted is returned by the default sleep when ctx ends first.
var ErrInterrupted = errors.New("retry: backoff interrupted")

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	case <-t.C:
		return nil
	}
}

// fullJitter draws uniformly from [0, ceiling].
func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
