// Package exporter adapts a batch processor to an OTLP collector: it
// encodes each batch, pushes the bytes through a retrying sender, and
// reports the outcome as a completion signal.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/telemetry-shipper/internal/completion"
	"github.com/szibis/telemetry-shipper/internal/logging"
	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/retry"
	"github.com/szibis/telemetry-shipper/internal/sender"
)

var (
	exportedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_exporter_records_total",
		Help: "Records handed to the exporter by outcome (success, failed, rejected)",
	}, []string{"exporter", "outcome"})

	encodedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_exporter_encoded_bytes_total",
		Help: "Uncompressed OTLP request bytes produced by the encoder",
	}, []string{"exporter"})

	circuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemetry_shipper_exporter_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"exporter"})

	circuitOpenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_exporter_circuit_open_total",
		Help: "Times the circuit breaker opened",
	}, []string{"exporter"})
)

func init() {
	prometheus.MustRegister(exportedRecords)
	prometheus.MustRegister(encodedBytes)
	prometheus.MustRegister(circuitState)
	prometheus.MustRegister(circuitOpenTotal)
}

var (
	// ErrShutdown is reported for exports after Shutdown.
	ErrShutdown = errors.New("exporter: shut down")
	// ErrCircuitOpen is reported while the circuit breaker rejects exports.
	ErrCircuitOpen = errors.New("exporter: circuit breaker open")
)

// BreakerConfig enables the circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// Config describes one exporter.
type Config struct {
	Name     string
	Resource record.Resource
	Retry    retry.Policy
	Breaker  BreakerConfig
}

// Exporter implements batch.Exporter[T] over a sender.Sender.
type Exporter[T any] struct {
	name     string
	resource record.Resource
	encode   Encoder[T]
	sender   sender.Sender
	delivery retry.Sender[*sender.Response]
	breaker  *CircuitBreaker

	// base is cancelled by Shutdown to interrupt retry sleeps.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown *completion.Signal
}

// New wraps snd in a retrying delivery built from cfg.Retry. The exporter
// owns snd and closes it on Shutdown.
func New[T any](cfg Config, encode Encoder[T], snd sender.Sender) (*Exporter[T], error) {
	if cfg.Name == "" {
		cfg.Name = "otlp"
	}
	d, err := retry.New[*sender.Response](cfg.Retry, snd.IsRetryable, sender.IsRetryableError, retry.WithName(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("exporter %s: %w", cfg.Name, err)
	}

	e := &Exporter[T]{
		name:     cfg.Name,
		resource: cfg.Resource,
		encode:   encode,
		sender:   snd,
		delivery: d.Wrap(snd),
	}
	if cfg.Breaker.Enabled {
		if cfg.Breaker.FailureThreshold <= 0 || cfg.Breaker.ResetTimeout <= 0 {
			return nil, fmt.Errorf("exporter %s: circuit breaker needs a positive threshold and reset timeout", cfg.Name)
		}
		e.breaker = NewCircuitBreaker(cfg.Name, cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout)
	}
	e.base, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// NewSpans builds a span exporter.
func NewSpans(cfg Config, snd sender.Sender) (*Exporter[record.Span], error) {
	return New(cfg, EncodeSpans, snd)
}

// NewLogs builds a log record exporter.
func NewLogs(cfg Config, snd sender.Sender) (*Exporter[record.LogRecord], error) {
	return New(cfg, EncodeLogs, snd)
}

// Breaker returns the circuit breaker, or nil when disabled.
func (e *Exporter[T]) Breaker() *CircuitBreaker { return e.breaker }

// Export encodes batch and delivers it. The returned signal resolves when
// the final retry outcome is known or ctx is cancelled.
func (e *Exporter[T]) Export(ctx context.Context, batch []T) *completion.Signal {
	if e.isShutdown() {
		return completion.Failed(ErrShutdown)
	}
	if e.breaker != nil && !e.breaker.AllowRequest() {
		exportedRecords.WithLabelValues(e.name, "rejected").Add(float64(len(batch)))
		return completion.Failed(ErrCircuitOpen)
	}

	body, err := e.encode(e.resource, batch)
	if err != nil {
		exportedRecords.WithLabelValues(e.name, "failed").Add(float64(len(batch)))
		return completion.Failed(err)
	}
	encodedBytes.WithLabelValues(e.name).Add(float64(len(body)))

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.base, cancel)

	sig := completion.New()
	n := len(batch)
	e.delivery.Send(ctx, body,
		func(resp *sender.Response) {
			stop()
			cancel()
			e.finish(sig, n, resp.Err())
		},
		func(err error) {
			stop()
			cancel()
			e.finish(sig, n, err)
		},
	)
	return sig
}

func (e *Exporter[T]) finish(sig *completion.Signal, n int, err error) {
	if err == nil {
		if e.breaker != nil {
			e.breaker.RecordSuccess()
		}
		exportedRecords.WithLabelValues(e.name, "success").Add(float64(n))
		sig.Succeed()
		return
	}

	if e.breaker != nil {
		e.breaker.RecordFailure()
	}
	exportedRecords.WithLabelValues(e.name, "failed").Add(float64(n))
	logging.Warn("export failed", logging.F(
		"exporter", e.name,
		"records", n,
		"error", err.Error(),
	))
	sig.FailWithError(err)
}

func (e *Exporter[T]) isShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown != nil
}

// Shutdown interrupts pending retries and closes the sender once in-flight
// sends finish. It is idempotent. The returned signal is unbounded; callers
// bound their wait on it.
func (e *Exporter[T]) Shutdown(_ context.Context) *completion.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown != nil {
		return e.shutdown
	}
	e.shutdown = completion.New()
	e.cancel()

	sig := e.shutdown
	go func() {
		if err := e.sender.Close(); err != nil {
			sig.FailWithError(fmt.Errorf("exporter %s: close sender: %w", e.name, err))
			return
		}
		sig.Succeed()
	}()
	return sig
}
