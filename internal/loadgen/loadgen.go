// Package loadgen produces a synthetic request workload: every request is a
// server span with client-span children running on their own goroutines,
// plus log records correlated with whichever span is current.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/telemetry-shipper/internal/logging"
	"github.com/szibis/telemetry-shipper/internal/scoped"
	"github.com/szibis/telemetry-shipper/internal/tracing"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_shipper_loadgen_requests_total",
		Help: "Synthetic requests generated by outcome (ok, error)",
	}, []string{"outcome"})

	spansStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_shipper_loadgen_spans_total",
		Help: "Spans started by the load generator",
	})

	logsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_shipper_loadgen_logs_total",
		Help: "Log records emitted by the load generator",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(spansStarted)
	prometheus.MustRegister(logsEmitted)
}

var errInjected = errors.New("injected failure")

// Config shapes the workload.
type Config struct {
	// Workers is the number of concurrent request loops.
	Workers int
	// Interval is the pause between requests of one worker.
	Interval time.Duration
	// Requests bounds the requests per worker; zero runs until cancelled.
	Requests int
	// Fanout is the number of child calls per request, each on its own
	// goroutine.
	Fanout int
	// ErrorRate is the probability that a child call fails.
	ErrorRate float64
	// MaxLatency bounds the simulated work of a child call.
	MaxLatency time.Duration
	// Operations are the server span names to pick from.
	Operations []string
}

// DefaultConfig returns a light workload.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		Interval:   100 * time.Millisecond,
		Fanout:     3,
		ErrorRate:  0.05,
		MaxLatency: 5 * time.Millisecond,
		Operations: []string{"GET /api/orders", "POST /api/orders", "GET /api/users", "GET /api/inventory"},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", c.Interval)
	}
	if c.Requests < 0 {
		return fmt.Errorf("requests must not be negative, got %d", c.Requests)
	}
	if c.Fanout < 0 {
		return fmt.Errorf("fanout must not be negative, got %d", c.Fanout)
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return fmt.Errorf("error rate must be within [0, 1], got %g", c.ErrorRate)
	}
	if c.MaxLatency < 0 {
		return fmt.Errorf("max latency must not be negative, got %s", c.MaxLatency)
	}
	if len(c.Operations) == 0 {
		return errors.New("at least one operation is required")
	}
	return nil
}

// Stats counts what a Generator produced.
type Stats struct {
	Requests int64
	Failed   int64
	Spans    int64
	Logs     int64
}

// Generator drives a tracer and a logger with the configured workload.
type Generator struct {
	cfg    Config
	tracer *tracing.Tracer
	logger *tracing.Logger

	requests atomic.Int64
	failed   atomic.Int64
	spans    atomic.Int64
	logs     atomic.Int64
}

// New creates a Generator.
func New(cfg Config, tracer *tracing.Tracer, logger *tracing.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loadgen: %w", err)
	}
	return &Generator{cfg: cfg, tracer: tracer, logger: logger}, nil
}

// Stats returns a snapshot of the counters.
func (g *Generator) Stats() Stats {
	return Stats{
		Requests: g.requests.Load(),
		Failed:   g.failed.Load(),
		Spans:    g.spans.Load(),
		Logs:     g.logs.Load(),
	}
}

// Run starts the workers and blocks until every worker finished its
// requests or ctx is cancelled. Cancellation is not an error.
func (g *Generator) Run(ctx context.Context) error {
	logging.Info("load generator started", logging.F(
		"workers", g.cfg.Workers,
		"interval", g.cfg.Interval.String(),
		"requests_per_worker", g.cfg.Requests,
		"fanout", g.cfg.Fanout,
	))

	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < g.cfg.Workers; w++ {
		eg.Go(func() error {
			return g.worker(ctx, w)
		})
	}
	err := eg.Wait()

	st := g.Stats()
	logging.Info("load generator stopped", logging.F(
		"requests", st.Requests,
		"failed", st.Failed,
		"spans", st.Spans,
		"logs", st.Logs,
	))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (g *Generator) worker(ctx context.Context, id int) error {
	storage := scoped.NewStorage()
	for n := 0; g.cfg.Requests == 0 || n < g.cfg.Requests; n++ {
		if n > 0 {
			if err := sleep(ctx, g.cfg.Interval); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		g.request(ctx, storage, id)
	}
	return nil
}

// request runs one server span. Children run on separate goroutines with
// the request's context carried over explicitly.
func (g *Generator) request(ctx context.Context, s *scoped.Storage, worker int) {
	op := g.cfg.Operations[rand.IntN(len(g.cfg.Operations))]
	span, scope := g.tracer.Start(s, op,
		tracing.WithKind(trace.SpanKindServer),
		tracing.WithAttributes(attribute.Int("loadgen.worker", worker)),
	)
	defer scope.Close()
	g.spans.Add(1)
	spansStarted.Inc()
	g.emit(s, otellog.SeverityInfo, "request received", attribute.String("operation", op))

	var (
		failed atomic.Bool
		eg     errgroup.Group
	)
	current := s.Current()
	for i := 0; i < g.cfg.Fanout; i++ {
		call := current.Wrap(func(cs *scoped.Storage) {
			if err := g.call(ctx, cs, i); err != nil {
				failed.Store(true)
			}
		})
		eg.Go(func() error {
			call(scoped.NewStorage())
			return nil
		})
	}
	_ = eg.Wait()

	g.requests.Add(1)
	if failed.Load() {
		g.failed.Add(1)
		requestsTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, "downstream call failed")
		g.emit(s, otellog.SeverityWarn, "request failed", attribute.String("operation", op))
	} else {
		requestsTotal.WithLabelValues("ok").Inc()
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (g *Generator) call(ctx context.Context, s *scoped.Storage, n int) error {
	span, scope := g.tracer.Start(s, fmt.Sprintf("backend.call-%d", n),
		tracing.WithKind(trace.SpanKindClient),
		tracing.WithAttributes(attribute.String("peer.service", fmt.Sprintf("backend-%d", n))),
	)
	defer scope.Close()
	defer span.End()
	g.spans.Add(1)
	spansStarted.Inc()

	if g.cfg.MaxLatency > 0 {
		if err := sleep(ctx, rand.N(g.cfg.MaxLatency)); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if rand.Float64() < g.cfg.ErrorRate {
		span.RecordError(errInjected)
		g.emit(s, otellog.SeverityError, "backend call failed", attribute.String("error", errInjected.Error()))
		return errInjected
	}
	g.emit(s, otellog.SeverityDebug, "backend call done")
	return nil
}

func (g *Generator) emit(s *scoped.Storage, severity otellog.Severity, body string, attrs ...attribute.KeyValue) {
	if g.logger == nil {
		return
	}
	g.logger.Emit(s, severity, body, attrs...)
	g.logs.Add(1)
	logsEmitted.Inc()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
