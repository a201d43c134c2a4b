// Package tracing is a minimal tracer and logger on top of scoped contexts.
//
// The active span lives in the goroutine's scoped.Storage. Tracer.Start
// derives the parent from the current context and returns a Scope that
// makes the new span current; Span.End hands a record.Span to the sink,
// normally a batch processor. Logger.Emit stamps log records with the
// active span so they can be correlated downstream.
package tracing

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/scoped"
)

var spanKey = scoped.NewKey("span")

// SpanSink receives ended spans.
type SpanSink interface {
	OnEnd(record.Span)
}

// Option configures a Tracer or Logger.
type Option func(*settings)

type settings struct {
	version string
	sampler Sampler
	now     func() time.Time
}

// WithVersion sets the instrumentation scope version.
func WithVersion(v string) Option {
	return func(s *settings) { s.version = v }
}

// WithSampler sets the root sampler. Tracers default to AlwaysSample.
func WithSampler(sampler Sampler) Option {
	return func(s *settings) { s.sampler = sampler }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func newSettings(opts []Option) settings {
	s := settings{sampler: AlwaysSample(), now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Tracer starts spans for one instrumentation scope.
type Tracer struct {
	scope record.Scope
	sink  SpanSink
	settings
}

// NewTracer creates a tracer that delivers ended spans to sink.
func NewTracer(name string, sink SpanSink, opts ...Option) *Tracer {
	s := newSettings(opts)
	return &Tracer{scope: record.Scope{Name: name, Version: s.version}, sink: sink, settings: s}
}

// SpanOption configures a span at start.
type SpanOption func(*record.Span)

// WithKind sets the span kind.
func WithKind(kind trace.SpanKind) SpanOption {
	return func(r *record.Span) { r.Kind = kind }
}

// WithAttributes sets initial attributes.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(r *record.Span) { r.Attributes = append(r.Attributes, attrs...) }
}

// Start begins a span as a child of the span current in s, or as a new
// root, and makes it current. Close the returned scope on the same
// goroutine once the span's work is done.
func (t *Tracer) Start(s *scoped.Storage, name string, opts ...SpanOption) (*Span, scoped.Scope) {
	current := s.Current()
	var parent trace.SpanContext
	if p := SpanFrom(current); p != nil {
		parent = p.SpanContext()
	}

	cfg := trace.SpanContextConfig{SpanID: newSpanID()}
	if parent.IsValid() {
		cfg.TraceID = parent.TraceID()
		cfg.TraceFlags = parent.TraceFlags()
	} else {
		cfg.TraceID = newTraceID()
		if t.sampler.ShouldSample(cfg.TraceID) {
			cfg.TraceFlags = trace.FlagsSampled
		}
	}

	span := &Span{
		tracer: t,
		rec: record.Span{
			Name:        name,
			SpanContext: trace.NewSpanContext(cfg),
			Parent:      parent,
			Kind:        trace.SpanKindInternal,
			Start:       t.now(),
			Scope:       t.scope,
		},
	}
	for _, opt := range opts {
		opt(&span.rec)
	}
	return span, current.With(spanKey, span).MakeCurrent(s)
}

// SpanFrom returns the span bound in c, or nil.
func SpanFrom(c *scoped.Context) *Span {
	span, _ := c.Get(spanKey).(*Span)
	return span
}

// Current returns the span current in s, or nil.
func Current(s *scoped.Storage) *Span {
	return SpanFrom(s.Current())
}

// Span is an in-progress span. Its methods are safe for concurrent use and
// have no effect after End.
type Span struct {
	tracer *Tracer

	mu    sync.Mutex
	ended bool
	rec   record.Span
}

// SpanContext returns the span's identity.
func (s *Span) SpanContext() trace.SpanContext {
	return s.rec.SpanContext
}

// IsRecording reports whether the span has not ended yet.
func (s *Span) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// SetAttributes adds or appends attributes.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.rec.Attributes = append(s.rec.Attributes, attrs...)
	}
}

// AddEvent records a named event at the current time.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	now := s.tracer.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.rec.Events = append(s.rec.Events, record.Event{Name: name, Time: now, Attributes: attrs})
	}
}

// SetStatus sets the span status. A description is only kept for Error.
func (s *Span) SetStatus(code codes.Code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if code != codes.Error {
		description = ""
	}
	s.rec.Status = record.Status{Code: code, Description: description}
}

// RecordError adds an exception event and marks the span failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.AddEvent("exception", attribute.String("exception.message", err.Error()))
	s.SetStatus(codes.Error, err.Error())
}

// End finishes the span and hands it to the tracer's sink. Only the first
// call has an effect.
func (s *Span) End() {
	now := s.tracer.now()
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.rec.End = now
	rec := s.rec
	s.mu.Unlock()

	s.tracer.sink.OnEnd(rec)
}
