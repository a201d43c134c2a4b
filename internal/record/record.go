// Package record holds the finished telemetry records that flow through the
// batch processors: spans and log records, plus the resource describing
// the producing process.
package record

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"
)

// Resource identifies the process emitting records.
type Resource struct {
	ServiceName string
	Attributes  []attribute.KeyValue
}

// Scope identifies the instrumentation that produced a record.
type Scope struct {
	Name    string
	Version string
}

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string
	Time       time.Time
	Attributes []attribute.KeyValue
}

// Status is the outcome of a span's operation.
type Status struct {
	Code        codes.Code
	Description string
}

// Span is an ended span. It is immutable once handed to a processor.
type Span struct {
	Name        string
	SpanContext trace.SpanContext
	Parent      trace.SpanContext
	Kind        trace.SpanKind
	Start       time.Time
	End         time.Time
	Attributes  []attribute.KeyValue
	Events      []Event
	Status      Status
	Scope       Scope
}

// Sampled reports whether the span should be exported.
func (s Span) Sampled() bool {
	return s.SpanContext.IsSampled()
}

// Duration is End minus Start.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// LogRecord is an emitted log entry, optionally correlated with a span.
type LogRecord struct {
	Time         time.Time
	Observed     time.Time
	Severity     otellog.Severity
	SeverityText string
	Body         string
	Attributes   []attribute.KeyValue
	// SpanContext is the active span when the record was emitted, or the
	// zero value.
	SpanContext trace.SpanContext
	Scope       Scope
}

// Sampled reports whether the log record should be exported. Records
// without a span are always kept; correlated records follow the span's
// sampling decision.
func (r LogRecord) Sampled() bool {
	if !r.SpanContext.IsValid() {
		return true
	}
	return r.SpanContext.IsSampled()
}
