package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/scoped"
)

// LogSink receives emitted log records.
type LogSink interface {
	OnEnd(record.LogRecord)
}

// Logger emits log records for one instrumentation scope.
type Logger struct {
	scope record.Scope
	sink  LogSink
	settings
}

// NewLogger creates a logger that delivers records to sink. WithSampler is
// ignored; log records follow the sampling decision of their span.
func NewLogger(name string, sink LogSink, opts ...Option) *Logger {
	s := newSettings(opts)
	return &Logger{scope: record.Scope{Name: name, Version: s.version}, sink: sink, settings: s}
}

// Emit records body at severity, correlated with the span current in s.
func (l *Logger) Emit(s *scoped.Storage, severity otellog.Severity, body string, attrs ...attribute.KeyValue) {
	now := l.now()
	rec := record.LogRecord{
		Time:         now,
		Observed:     now,
		Severity:     severity,
		SeverityText: severity.String(),
		Body:         body,
		Attributes:   attrs,
		Scope:        l.scope,
	}
	if span := Current(s); span != nil {
		rec.SpanContext = span.SpanContext()
	}
	l.sink.OnEnd(rec)
}
