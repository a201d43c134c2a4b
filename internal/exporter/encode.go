package exporter

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/szibis/telemetry-shipper/internal/record"
)

// Encoder turns a batch into an OTLP request body.
type Encoder[T any] func(res record.Resource, batch []T) ([]byte, error)

// EncodeSpans builds an ExportTraceServiceRequest with one ScopeSpans per
// instrumentation scope, in first-seen order.
func EncodeSpans(res record.Resource, batch []record.Span) ([]byte, error) {
	var scopes []*tracepb.ScopeSpans
	index := make(map[record.Scope]*tracepb.ScopeSpans)

	for i := range batch {
		s := &batch[i]
		ss, ok := index[s.Scope]
		if !ok {
			ss = &tracepb.ScopeSpans{Scope: scopeProto(s.Scope)}
			index[s.Scope] = ss
			scopes = append(scopes, ss)
		}
		ss.Spans = append(ss.Spans, spanProto(s))
	}

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource:   resourceProto(res),
			ScopeSpans: scopes,
		}},
	}
	body, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace request: %w", err)
	}
	return body, nil
}

// EncodeLogs builds an ExportLogsServiceRequest with one ScopeLogs per
// instrumentation scope, in first-seen order.
func EncodeLogs(res record.Resource, batch []record.LogRecord) ([]byte, error) {
	var scopes []*logspb.ScopeLogs
	index := make(map[record.Scope]*logspb.ScopeLogs)

	for i := range batch {
		r := &batch[i]
		sl, ok := index[r.Scope]
		if !ok {
			sl = &logspb.ScopeLogs{Scope: scopeProto(r.Scope)}
			index[r.Scope] = sl
			scopes = append(scopes, sl)
		}
		sl.LogRecords = append(sl.LogRecords, logProto(r))
	}

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource:  resourceProto(res),
			ScopeLogs: scopes,
		}},
	}
	body, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logs request: %w", err)
	}
	return body, nil
}

func spanProto(s *record.Span) *tracepb.Span {
	out := &tracepb.Span{
		TraceId:           traceID(s.SpanContext),
		SpanId:            spanID(s.SpanContext),
		Flags:             uint32(s.SpanContext.TraceFlags()),
		Name:              s.Name,
		Kind:              tracepb.Span_SpanKind(s.Kind),
		StartTimeUnixNano: uint64(s.Start.UnixNano()),
		EndTimeUnixNano:   uint64(s.End.UnixNano()),
		Attributes:        attributesProto(s.Attributes),
		Status:            statusProto(s.Status),
	}
	if s.Parent.IsValid() {
		out.ParentSpanId = spanID(s.Parent)
	}
	for _, e := range s.Events {
		out.Events = append(out.Events, &tracepb.Span_Event{
			TimeUnixNano: uint64(e.Time.UnixNano()),
			Name:         e.Name,
			Attributes:   attributesProto(e.Attributes),
		})
	}
	return out
}

func logProto(r *record.LogRecord) *logspb.LogRecord {
	out := &logspb.LogRecord{
		TimeUnixNano:         uint64(r.Time.UnixNano()),
		ObservedTimeUnixNano: uint64(r.Observed.UnixNano()),
		SeverityNumber:       logspb.SeverityNumber(r.Severity),
		SeverityText:         r.SeverityText,
		Body:                 &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: r.Body}},
		Attributes:           attributesProto(r.Attributes),
	}
	if r.SpanContext.IsValid() {
		out.TraceId = traceID(r.SpanContext)
		out.SpanId = spanID(r.SpanContext)
		out.Flags = uint32(r.SpanContext.TraceFlags())
	}
	return out
}

func statusProto(s record.Status) *tracepb.Status {
	out := &tracepb.Status{}
	switch s.Code {
	case codes.Ok:
		out.Code = tracepb.Status_STATUS_CODE_OK
	case codes.Error:
		out.Code = tracepb.Status_STATUS_CODE_ERROR
		out.Message = s.Description
	}
	return out
}

func resourceProto(res record.Resource) *resourcepb.Resource {
	attrs := attributesProto(res.Attributes)
	if res.ServiceName != "" {
		attrs = append([]*commonpb.KeyValue{{
			Key:   "service.name",
			Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: res.ServiceName}},
		}}, attrs...)
	}
	return &resourcepb.Resource{Attributes: attrs}
}

func scopeProto(s record.Scope) *commonpb.InstrumentationScope {
	return &commonpb.InstrumentationScope{Name: s.Name, Version: s.Version}
}

func attributesProto(attrs []attribute.KeyValue) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		out = append(out, &commonpb.KeyValue{Key: string(kv.Key), Value: valueProto(kv.Value)})
	}
	return out
}

func valueProto(v attribute.Value) *commonpb.AnyValue {
	switch v.Type() {
	case attribute.BOOL:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: v.AsBool()}}
	case attribute.INT64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: v.AsInt64()}}
	case attribute.FLOAT64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: v.AsFloat64()}}
	case attribute.STRING:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.AsString()}}
	case attribute.BOOLSLICE:
		return arrayProto(v.AsBoolSlice(), func(b bool) *commonpb.AnyValue {
			return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: b}}
		})
	case attribute.INT64SLICE:
		return arrayProto(v.AsInt64Slice(), func(i int64) *commonpb.AnyValue {
			return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: i}}
		})
	case attribute.FLOAT64SLICE:
		return arrayProto(v.AsFloat64Slice(), func(f float64) *commonpb.AnyValue {
			return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: f}}
		})
	case attribute.STRINGSLICE:
		return arrayProto(v.AsStringSlice(), func(s string) *commonpb.AnyValue {
			return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
		})
	}
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.Emit()}}
}

func arrayProto[E any](in []E, conv func(E) *commonpb.AnyValue) *commonpb.AnyValue {
	values := make([]*commonpb.AnyValue, len(in))
	for i, e := range in {
		values[i] = conv(e)
	}
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: values}}}
}

func traceID(sc trace.SpanContext) []byte {
	id := sc.TraceID()
	return id[:]
}

func spanID(sc trace.SpanContext) []byte {
	id := sc.SpanID()
	return id[:]
}
