package tracing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/szibis/telemetry-shipper/internal/record"
	"github.com/szibis/telemetry-shipper/internal/scoped"
)

type recordingSink[T any] struct {
	mu   sync.Mutex
	recs []T
}

func (r *recordingSink[T]) OnEnd(rec T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recordingSink[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.recs...)
}

func TestStart_RootAndChild(t *testing.T) {
	sink := &recordingSink[record.Span]{}
	tracer := NewTracer("checkout", sink, WithVersion("1.2.0"))
	s := scoped.NewStorage()

	root, rootScope := tracer.Start(s, "handle-request", WithKind(trace.SpanKindServer))
	if Current(s) != root {
		t.Fatal("root span should be current after Start")
	}

	child, childScope := tracer.Start(s, "query-db", WithAttributes(attribute.String("db.system", "postgres")))
	if Current(s) != child {
		t.Fatal("child span should be current after Start")
	}
	child.End()
	childScope.Close()

	if Current(s) != root {
		t.Fatal("closing the child scope should restore the root span")
	}
	root.End()
	rootScope.Close()

	if Current(s) != nil {
		t.Fatal("no span should be current after closing the root scope")
	}

	spans := sink.all()
	if len(spans) != 2 {
		t.Fatalf("sink received %d spans, want 2", len(spans))
	}
	gotChild, gotRoot := spans[0], spans[1]
	if gotRoot.Parent.IsValid() {
		t.Error("root span should have no parent")
	}
	if gotChild.Parent.SpanID() != gotRoot.SpanContext.SpanID() {
		t.Error("child's parent should be the root span")
	}
	if gotChild.SpanContext.TraceID() != gotRoot.SpanContext.TraceID() {
		t.Error("child should share the root's trace ID")
	}
	if gotChild.SpanContext.SpanID() == gotRoot.SpanContext.SpanID() {
		t.Error("child should have its own span ID")
	}
	if gotRoot.Kind != trace.SpanKindServer || gotChild.Kind != trace.SpanKindInternal {
		t.Errorf("kinds = %v, %v", gotRoot.Kind, gotChild.Kind)
	}
	if len(gotChild.Attributes) != 1 || gotChild.Attributes[0].Value.AsString() != "postgres" {
		t.Errorf("child attributes = %v", gotChild.Attributes)
	}
	if gotRoot.Scope != (record.Scope{Name: "checkout", Version: "1.2.0"}) {
		t.Errorf("scope = %+v", gotRoot.Scope)
	}
}

func TestStart_ChildInheritsSamplingDecision(t *testing.T) {
	sink := &recordingSink[record.Span]{}
	sampled := NewTracer("a", sink, WithSampler(AlwaysSample()))
	unsampledChildTracer := NewTracer("b", sink, WithSampler(NeverSample()))
	s := scoped.NewStorage()

	root, sc := sampled.Start(s, "root")
	child, csc := unsampledChildTracer.Start(s, "child")
	if !child.SpanContext().IsSampled() {
		t.Error("child must follow the sampled parent, not its own root sampler")
	}
	csc.Close()
	sc.Close()

	if !root.SpanContext().IsSampled() {
		t.Error("AlwaysSample root should be sampled")
	}
	orphan, osc := unsampledChildTracer.Start(s, "orphan")
	osc.Close()
	if orphan.SpanContext().IsSampled() {
		t.Error("NeverSample root should not be sampled")
	}
}

func TestStart_OtherGoroutineDoesNotSeeSpan(t *testing.T) {
	tracer := NewTracer("t", &recordingSink[record.Span]{})
	s := scoped.NewStorage()
	_, sc := tracer.Start(s, "parent")
	defer sc.Close()

	done := make(chan *Span)
	scoped.Go(func(other *scoped.Storage) {
		done <- Current(other)
	})
	if got := <-done; got != nil {
		t.Fatal("a fresh goroutine storage must not see the parent's span")
	}

	wrapped := make(chan *Span)
	go s.Current().Wrap(func(other *scoped.Storage) {
		wrapped <- Current(other)
	})(scoped.NewStorage())
	if got := <-wrapped; got == nil {
		t.Fatal("a wrapped task should see the captured span")
	}
}

func TestSpan_EndOnce(t *testing.T) {
	sink := &recordingSink[record.Span]{}
	now := time.Unix(1000, 0)
	tracer := NewTracer("t", sink, WithClock(func() time.Time { return now }))
	span, sc := tracer.Start(scoped.NewStorage(), "op")
	sc.Close()

	now = now.Add(250 * time.Millisecond)
	span.SetAttributes(attribute.Int("n", 1))
	span.RecordError(errors.New("disk full"))
	span.End()
	span.End()
	span.SetAttributes(attribute.Int("late", 2))

	spans := sink.all()
	if len(spans) != 1 {
		t.Fatalf("End delivered %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Duration() != 250*time.Millisecond {
		t.Errorf("Duration() = %v", got.Duration())
	}
	if len(got.Attributes) != 1 {
		t.Errorf("attributes after End must be ignored: %v", got.Attributes)
	}
	if got.Status.Code != codes.Error || got.Status.Description != "disk full" {
		t.Errorf("status = %+v", got.Status)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("events = %+v", got.Events)
	}
	if span.IsRecording() {
		t.Error("ended span should not be recording")
	}
}

func TestSpan_SetStatusDropsDescriptionUnlessError(t *testing.T) {
	sink := &recordingSink[record.Span]{}
	span, sc := NewTracer("t", sink).Start(scoped.NewStorage(), "op")
	sc.Close()
	span.SetStatus(codes.Ok, "fine")
	span.End()
	if st := sink.all()[0].Status; st.Code != codes.Ok || st.Description != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestTraceIDRatio(t *testing.T) {
	low := trace.TraceID{15: 1}
	high := trace.TraceID{8: 0xff, 15: 0xff}

	tests := []struct {
		name     string
		sampler  Sampler
		low      bool
		high     bool
		describe string
	}{
		{"always", TraceIDRatio(1), true, true, "TraceIDRatio{1}"},
		{"never", TraceIDRatio(0), false, false, "TraceIDRatio{0}"},
		{"half", TraceIDRatio(0.5), true, false, "TraceIDRatio{0.5}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sampler.ShouldSample(low); got != tt.low {
				t.Errorf("low trace id sampled = %v, want %v", got, tt.low)
			}
			if got := tt.sampler.ShouldSample(high); got != tt.high {
				t.Errorf("high trace id sampled = %v, want %v", got, tt.high)
			}
			if got := tt.sampler.Description(); got != tt.describe {
				t.Errorf("Description() = %q, want %q", got, tt.describe)
			}
		})
	}
}

func TestNewIDsAreValid(t *testing.T) {
	seen := make(map[trace.SpanID]bool)
	for i := 0; i < 1000; i++ {
		id := newSpanID()
		if !id.IsValid() || seen[id] {
			t.Fatalf("span id %v invalid or repeated", id)
		}
		seen[id] = true
	}
	if !newTraceID().IsValid() {
		t.Fatal("trace id must be valid")
	}
}

func TestLogger_EmitCorrelatesWithCurrentSpan(t *testing.T) {
	spans := &recordingSink[record.Span]{}
	logs := &recordingSink[record.LogRecord]{}
	tracer := NewTracer("svc", spans)
	logger := NewLogger("svc", logs)
	s := scoped.NewStorage()

	logger.Emit(s, otellog.SeverityInfo, "starting")

	span, sc := tracer.Start(s, "work")
	logger.Emit(s, otellog.SeverityWarn, "slow dependency", attribute.String("dep", "cache"))
	sc.Close()
	span.End()

	got := logs.all()
	if len(got) != 2 {
		t.Fatalf("got %d log records, want 2", len(got))
	}
	if got[0].SpanContext.IsValid() {
		t.Error("record emitted outside a span should be uncorrelated")
	}
	if got[1].SpanContext.SpanID() != span.SpanContext().SpanID() {
		t.Error("record should carry the active span's ID")
	}
	if got[1].Severity != otellog.SeverityWarn || got[1].SeverityText != "WARN" {
		t.Errorf("severity = %v %q", got[1].Severity, got[1].SeverityText)
	}
	if got[1].Body != "slow dependency" || len(got[1].Attributes) != 1 {
		t.Errorf("record = %+v", got[1])
	}
}
