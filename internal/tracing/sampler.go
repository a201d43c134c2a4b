package tracing

import (
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Sampler decides whether a new root trace is recorded. Child spans always
// inherit their parent's decision.
type Sampler interface {
	ShouldSample(id trace.TraceID) bool
	Description() string
}

// AlwaysSample records every trace.
func AlwaysSample() Sampler { return ratioSampler{bound: ^uint64(0) >> 1, fraction: 1} }

// NeverSample drops every trace.
func NeverSample() Sampler { return ratioSampler{bound: 0, fraction: 0} }

// TraceIDRatio samples the given fraction of traces, deciding on the low
// 63 bits of the trace ID so every process reaches the same decision for
// the same trace.
func TraceIDRatio(fraction float64) Sampler {
	switch {
	case fraction >= 1:
		return AlwaysSample()
	case fraction <= 0:
		return NeverSample()
	}
	return ratioSampler{bound: uint64(fraction * (1 << 63)), fraction: fraction}
}

type ratioSampler struct {
	bound    uint64
	fraction float64
}

func (s ratioSampler) ShouldSample(id trace.TraceID) bool {
	if s.fraction >= 1 {
		return true
	}
	return binary.BigEndian.Uint64(id[8:16])>>1 < s.bound
}

func (s ratioSampler) Description() string {
	return fmt.Sprintf("TraceIDRatio{%g}", s.fraction)
}
