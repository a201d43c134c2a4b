package batch

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLeakCheck_Processor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond
	exp := &fakeExporter{}
	p, err := New[int](exp, cfg, WithName[int](t.Name()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for i := 0; i < 10; i++ {
		p.OnEnd(i)
	}
	if !p.ForceFlush().Join(time.Second).IsSuccess() {
		t.Fatal("flush failed")
	}
	if !p.Shutdown().Join(time.Second).IsSuccess() {
		t.Fatal("shutdown failed")
	}
	time.Sleep(20 * time.Millisecond)

	if s := p.Stats(); s.ExportedRecords != 10 {
		t.Errorf("exported %d records, want 10", s.ExportedRecords)
	}
}
