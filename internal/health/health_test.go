package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProcessor struct {
	name    string
	running atomic.Bool
}

func (p *fakeProcessor) Name() string  { return p.name }
func (p *fakeProcessor) Running() bool { return p.running.Load() }

func serve(t *testing.T, h http.HandlerFunc, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %s", ct)
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return rec.Code, resp
}

func TestLiveHandler(t *testing.T) {
	c := New()
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	code, resp := serve(t, c.LiveHandler(), "/live")
	if code != http.StatusOK || resp.Status != StatusUp {
		t.Fatalf("live = %d %s, want 200 up", code, resp.Status)
	}
	if resp.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %s", resp.Timestamp)
	}

	c.SetShuttingDown()
	code, resp = serve(t, c.LiveHandler(), "/live")
	if code != http.StatusServiceUnavailable || resp.Status != StatusDown {
		t.Fatalf("live while shutting down = %d %s, want 503 down", code, resp.Status)
	}
	if resp.Components["process"].Message != "shutting down" {
		t.Errorf("unexpected components: %+v", resp.Components)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]CheckFunc
		wantCode int
		wantDown string
	}{
		{"no checks", nil, http.StatusOK, ""},
		{
			"all healthy",
			map[string]CheckFunc{"a": func() error { return nil }, "b": func() error { return nil }},
			http.StatusOK, "",
		},
		{
			"one down",
			map[string]CheckFunc{
				"a":        func() error { return nil },
				"exporter": func() error { return errors.New("connection refused") },
			},
			http.StatusServiceUnavailable, "exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for name, check := range tt.checks {
				c.RegisterReadiness(name, check)
			}
			code, resp := serve(t, c.ReadyHandler(), "/ready")
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d", code, tt.wantCode)
			}
			if len(resp.Components) != len(tt.checks) {
				t.Errorf("components = %d, want %d", len(resp.Components), len(tt.checks))
			}
			if tt.wantDown != "" {
				comp := resp.Components[tt.wantDown]
				if comp.Status != StatusDown || comp.Message != "connection refused" {
					t.Errorf("%s = %+v", tt.wantDown, comp)
				}
			}
		})
	}
}

func TestReadyHandler_ShuttingDown(t *testing.T) {
	c := New()
	c.RegisterReadiness("a", func() error { return nil })
	c.SetShuttingDown()

	if code, _ := serve(t, c.ReadyHandler(), "/ready"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestRegisterProcessor(t *testing.T) {
	c := New()
	p := &fakeProcessor{name: "spans"}
	p.running.Store(true)
	c.RegisterProcessor(p)

	if resp := c.Ready(); resp.Status != StatusUp {
		t.Fatalf("running processor should be ready: %+v", resp)
	}
	p.running.Store(false)
	resp := c.Ready()
	if resp.Status != StatusDown || resp.Components["processor_spans"].Message != ErrStopped.Error() {
		t.Errorf("stopped processor should fail readiness: %+v", resp)
	}
}

func TestRegisterCircuit(t *testing.T) {
	c := New()
	var open atomic.Bool
	c.RegisterCircuit("traces", open.Load)

	if c.Ready().Status != StatusUp {
		t.Fatal("closed circuit should be ready")
	}
	open.Store(true)
	if comp := c.Ready().Components["exporter_traces"]; comp.Status != StatusDown {
		t.Errorf("open circuit should fail readiness: %+v", comp)
	}
}

func TestComponentsSorted(t *testing.T) {
	c := New()
	c.RegisterReadiness("b", func() error { return nil })
	c.RegisterReadiness("a", func() error { return nil })
	c.RegisterReadiness("b", func() error { return nil })

	got := c.Components()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Components() = %v, want [a b]", got)
	}
}
