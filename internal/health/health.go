// Package health serves liveness and readiness probes for the shipper.
package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil if the component is healthy, or an error describing the issue.
type CheckFunc func() error

// Runner is implemented by batch processors.
type Runner interface {
	Name() string
	Running() bool
}

var (
	// ErrStopped is reported for a processor that no longer accepts records.
	ErrStopped = errors.New("not running")
	// ErrCircuitOpen is reported while an exporter fails fast.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Checker provides liveness and readiness probes. Components register
// readiness checks; shutdown turns both probes down.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	shuttingDown    atomic.Bool
	now             func() time.Time
}

// New creates a new health Checker.
func New() *Checker {
	return &Checker{
		readinessChecks: make(map[string]CheckFunc),
		now:             time.Now,
	}
}

// RegisterReadiness registers a named readiness check, replacing any check
// with the same name. The check runs on each /ready request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
}

// RegisterProcessor makes readiness depend on p still running.
func (c *Checker) RegisterProcessor(p Runner) {
	c.RegisterReadiness("processor_"+p.Name(), func() error {
		if !p.Running() {
			return ErrStopped
		}
		return nil
	})
}

// RegisterCircuit makes readiness fail while isOpen reports an open
// circuit breaker for the named exporter.
func (c *Checker) RegisterCircuit(name string, isOpen func() bool) {
	c.RegisterReadiness("exporter_"+name, func() error {
		if isOpen() {
			return ErrCircuitOpen
		}
		return nil
	})
}

// Components returns the registered check names in order.
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.readinessChecks))
	for name := range c.readinessChecks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetShuttingDown marks the instance as shutting down.
// After this, both /live and /ready return 503.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// LiveHandler returns an http.HandlerFunc for the /live endpoint.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeShuttingDown(w)
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: c.timestamp()})
	}
}

// ReadyHandler returns an http.HandlerFunc for the /ready endpoint.
// Readiness runs all registered checks; if any fail, the response is 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeShuttingDown(w)
			return
		}

		resp := c.Ready()
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// Ready runs every readiness check.
func (c *Checker) Ready() Response {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.readinessChecks))
	for k, v := range c.readinessChecks {
		checks[k] = v
	}
	c.mu.RUnlock()

	resp := Response{Status: StatusUp, Components: make(map[string]ComponentCheck, len(checks)), Timestamp: c.timestamp()}
	for name, check := range checks {
		if err := check(); err != nil {
			resp.Status = StatusDown
			resp.Components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
			continue
		}
		resp.Components[name] = ComponentCheck{Status: StatusUp}
	}
	return resp
}

func (c *Checker) writeShuttingDown(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, Response{
		Status:    StatusDown,
		Timestamp: c.timestamp(),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	})
}

func (c *Checker) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
