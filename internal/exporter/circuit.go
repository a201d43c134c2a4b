package exporter

import (
	"sync/atomic"
	"time"

	"github.com/szibis/telemetry-shipper/internal/logging"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker fails exports fast after FailureThreshold consecutive
// failures. After ResetTimeout one probe export is let through; its outcome
// closes or reopens the circuit.
type CircuitBreaker struct {
	name             string
	state            atomic.Int32
	consecutiveFails atomic.Int32
	lastFailure      atomic.Int64 // unix nanos
	halfOpenProbe    atomic.Bool

	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
	cb.setState(CircuitClosed)
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// AllowRequest reports whether an export may proceed.
func (cb *CircuitBreaker) AllowRequest() bool {
	switch cb.State() {
	case CircuitOpen:
		if cb.now().UnixNano()-cb.lastFailure.Load() < int64(cb.resetTimeout) {
			return false
		}
		// Only one caller wins Open -> HalfOpen and becomes the probe.
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.halfOpenProbe.Store(true)
			cb.setState(CircuitHalfOpen)
			logging.Info("circuit breaker half-open", logging.F("exporter", cb.name))
			return true
		}
		return false
	case CircuitHalfOpen:
		return cb.halfOpenProbe.CompareAndSwap(false, true)
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutiveFails.Store(0)
	if cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitClosed)) {
		cb.halfOpenProbe.Store(false)
		cb.setState(CircuitClosed)
		logging.Info("circuit breaker closed", logging.F("exporter", cb.name))
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold or
// when the half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	fails := cb.consecutiveFails.Add(1)
	cb.lastFailure.Store(cb.now().UnixNano())

	if cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitOpen)) {
		cb.halfOpenProbe.Store(false)
		cb.opened(fails)
		return
	}
	if int(fails) >= cb.failureThreshold && cb.state.CompareAndSwap(int32(CircuitClosed), int32(CircuitOpen)) {
		cb.opened(fails)
	}
}

func (cb *CircuitBreaker) opened(fails int32) {
	cb.setState(CircuitOpen)
	circuitOpenTotal.WithLabelValues(cb.name).Inc()
	logging.Warn("circuit breaker opened", logging.F(
		"exporter", cb.name,
		"consecutive_failures", fails,
		"reset_timeout", cb.resetTimeout.String(),
	))
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state.Store(int32(s))
	circuitState.WithLabelValues(cb.name).Set(float64(s))
}
