package retry

import (
	"fmt"
	"time"
)

// Policy bounds how often and how far apart a send is retried.
type Policy struct {
	// MaxAttempts is the total number of sends, the first one included.
	MaxAttempts int
	// InitialBackoff is the backoff magnitude before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff magnitude.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the magnitude after every attempt.
	BackoffMultiplier float64
	// MaxElapsed stops retrying once the next sleep would end more than
	// MaxElapsed after the first attempt started. Zero means no bound.
	MaxElapsed time.Duration
}

// DefaultPolicy returns 5 attempts with backoff growing 1.5x from 1s up to 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 1.5,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %s", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max backoff (%s) must not be below initial backoff (%s)", p.MaxBackoff, p.InitialBackoff)
	}
	if p.BackoffMultiplier <= 1.0 {
		return fmt.Errorf("backoff multiplier must be greater than 1.0, got %g", p.BackoffMultiplier)
	}
	if p.MaxElapsed < 0 {
		return fmt.Errorf("max elapsed must not be negative, got %s", p.MaxElapsed)
	}
	return nil
}
