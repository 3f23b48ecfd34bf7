package stream

import (
	"fmt"
	"time"
)

// Backoff computes reconnect delays: Base * 2^(attempt-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff retries after 1s, 2s, 4s, 8s and then every 15s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 15 * time.Second}
}

// Validate reports configuration errors.
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", b.Base)
	}
	if b.Max < b.Base {
		return fmt.Errorf("backoff max %s is below base %s", b.Max, b.Base)
	}
	return nil
}

// Delay returns the wait before reconnect attempt number attempt (1-based).
// Attempts below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d > b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
