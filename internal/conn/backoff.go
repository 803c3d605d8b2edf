package conn

import (
	"time"

	"github.com/cenkalti/backoff"
)

const (
	MaxAttempts     = 10
	InitialDelay    = time.Second
	MaxDelay        = 30 * time.Second
	delayMultiplier = 2
)

// DefaultBackoff yields min(1s * 2^(n-1), 30s) for n = 1..10 and then
// backoff.Stop. There is no jitter and no elapsed-time cap.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = delayMultiplier
	b.MaxInterval = MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, MaxAttempts)
}
