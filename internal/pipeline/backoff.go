package pipeline

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds stage retries.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Max         time.Duration
	Jitter      float64
}

// DefaultRetryPolicy is 5 attempts, 30s doubling to 30m with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Base:        30 * time.Second,
		Factor:      2,
		Max:         30 * time.Minute,
		Jitter:      0.2,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Factor
	b.MaxInterval = p.Max
	b.RandomizationFactor = p.Jitter
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d > p.ceiling() {
		return p.ceiling()
	}
	return d
}

// Exhausted reports whether attempt used up the retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

func (p RetryPolicy) ceiling() time.Duration {
	return time.Duration(float64(p.Max) * (1 + p.Jitter))
}
