package rews

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long to wait before each reconnection attempt.
type Retryer interface {
	// NextDelay returns the delay before attempt (0-based) and whether to try
	// at all. lastErr is the error of the previous attempt, nil for the first.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful reconnection.
	Reset()
}

// FixedDelayRetryer waits the same Delay before every attempt.
// It is the default: a short fixed delay suits a co-located agent server.
type FixedDelayRetryer struct {
	Delay time.Duration
	// MaxRetries bounds the attempts per outage. 0 retries forever.
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}

// ExponentialBackoffRetryer grows the delay by Multiplier per attempt up to
// MaxDelay, optionally with jitter. Use it for remote deployments where many
// clients may reconnect at once.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries bounds the attempts per outage. 0 retries forever.
	MaxRetries int

	Jitter bool
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}
