// Package retry wraps storage provider calls with exponential backoff.
// Failures classified as transient (connection errors, timeouts, rate
// limits, transient server errors) are retried; everything else surfaces
// immediately. After exhausting attempts the original error is returned
// unchanged so callers can still branch on its kind.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kardia-systems/docvault/interfaces"
)

var (
	jitterMu  sync.Mutex
	jitterSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Policy configures the backoff curve.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between retries.
	Multiplier float64
	// Jitter adds uniform randomness to each delay to avoid thundering
	// herds of synchronized retries.
	Jitter bool
}

// DefaultPolicy matches the storage layer contract: 3 attempts, 1s initial
// delay doubling to a 30s cap, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DelayFor returns the backoff delay preceding the given retry attempt
// (attempt 1 is the first retry). The queue layer reuses this curve to push
// rescheduled entries forward.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			break
		}
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	d := time.Duration(delay)
	if p.Jitter {
		jitterMu.Lock()
		d += time.Duration(jitterSrc.Int63n(int64(d)/2 + 1))
		jitterMu.Unlock()
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}

// Do runs fn, retrying transient failures per the policy. Context
// cancellation interrupts both the operation gap and the backoff sleep.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !interfaces.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.DelayFor(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// DoWithResult is Do for operations returning a value.
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	return result, err
}
