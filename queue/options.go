package queue

import (
	"time"

	"github.com/kardia-systems/docvault/retry"
)

const (
	// DefaultMaxRetries bounds automatic reprocessing attempts per entry.
	DefaultMaxRetries = 3
)

// Options configure a queue store.
type Options struct {
	// MaxRetries is recorded on each enqueued entry; once an entry's
	// retry_count reaches it, the next failure is permanent.
	MaxRetries int
	// Backoff computes the delay before a failed entry becomes eligible
	// again, from the retry attempt number (1-based).
	Backoff func(attempt int) time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Backoff == nil {
		policy := retry.DefaultPolicy()
		o.Backoff = policy.DelayFor
	}
	return o
}
