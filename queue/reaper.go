package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/kardia-systems/docvault/interfaces"
)

const (
	// DefaultStaleTimeout is how long an entry may sit in processing before
	// its claim is presumed orphaned.
	DefaultStaleTimeout = 10 * time.Minute

	defaultReapInterval = time.Minute
)

// Reaper periodically returns entries whose worker stopped reporting back to
// the pending state. Recovery is a store-side transition, so a worker that
// merely finishes late finds its claim already revoked and its outcome report
// rejected.
type Reaper struct {
	store        interfaces.QueueStore
	staleTimeout time.Duration
	interval     time.Duration
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// ReaperConfig configures stale-claim recovery.
type ReaperConfig struct {
	StaleTimeout time.Duration
	Interval     time.Duration
}

// NewReaper creates a reaper over the given store.
func NewReaper(store interfaces.QueueStore, cfg ReaperConfig, log *slog.Logger) *Reaper {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReapInterval
	}
	return &Reaper{
		store:        store,
		staleTimeout: cfg.StaleTimeout,
		interval:     cfg.Interval,
		log:          log,
	}
}

// Start launches the reap loop.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapOnce(ctx)
			}
		}
	}()
	r.log.Info("reaper started", "staleTimeout", r.staleTimeout, "interval", r.interval)
}

// Stop halts the reap loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

func (r *Reaper) reapOnce(ctx context.Context) {
	n, err := r.store.RequeueStale(ctx, r.staleTimeout)
	if err != nil {
		r.log.Error("stale claim recovery failed", "err", err)
		return
	}
	if n > 0 {
		r.log.Warn("recovered stale claims", "count", n, "staleTimeout", r.staleTimeout)
	}
}
