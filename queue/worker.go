package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kardia-systems/docvault/interfaces"
)

const defaultPollInterval = 2 * time.Second

// ProcessFunc does the actual work for one claimed document. A nil return
// completes the entry; any error counts against its retry budget.
type ProcessFunc func(ctx context.Context, doc *interfaces.Document) error

// Pool runs N workers that poll the queue for claims. Each worker holds at
// most one claim at a time, so claim ownership never outlives the goroutine
// that reported it.
type Pool struct {
	manager      *Manager
	process      ProcessFunc
	workers      int
	pollInterval time.Duration
	log          *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
}

// NewPool creates a worker pool. Workers are identified as
// <hostname>-<uuid>-<n> so stale-claim reports name the culprit.
func NewPool(manager *Manager, process ProcessFunc, cfg PoolConfig, log *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Pool{
		manager:      manager,
		process:      process,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		log:          log,
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// canceled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	poolID := uuid.New().String()[:8]

	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("%s-%s-%d", host, poolID, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}
	p.log.Info("worker pool started", "workers", p.workers, "pollInterval", p.pollInterval)
}

// Stop cancels the workers and waits for in-flight work to report its
// outcome.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID string) {
	log := p.log.With("worker", workerID)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		// Drain eligible entries before going back to sleep.
		for {
			if ctx.Err() != nil {
				return
			}
			entry, err := p.manager.ClaimNext(ctx, workerID)
			if err != nil {
				log.Error("claim failed", "err", err)
				break
			}
			if entry == nil {
				break
			}
			p.handle(ctx, log, workerID, entry)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) handle(ctx context.Context, log *slog.Logger, workerID string, entry *interfaces.QueueEntry) {
	doc, err := p.manager.GetDocument(ctx, entry.DocumentID)
	if err != nil {
		err = fmt.Errorf("load document %s: %w", entry.DocumentID, err)
	} else {
		err = p.process(ctx, doc)
	}

	// Outcomes are reported even during shutdown so the claim does not
	// linger until the reaper finds it.
	reportCtx := ctx
	if reportCtx.Err() != nil {
		var cancel context.CancelFunc
		reportCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if reportErr := p.manager.ReportOutcome(reportCtx, entry.ID, workerID, err); reportErr != nil {
		log.Error("report outcome failed", "entry", entry.ID, "err", reportErr)
	}
}
