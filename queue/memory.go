package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kardia-systems/docvault/interfaces"
)

// MemoryStore is an in-process QueueStore with the same claim semantics as
// PostgresStore. It backs tests and single-process deployments; claim state
// does not survive a restart, which is acceptable only because the process
// is the sole worker.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	nextID  int64
	entries map[int64]*interfaces.QueueEntry
	docs    map[uuid.UUID]*interfaces.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[int64]*interfaces.QueueEntry),
		docs:    make(map[uuid.UUID]*interfaces.Document),
	}
}

// RegisterDocument makes a document record visible to the queue. The pg
// store reads the documents table instead; here the caller seeds directly.
func (s *MemoryStore) RegisterDocument(doc *interfaces.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	if cp.Status == "" {
		cp.Status = interfaces.DocumentAdded
	}
	s.docs[cp.ID] = &cp
}

func (s *MemoryStore) Enqueue(ctx context.Context, documentID uuid.UUID, priority int, scheduledAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return 0, fmt.Errorf("enqueue: unknown document %s", documentID)
	}

	s.nextID++
	now := time.Now().UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	s.entries[s.nextID] = &interfaces.QueueEntry{
		ID:          s.nextID,
		DocumentID:  documentID,
		Priority:    priority,
		MaxRetries:  s.opts.MaxRetries,
		ScheduledAt: scheduledAt.UTC(),
		Status:      interfaces.EntryPending,
		CreatedAt:   now,
	}
	return s.nextID, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, workerID string) (*interfaces.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var best *interfaces.QueueEntry
	for _, e := range s.entries {
		if e.Status != interfaces.EntryPending || e.ScheduledAt.After(now) {
			continue
		}
		if best == nil ||
			e.Priority > best.Priority ||
			(e.Priority == best.Priority && e.ScheduledAt.Before(best.ScheduledAt)) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = interfaces.EntryProcessing
	started := now
	best.StartedAt = &started
	best.WorkerID = workerID

	if doc, ok := s.docs[best.DocumentID]; ok {
		doc.Status = interfaces.DocumentProcessing
		doc.ProcessingStarted = &started
	}

	cp := *best
	return &cp, nil
}

func (s *MemoryStore) Complete(ctx context.Context, entryID int64, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimed(entryID, workerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	e.Status = interfaces.EntryCompleted
	e.CompletedAt = &now

	if doc, ok := s.docs[e.DocumentID]; ok {
		doc.Status = interfaces.DocumentProcessed
		doc.ProcessedAt = &now
		doc.ErrorMessage = ""
	}
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, entryID int64, workerID string, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimed(entryID, workerID)
	if err != nil {
		return false, err
	}
	return s.failLocked(e, errMsg), nil
}

// failLocked applies failure bookkeeping to a processing entry. Caller holds
// the mutex.
func (s *MemoryStore) failLocked(e *interfaces.QueueEntry, errMsg string) bool {
	e.RetryCount++
	e.ErrorMessage = errMsg
	e.WorkerID = ""
	e.StartedAt = nil

	doc := s.docs[e.DocumentID]
	if doc != nil {
		doc.RetryCount = e.RetryCount
		doc.ErrorMessage = errMsg
	}

	if e.RetryCount >= e.MaxRetries {
		now := time.Now().UTC()
		e.Status = interfaces.EntryFailed
		e.CompletedAt = &now
		if doc != nil {
			doc.Status = interfaces.DocumentFailed
		}
		return true
	}

	e.Status = interfaces.EntryPending
	e.ScheduledAt = time.Now().UTC().Add(s.opts.Backoff(e.RetryCount))
	return false
}

func (s *MemoryStore) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-staleAfter)
	requeued := 0
	for _, e := range s.entries {
		if e.Status != interfaces.EntryProcessing || e.StartedAt == nil || e.StartedAt.After(cutoff) {
			continue
		}
		s.failLocked(e, fmt.Sprintf("stale claim: worker %q did not report within %s", e.WorkerID, staleAfter))
		requeued++
	}
	return requeued, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, documentID uuid.UUID) (*interfaces.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeNotFound, "get-document", documentID.String(), nil)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &interfaces.QueueStats{}
	for _, e := range s.entries {
		switch e.Status {
		case interfaces.EntryPending:
			stats.Pending++
		case interfaces.EntryProcessing:
			stats.Processing++
		case interfaces.EntryCompleted:
			stats.Completed++
		case interfaces.EntryFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// claimed fetches an entry and verifies the caller still holds its claim.
func (s *MemoryStore) claimed(entryID int64, workerID string) (*interfaces.QueueEntry, error) {
	e, ok := s.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("queue entry %d not found", entryID)
	}
	if e.Status != interfaces.EntryProcessing || e.WorkerID != workerID {
		return nil, fmt.Errorf("queue entry %d is not claimed by worker %q", entryID, workerID)
	}
	return e, nil
}
