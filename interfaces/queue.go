package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the canonical lifecycle state of a document.
type DocumentStatus string

const (
	DocumentAdded      DocumentStatus = "added"
	DocumentProcessing DocumentStatus = "processing"
	DocumentProcessed  DocumentStatus = "processed"
	DocumentFailed     DocumentStatus = "failed"
)

// EntryStatus is the state of a processing queue entry. Completed and failed
// are terminal.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryProcessing EntryStatus = "processing"
	EntryCompleted  EntryStatus = "completed"
	EntryFailed     EntryStatus = "failed"
)

// Document holds the subset of the document record this core reads and
// writes. The rest of the row belongs to the API layer.
type Document struct {
	ID                uuid.UUID
	Location          StorageLocation
	SizeBytes         int64
	ChecksumMD5       string
	ChecksumSHA256    string
	Status            DocumentStatus
	ProcessingStarted *time.Time
	ProcessedAt       *time.Time
	RetryCount        int
	ErrorMessage      string
}

// QueueEntry is one unit of work in the processing queue. Mutated only by
// the worker currently holding the claim.
type QueueEntry struct {
	ID           int64
	DocumentID   uuid.UUID
	Priority     int
	RetryCount   int
	MaxRetries   int
	ScheduledAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	WorkerID     string
	Status       EntryStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// QueueStats is a point-in-time count of entries per status.
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// QueueStore is the durable store behind the processing queue. It is the
// single source of truth for claim state; no in-process cache of claim
// ownership survives a restart.
//
// Implementations must make ClaimNext atomic: with N concurrent claimers and
// one eligible entry, exactly one wins and the rest observe no entry.
type QueueStore interface {
	// Enqueue inserts a pending entry for the document and returns its id.
	Enqueue(ctx context.Context, documentID uuid.UUID, priority int, scheduledAt time.Time) (int64, error)

	// ClaimNext atomically claims the highest-priority eligible pending
	// entry (scheduled_at <= now, priority desc, scheduled_at asc) for
	// workerID, marking entry and document as processing. Returns
	// (nil, nil) when nothing is eligible.
	ClaimNext(ctx context.Context, workerID string) (*QueueEntry, error)

	// Complete marks a claimed entry completed and its document processed.
	// The workerID must match the claim holder.
	Complete(ctx context.Context, entryID int64, workerID string) error

	// Fail records a processing failure. While retries remain the entry
	// returns to pending with scheduled_at pushed forward along the
	// store's configured backoff curve; once retries are exhausted entry
	// and document become failed with errMsg recorded. Returns true when
	// the failure was permanent.
	Fail(ctx context.Context, entryID int64, workerID string, errMsg string) (permanent bool, err error)

	// RequeueStale returns entries stuck in processing longer than
	// staleAfter to pending, counting the event as a failure against their
	// retry budget. Reports how many entries were touched.
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error)

	// GetDocument loads the document fields this core operates on.
	GetDocument(ctx context.Context, documentID uuid.UUID) (*Document, error)

	// Stats counts entries per status.
	Stats(ctx context.Context) (*QueueStats, error)
}
