package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kardia-systems/docvault/interfaces"
)

// Manager is the collaborator-facing surface of the processing queue. It
// delegates all state transitions to the store and adds logging; it keeps no
// claim state of its own.
type Manager struct {
	store interfaces.QueueStore
	log   *slog.Logger
}

// NewManager wraps a queue store.
func NewManager(store interfaces.QueueStore, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// Enqueue schedules a document for processing, eligible immediately.
func (m *Manager) Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (int64, error) {
	entryID, err := m.store.Enqueue(ctx, documentID, priority, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	m.log.Debug("enqueued document", "document", documentID, "entry", entryID, "priority", priority)
	return entryID, nil
}

// EnqueueAt schedules a document for processing no earlier than at.
func (m *Manager) EnqueueAt(ctx context.Context, documentID uuid.UUID, priority int, at time.Time) (int64, error) {
	return m.store.Enqueue(ctx, documentID, priority, at)
}

// ClaimNext returns the next eligible entry claimed for workerID, or nil when
// the queue has nothing eligible.
func (m *Manager) ClaimNext(ctx context.Context, workerID string) (*interfaces.QueueEntry, error) {
	entry, err := m.store.ClaimNext(ctx, workerID)
	if err != nil || entry == nil {
		return nil, err
	}
	m.log.Debug("claimed entry", "entry", entry.ID, "document", entry.DocumentID, "worker", workerID)
	return entry, nil
}

// ReportOutcome records the result of processing a claimed entry. On failure
// the store either reschedules the entry or, once its retry budget is spent,
// marks entry and document failed.
func (m *Manager) ReportOutcome(ctx context.Context, entryID int64, workerID string, procErr error) error {
	if procErr == nil {
		if err := m.store.Complete(ctx, entryID, workerID); err != nil {
			return err
		}
		m.log.Info("entry completed", "entry", entryID, "worker", workerID)
		return nil
	}

	permanent, err := m.store.Fail(ctx, entryID, workerID, procErr.Error())
	if err != nil {
		return err
	}
	if permanent {
		m.log.Error("entry permanently failed", "entry", entryID, "worker", workerID, "err", procErr)
	} else {
		m.log.Warn("entry failed, rescheduled", "entry", entryID, "worker", workerID, "err", procErr)
	}
	return nil
}

// GetDocument loads the document record backing a queue entry.
func (m *Manager) GetDocument(ctx context.Context, documentID uuid.UUID) (*interfaces.Document, error) {
	return m.store.GetDocument(ctx, documentID)
}

// Stats reports entry counts per status.
func (m *Manager) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	return m.store.Stats(ctx)
}
