package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardia-systems/docvault/interfaces"
)

func testOptions() Options {
	return Options{
		MaxRetries: 3,
		Backoff:    func(attempt int) time.Duration { return 0 },
	}
}

func seedDocument(t *testing.T, s *MemoryStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	s.RegisterDocument(&interfaces.Document{
		ID: id,
		Location: interfaces.StorageLocation{
			Backend: interfaces.BackendLocal,
			Path:    "scopes/acme/2026/08/doc.pdf",
		},
	})
	return id
}

func TestEnqueueUnknownDocument(t *testing.T) {
	s := NewMemoryStore(testOptions())

	_, err := s.Enqueue(context.Background(), uuid.New(), 0, time.Time{})
	require.Error(t, err)
}

func TestClaimNextEmptyQueue(t *testing.T) {
	s := NewMemoryStore(testOptions())

	entry, err := s.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestClaimNextPriorityOrder(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	low := seedDocument(t, s)
	high := seedDocument(t, s)

	// Lower priority enqueued first; the higher priority entry must still
	// win the claim.
	_, err := s.Enqueue(ctx, low, 1, time.Time{})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, high, 5, time.Time{})
	require.NoError(t, err)

	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, high, entry.DocumentID)
	assert.Equal(t, 5, entry.Priority)

	entry, err = s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, low, entry.DocumentID)
}

func TestClaimNextScheduledOrderWithinPriority(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	later := seedDocument(t, s)
	earlier := seedDocument(t, s)

	now := time.Now().UTC()
	_, err := s.Enqueue(ctx, later, 1, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, earlier, 1, now.Add(-time.Hour))
	require.NoError(t, err)

	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, earlier, entry.DocumentID)
}

func TestClaimNextSkipsFutureEntries(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	doc := seedDocument(t, s)
	_, err := s.Enqueue(ctx, doc, 0, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestClaimNextConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	doc := seedDocument(t, s)
	_, err := s.Enqueue(ctx, doc, 0, time.Time{})
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	won := make(chan *interfaces.QueueEntry, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := s.ClaimNext(ctx, "worker")
			assert.NoError(t, err)
			if entry != nil {
				won <- entry
			}
		}()
	}
	wg.Wait()
	close(won)

	assert.Len(t, won, 1)
}

func TestClaimMirrorsDocumentStatus(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	docID := seedDocument(t, s)
	entryID, err := s.Enqueue(ctx, docID, 0, time.Time{})
	require.NoError(t, err)

	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	doc, err := s.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DocumentProcessing, doc.Status)
	require.NotNil(t, doc.ProcessingStarted)

	require.NoError(t, s.Complete(ctx, entryID, "w1"))

	doc, err = s.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DocumentProcessed, doc.Status)
	require.NotNil(t, doc.ProcessedAt)
	assert.Empty(t, doc.ErrorMessage)
}

func TestCompleteRequiresClaimHolder(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	doc := seedDocument(t, s)
	entryID, err := s.Enqueue(ctx, doc, 0, time.Time{})
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	// A different worker cannot complete the claim.
	err = s.Complete(ctx, entryID, "w2")
	require.Error(t, err)

	require.NoError(t, s.Complete(ctx, entryID, "w1"))

	// Terminal entries cannot be completed again.
	err = s.Complete(ctx, entryID, "w1")
	require.Error(t, err)
}

func TestFailReschedulesUntilBudgetExhausted(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	docID := seedDocument(t, s)
	entryID, err := s.Enqueue(ctx, docID, 0, time.Time{})
	require.NoError(t, err)

	// First and second failures reschedule.
	for attempt := 1; attempt <= 2; attempt++ {
		entry, err := s.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, entry, "attempt %d", attempt)

		permanent, err := s.Fail(ctx, entryID, "w1", "boom")
		require.NoError(t, err)
		assert.False(t, permanent, "attempt %d", attempt)

		doc, err := s.GetDocument(ctx, docID)
		require.NoError(t, err)
		assert.Equal(t, attempt, doc.RetryCount)
		assert.Equal(t, "boom", doc.ErrorMessage)
		// The document stays in processing through the retry wait.
		assert.Equal(t, interfaces.DocumentProcessing, doc.Status)
	}

	// Third failure is permanent with max_retries=3.
	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	permanent, err := s.Fail(ctx, entryID, "w1", "boom final")
	require.NoError(t, err)
	assert.True(t, permanent)

	doc, err := s.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DocumentFailed, doc.Status)
	assert.Equal(t, 3, doc.RetryCount)
	assert.Equal(t, "boom final", doc.ErrorMessage)

	// Nothing left to claim.
	entry, err = s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFailAppliesBackoffDelay(t *testing.T) {
	s := NewMemoryStore(Options{
		MaxRetries: 3,
		Backoff:    func(attempt int) time.Duration { return time.Hour },
	})
	ctx := context.Background()

	doc := seedDocument(t, s)
	entryID, err := s.Enqueue(ctx, doc, 0, time.Time{})
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	_, err = s.Fail(ctx, entryID, "w1", "boom")
	require.NoError(t, err)

	// Rescheduled an hour out, so not yet eligible.
	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRequeueStale(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	doc := seedDocument(t, s)
	entryID, err := s.Enqueue(ctx, doc, 0, time.Time{})
	require.NoError(t, err)

	entry, err := s.ClaimNext(ctx, "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, entry)

	// A fresh claim is not stale.
	n, err := s.RequeueStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero threshold the claim is immediately stale.
	n, err = s.RequeueStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The recovery counted against the retry budget and the entry is
	// claimable again by another worker.
	entry, err = s.ClaimNext(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, entryID, entry.ID)
	assert.Equal(t, 1, entry.RetryCount)

	// The dead worker's claim no longer exists.
	_, err = s.Fail(ctx, entryID, "dead-worker", "late report")
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	s := NewMemoryStore(testOptions())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc := seedDocument(t, s)
		_, err := s.Enqueue(ctx, doc, 0, time.Time{})
		require.NoError(t, err)
	}

	entry, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, entry.ID, "w1"))

	_, err = s.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestGetDocumentMissing(t *testing.T) {
	s := NewMemoryStore(testOptions())

	_, err := s.GetDocument(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, interfaces.IsNotFound(err))
}
