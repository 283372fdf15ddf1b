package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardia-systems/docvault/interfaces"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPoolProcessesEnqueuedDocuments(t *testing.T) {
	store := NewMemoryStore(testOptions())
	manager := NewManager(store, discardLogger())

	var processed atomic.Int64
	var docIDs [3]uuid.UUID
	for i := range docIDs {
		docIDs[i] = seedDocument(t, store)
		_, err := manager.Enqueue(context.Background(), docIDs[i], 0)
		require.NoError(t, err)
	}

	pool := NewPool(manager, func(ctx context.Context, doc *interfaces.Document) error {
		processed.Add(1)
		return nil
	}, PoolConfig{Workers: 2, PollInterval: 10 * time.Millisecond}, discardLogger())

	pool.Start(context.Background())
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 3 })

	waitFor(t, 2*time.Second, func() bool {
		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		return stats.Completed == 3
	})

	for _, id := range docIDs {
		doc, err := store.GetDocument(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DocumentProcessed, doc.Status)
	}
}

func TestPoolReportsFailures(t *testing.T) {
	store := NewMemoryStore(testOptions())
	manager := NewManager(store, discardLogger())

	docID := seedDocument(t, store)
	_, err := manager.Enqueue(context.Background(), docID, 0)
	require.NoError(t, err)

	var attempts atomic.Int64
	pool := NewPool(manager, func(ctx context.Context, doc *interfaces.Document) error {
		attempts.Add(1)
		return errors.New("cannot parse document")
	}, PoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond}, discardLogger())

	pool.Start(context.Background())
	defer pool.Stop()

	// With a zero backoff the entry fails, reschedules twice and then goes
	// terminal after the third attempt.
	waitFor(t, 2*time.Second, func() bool {
		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		return stats.Failed == 1
	})

	assert.Equal(t, int64(3), attempts.Load())

	doc, err := store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DocumentFailed, doc.Status)
	assert.Equal(t, "cannot parse document", doc.ErrorMessage)
}

func TestPoolStopWaitsForInflightWork(t *testing.T) {
	store := NewMemoryStore(testOptions())
	manager := NewManager(store, discardLogger())

	docID := seedDocument(t, store)
	_, err := manager.Enqueue(context.Background(), docID, 0)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewPool(manager, func(ctx context.Context, doc *interfaces.Document) error {
		close(started)
		<-release
		return nil
	}, PoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond}, discardLogger())

	pool.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while work was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after work finished")
	}

	// The outcome was reported despite shutdown racing the handler.
	doc, err := store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DocumentProcessed, doc.Status)
}

func TestReaperRecoversOrphanedClaims(t *testing.T) {
	store := NewMemoryStore(testOptions())
	ctx := context.Background()

	docID := seedDocument(t, store)
	_, err := store.Enqueue(ctx, docID, 0, time.Time{})
	require.NoError(t, err)

	// Claim and never report, simulating a crashed worker.
	entry, err := store.ClaimNext(ctx, "crashed-worker")
	require.NoError(t, err)
	require.NotNil(t, entry)

	reaper := NewReaper(store, ReaperConfig{
		StaleTimeout: time.Nanosecond,
		Interval:     10 * time.Millisecond,
	}, discardLogger())
	reaper.Start(ctx)
	defer reaper.Stop()

	waitFor(t, 2*time.Second, func() bool {
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		return stats.Pending == 1
	})

	recovered, err := store.ClaimNext(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, entry.ID, recovered.ID)
	assert.Equal(t, 1, recovered.RetryCount)
}

func TestManagerReportOutcome(t *testing.T) {
	store := NewMemoryStore(testOptions())
	manager := NewManager(store, discardLogger())
	ctx := context.Background()

	docID := seedDocument(t, store)
	_, err := manager.Enqueue(ctx, docID, 0)
	require.NoError(t, err)

	entry, err := manager.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	require.NoError(t, manager.ReportOutcome(ctx, entry.ID, "w1", nil))

	doc, err := manager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DocumentProcessed, doc.Status)
}
