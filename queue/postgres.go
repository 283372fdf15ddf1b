package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kardia-systems/docvault/interfaces"
)

// PostgresStore is the durable QueueStore. The database row is the source
// of truth for claim state; every claim is a single conditional update so
// concurrent workers never double-claim (no SELECT-then-UPDATE window).
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool, opts Options) *PostgresStore {
	return &PostgresStore{pool: pool, opts: opts.withDefaults()}
}

func (s *PostgresStore) Enqueue(ctx context.Context, documentID uuid.UUID, priority int, scheduledAt time.Time) (int64, error) {
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO processing_queue (document_id, priority, max_retries, scheduled_at, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id`,
		documentID, priority, s.opts.MaxRetries, scheduledAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue document %s: %w", documentID, err)
	}
	return id, nil
}

// ClaimNext picks the highest-priority eligible entry with SKIP LOCKED so
// competing workers pass over rows already being claimed, then flips entry
// and document to processing in one transaction.
func (s *PostgresStore) ClaimNext(ctx context.Context, workerID string) (*interfaces.QueueEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	entry := &interfaces.QueueEntry{}
	var (
		startedAt    sql.NullTime
		workerCol    sql.NullString
		errorMessage sql.NullString
	)
	err = tx.QueryRow(ctx, `
		UPDATE processing_queue q
		SET status = 'processing', started_at = now(), worker_id = $1
		WHERE q.id = (
			SELECT id FROM processing_queue
			WHERE status = 'pending' AND scheduled_at <= now()
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING q.id, q.document_id, q.priority, q.retry_count, q.max_retries,
		          q.scheduled_at, q.started_at, q.worker_id, q.status, q.error_message, q.created_at`,
		workerID,
	).Scan(&entry.ID, &entry.DocumentID, &entry.Priority, &entry.RetryCount, &entry.MaxRetries,
		&entry.ScheduledAt, &startedAt, &workerCol, &entry.Status, &errorMessage, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next entry: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		entry.StartedAt = &t
	}
	entry.WorkerID = workerCol.String
	entry.ErrorMessage = errorMessage.String

	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET status = 'processing', processing_started = now(), updated_at = now()
		WHERE id = $1`,
		entry.DocumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark document processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim: commit: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Complete(ctx context.Context, entryID int64, workerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("complete: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var documentID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE processing_queue
		SET status = 'completed', completed_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
		RETURNING document_id`,
		entryID, workerID,
	).Scan(&documentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("queue entry %d is not claimed by worker %q", entryID, workerID)
	}
	if err != nil {
		return fmt.Errorf("complete entry %d: %w", entryID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET status = 'processed', processed_at = now(), error_message = NULL, updated_at = now()
		WHERE id = $1`,
		documentID,
	)
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Fail(ctx context.Context, entryID int64, workerID string, errMsg string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("fail: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	permanent, err := s.failInTx(ctx, tx, entryID, workerID, errMsg)
	if err != nil {
		return false, err
	}
	return permanent, tx.Commit(ctx)
}

// failInTx increments the retry counter, then either reschedules the entry
// along the backoff curve or marks it permanently failed.
func (s *PostgresStore) failInTx(ctx context.Context, tx pgx.Tx, entryID int64, workerID string, errMsg string) (bool, error) {
	var (
		documentID uuid.UUID
		retryCount int
		maxRetries int
	)
	query := `
		UPDATE processing_queue
		SET retry_count = retry_count + 1, error_message = $3
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
		RETURNING document_id, retry_count, max_retries`
	err := tx.QueryRow(ctx, query, entryID, workerID, errMsg).Scan(&documentID, &retryCount, &maxRetries)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("queue entry %d is not claimed by worker %q", entryID, workerID)
	}
	if err != nil {
		return false, fmt.Errorf("fail entry %d: %w", entryID, err)
	}

	if retryCount >= maxRetries {
		_, err = tx.Exec(ctx, `
			UPDATE processing_queue
			SET status = 'failed', completed_at = now(), worker_id = NULL, started_at = NULL
			WHERE id = $1`,
			entryID,
		)
		if err != nil {
			return false, fmt.Errorf("mark entry failed: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE documents
			SET status = 'failed', error_message = $2, retry_count = $3, updated_at = now()
			WHERE id = $1`,
			documentID, errMsg, retryCount,
		)
		if err != nil {
			return false, fmt.Errorf("mark document failed: %w", err)
		}
		return true, nil
	}

	delay := s.opts.Backoff(retryCount)
	_, err = tx.Exec(ctx, `
		UPDATE processing_queue
		SET status = 'pending', scheduled_at = now() + $2::interval, worker_id = NULL, started_at = NULL
		WHERE id = $1`,
		entryID, delay,
	)
	if err != nil {
		return false, fmt.Errorf("reschedule entry: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET error_message = $2, retry_count = $3, updated_at = now()
		WHERE id = $1`,
		documentID, errMsg, retryCount,
	)
	if err != nil {
		return false, fmt.Errorf("record document retry: %w", err)
	}
	return false, nil
}

// RequeueStale recovers claims orphaned by dead workers. Each stale entry is
// charged a failure against its retry budget, exactly as if the worker had
// reported one.
func (s *PostgresStore) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, worker_id FROM processing_queue
		WHERE status = 'processing' AND started_at < now() - $1::interval
		FOR UPDATE SKIP LOCKED`,
		staleAfter,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: select: %w", err)
	}

	type staleEntry struct {
		id       int64
		workerID string
	}
	var stale []staleEntry
	for rows.Next() {
		var (
			e      staleEntry
			worker sql.NullString
		)
		if err := rows.Scan(&e.id, &worker); err != nil {
			rows.Close()
			return 0, fmt.Errorf("requeue stale: scan: %w", err)
		}
		e.workerID = worker.String
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("requeue stale: rows: %w", err)
	}

	for _, e := range stale {
		msg := fmt.Sprintf("stale claim: worker %q did not report within %s", e.workerID, staleAfter)
		if _, err := s.failInTx(ctx, tx, e.id, e.workerID, msg); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("requeue stale: commit: %w", err)
	}
	return len(stale), nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID uuid.UUID) (*interfaces.Document, error) {
	doc := &interfaces.Document{}
	var (
		md5Sum            sql.NullString
		sha256Sum         sql.NullString
		processingStarted sql.NullTime
		processedAt       sql.NullTime
		errorMessage      sql.NullString
		backend           string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, storage_path, storage_backend, file_size, checksum_md5, checksum_sha256,
		       status, processing_started, processed_at, retry_count, error_message
		FROM documents WHERE id = $1`,
		documentID,
	).Scan(&doc.ID, &doc.Location.Path, &backend, &doc.SizeBytes, &md5Sum, &sha256Sum,
		&doc.Status, &processingStarted, &processedAt, &doc.RetryCount, &errorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeNotFound, "get-document", documentID.String(), err)
	}
	if err != nil {
		return nil, fmt.Errorf("select document %s: %w", documentID, err)
	}

	doc.Location.Backend = interfaces.BackendKind(backend)
	doc.ChecksumMD5 = md5Sum.String
	doc.ChecksumSHA256 = sha256Sum.String
	doc.ErrorMessage = errorMessage.String
	if processingStarted.Valid {
		t := processingStarted.Time
		doc.ProcessingStarted = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	return doc, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM processing_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &interfaces.QueueStats{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("queue stats: scan: %w", err)
		}
		switch interfaces.EntryStatus(status) {
		case interfaces.EntryPending:
			stats.Pending = count
		case interfaces.EntryProcessing:
			stats.Processing = count
		case interfaces.EntryCompleted:
			stats.Completed = count
		case interfaces.EntryFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
