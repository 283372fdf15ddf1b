package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL creates the queue table and the document columns this core
// maintains. The full documents schema belongs to the API layer; the
// statements here are additive and idempotent so both sides can run their
// own migrations.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
    id UUID PRIMARY KEY,
    storage_path TEXT NOT NULL,
    storage_backend VARCHAR(50) NOT NULL,
    file_size BIGINT NOT NULL DEFAULT 0,
    checksum_md5 VARCHAR(32),
    checksum_sha256 VARCHAR(64),
    status VARCHAR(50) NOT NULL DEFAULT 'added',
    processing_started TIMESTAMPTZ,
    processed_at TIMESTAMPTZ,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);

CREATE TABLE IF NOT EXISTS processing_queue (
    id BIGSERIAL PRIMARY KEY,
    document_id UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
    priority INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    worker_id VARCHAR(255),
    status VARCHAR(50) NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_processing_queue_claim
    ON processing_queue (status, scheduled_at, priority);
CREATE INDEX IF NOT EXISTS idx_processing_queue_document
    ON processing_queue (document_id);
`

// EnsureSchema creates the queue tables when they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}
