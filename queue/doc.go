// Package queue implements the durable document processing queue.
//
// Entries move pending -> processing -> completed | pending(retry) | failed.
// Workers claim the next eligible entry (highest priority first, then
// earliest scheduled) with an atomic conditional update, so exactly one of N
// concurrent claimers wins a given entry. The claimed document's lifecycle
// status is kept consistent with the entry at every transition.
//
// Two QueueStore implementations share identical semantics: PostgresStore
// persists to a processing_queue table via pgx and is the deployment store;
// MemoryStore backs tests and single-process setups.
//
// A worker Pool polls the store and runs an injected ProcessFunc against the
// claimed document. The Reaper returns entries orphaned by a crashed worker
// to pending, charging the event against their retry budget like any other
// failure.
package queue
