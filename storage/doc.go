// Package storage provides document storage with pluggable backends.
//
// A single StorageProvider contract covers upload, download, delete,
// existence, metadata, paginated listing, signed URLs, copy and move across
// four transports:
//
//   - Local filesystem storage for development and single-node deployments
//   - S3-compatible object storage
//   - Azure-style blob storage
//   - SFTP storage over a pooled SSH connection
//
// # Backend selection
//
// The Factory is the only place backend selection logic lives. It consumes
// either the tagged StorageConfig union or a location URI:
//
//	local:///var/lib/docvault/store?create=true
//	s3://bucket/prefix?region=eu-west-1
//	azblob://account/container/prefix
//	sftp://user@host:22/srv/docvault
//
// # Path safety
//
// Every logical path is validated by CleanPath before any transport call:
// absolute paths and ".." traversal are rejected with INVALID_PATH so a
// hostile path never reaches the filesystem or the network. Local paths are
// then resolved strictly under the configured base path; remote paths are
// confined by key-prefixing.
//
// # Integrity
//
// Uploads tee through a DigestWriter so the MD5 and SHA-256 checksums cover
// exactly the bytes handed to the backend. Move is copy-verify-delete: the
// destination digest must match the source before the source is removed,
// otherwise the destination is discarded and CHECKSUM_MISMATCH returned.
//
// # Retries
//
// WithRetry wraps any provider so transient failures (connection errors,
// timeouts, rate limits) pass through one shared exponential-backoff policy
// instead of per-call-site loops. The original error surfaces unchanged
// after exhaustion.
package storage
