package storage

import (
	"context"

	"github.com/kardia-systems/docvault/interfaces"
)

// moveOps is the slice of a provider that copy-then-delete relocation needs.
// Providers without an atomic rename across the relevant path scope route
// Move through verifiedMove.
type moveOps interface {
	Copy(ctx context.Context, source, destination string) error
	Delete(ctx context.Context, path string) error
	// contentDigest returns checksums of the stored object, computed the
	// cheapest way the backend allows.
	contentDigest(ctx context.Context, path string) (Digest, error)
}

// verifiedMove copies source to destination, verifies the destination
// checksum against the source, and only then deletes the source. On a
// checksum mismatch the corrupt destination is removed, the source is left
// intact, and CHECKSUM_MISMATCH is returned; the condition signals a
// data-integrity problem and is never retried automatically.
func verifiedMove(ctx context.Context, ops moveOps, source, destination string) error {
	if err := ops.Copy(ctx, source, destination); err != nil {
		return err
	}

	srcSum, err := ops.contentDigest(ctx, source)
	if err != nil {
		return err
	}
	dstSum, err := ops.contentDigest(ctx, destination)
	if err != nil {
		return err
	}

	if !digestsMatch(srcSum, dstSum) {
		_ = ops.Delete(ctx, destination)
		return interfaces.NewStorageError(interfaces.ErrCodeChecksum, "move", source, nil)
	}

	return ops.Delete(ctx, source)
}

// digestsMatch compares whichever checksum pairs both sides carry. At least
// one comparable pair is required.
func digestsMatch(a, b Digest) bool {
	compared := false
	if a.MD5 != "" && b.MD5 != "" {
		if a.MD5 != b.MD5 {
			return false
		}
		compared = true
	}
	if a.SHA256 != "" && b.SHA256 != "" {
		if a.SHA256 != b.SHA256 {
			return false
		}
		compared = true
	}
	return compared
}
