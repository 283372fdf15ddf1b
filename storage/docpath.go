package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ObjectPath builds the conventional storage path for an uploaded document:
// scopes/<scope>/<year>/<month>/<filename>. The convention is a helper for
// the upload layer, not something providers enforce; any validated logical
// path is storable.
func ObjectPath(scope, filename string, uploadedAt time.Time) string {
	scope = sanitizeSegment(scope)
	filename = sanitizeSegment(filename)
	return path.Join(
		"scopes",
		scope,
		fmt.Sprintf("%d", uploadedAt.Year()),
		fmt.Sprintf("%02d", int(uploadedAt.Month())),
		filename,
	)
}

// sanitizeSegment strips separators and traversal characters out of a
// single path segment.
func sanitizeSegment(s string) string {
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "_")
	}
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimSpace(s)
}
