package storage

import (
	"path"
	"strings"

	"github.com/kardia-systems/docvault/interfaces"
)

// CleanPath validates and normalizes a logical storage-relative path. It
// rejects anything that could resolve outside a backend's configured root:
// absolute paths, drive-letter paths, traversal via "..", and control
// characters. The result always uses forward slashes and carries no leading
// or trailing slash.
//
// This runs before any transport call, so a rejected path never reaches the
// filesystem or the network.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", interfaces.NewStorageError(interfaces.ErrCodeInvalidPath, "clean", p, nil)
	}

	normalized := strings.ReplaceAll(p, "\\", "/")

	if strings.HasPrefix(normalized, "/") {
		return "", interfaces.NewStorageError(interfaces.ErrCodeInvalidPath, "clean", p, nil)
	}
	// Windows drive or scheme-style prefix.
	if strings.Contains(normalized, ":") {
		return "", interfaces.NewStorageError(interfaces.ErrCodeInvalidPath, "clean", p, nil)
	}
	for _, r := range normalized {
		if r < 0x20 || r == 0x7f {
			return "", interfaces.NewStorageError(interfaces.ErrCodeInvalidPath, "clean", p, nil)
		}
	}

	cleaned := path.Clean(normalized)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", interfaces.NewStorageError(interfaces.ErrCodeInvalidPath, "clean", p, nil)
	}

	return cleaned, nil
}

// CleanPrefix is CleanPath for listing prefixes, where the empty string is
// valid and means the backend root.
func CleanPrefix(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return CleanPath(strings.TrimSuffix(p, "/"))
}

// joinPrefix prepends a backend key prefix to an already validated logical
// path. Remote backends confine paths by prefixing rather than filesystem
// resolution.
func joinPrefix(prefix, p string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return p
	}
	if p == "" {
		return prefix
	}
	return prefix + "/" + p
}
