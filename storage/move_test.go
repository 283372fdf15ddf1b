package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardia-systems/docvault/interfaces"
)

// fakeMoveBackend is an in-memory moveOps whose Copy can be made to corrupt
// the destination, something a real filesystem rename cannot produce.
type fakeMoveBackend struct {
	objects     map[string][]byte
	corruptCopy bool
	deleted     []string
}

func newFakeMoveBackend() *fakeMoveBackend {
	return &fakeMoveBackend{objects: map[string][]byte{}}
}

func (f *fakeMoveBackend) Copy(ctx context.Context, source, destination string) error {
	data, ok := f.objects[source]
	if !ok {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, "copy", source, nil)
	}
	cp := append([]byte(nil), data...)
	if f.corruptCopy {
		cp = append(cp, '!')
	}
	f.objects[destination] = cp
	return nil
}

func (f *fakeMoveBackend) Delete(ctx context.Context, path string) error {
	if _, ok := f.objects[path]; !ok {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, "delete", path, nil)
	}
	delete(f.objects, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeMoveBackend) contentDigest(ctx context.Context, path string) (Digest, error) {
	data, ok := f.objects[path]
	if !ok {
		return Digest{}, interfaces.NewStorageError(interfaces.ErrCodeNotFound, "digest", path, nil)
	}
	return DigestBytes(data), nil
}

func TestVerifiedMove(t *testing.T) {
	ctx := context.Background()

	t.Run("moves intact content", func(t *testing.T) {
		backend := newFakeMoveBackend()
		backend.objects["src"] = []byte("payload")

		require.NoError(t, verifiedMove(ctx, backend, "src", "dst"))

		assert.NotContains(t, backend.objects, "src")
		assert.Equal(t, []byte("payload"), backend.objects["dst"])
	})

	t.Run("corruption keeps source and removes destination", func(t *testing.T) {
		backend := newFakeMoveBackend()
		backend.objects["src"] = []byte("payload")
		backend.corruptCopy = true

		err := verifiedMove(ctx, backend, "src", "dst")
		require.Error(t, err)
		assert.Equal(t, interfaces.ErrCodeChecksum, interfaces.CodeOf(err))

		assert.Equal(t, []byte("payload"), backend.objects["src"])
		assert.NotContains(t, backend.objects, "dst")
		assert.Equal(t, []string{"dst"}, backend.deleted)
	})

	t.Run("missing source surfaces copy error", func(t *testing.T) {
		backend := newFakeMoveBackend()

		err := verifiedMove(ctx, backend, "absent", "dst")
		require.Error(t, err)
		assert.True(t, interfaces.IsNotFound(err))
	})
}

func TestDigestsMatch(t *testing.T) {
	full := DigestBytes([]byte("same"))
	other := DigestBytes([]byte("different"))

	assert.True(t, digestsMatch(full, full))
	assert.False(t, digestsMatch(full, other))

	// Only one comparable pair is fine.
	md5Only := Digest{MD5: full.MD5}
	assert.True(t, digestsMatch(full, md5Only))

	// Nothing comparable means no match can be claimed.
	assert.False(t, digestsMatch(Digest{}, full))
	assert.False(t, digestsMatch(Digest{MD5: full.MD5}, Digest{SHA256: full.SHA256}))
}
