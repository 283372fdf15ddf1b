package storage

import (
	"context"
	"io"
	"time"

	"github.com/kardia-systems/docvault/interfaces"
	"github.com/kardia-systems/docvault/retry"
)

// RetryingProvider decorates a StorageProvider so every call passes through
// one shared retry policy instead of ad-hoc loops at each call site.
// Path-validation failures and unsupported operations are non-retryable by
// classification and pass straight through.
//
// Upload is retried only when the content reader is seekable-equivalent
// (rewound via a fresh call); since the contract takes an io.Reader, upload
// retries are limited to the first attempt's pre-flight failures. Callers
// that need retried uploads pass a bytes.Reader-backed payload.
type RetryingProvider struct {
	inner  interfaces.StorageProvider
	policy retry.Policy
}

// WithRetry wraps provider with the given policy.
func WithRetry(provider interfaces.StorageProvider, policy retry.Policy) *RetryingProvider {
	return &RetryingProvider{inner: provider, policy: policy}
}

func (r *RetryingProvider) Upload(ctx context.Context, path string, content io.Reader, opts interfaces.UploadOptions) (*interfaces.UploadResult, error) {
	if seeker, ok := content.(io.Seeker); ok {
		return retry.DoWithResult(ctx, r.policy, func() (*interfaces.UploadResult, error) {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, interfaces.NewStorageError(interfaces.ErrCodeUnknown, "upload", path, err)
			}
			return r.inner.Upload(ctx, path, content, opts)
		})
	}
	// A one-shot stream cannot be replayed.
	return r.inner.Upload(ctx, path, content, opts)
}

func (r *RetryingProvider) Download(ctx context.Context, path string) ([]byte, error) {
	return retry.DoWithResult(ctx, r.policy, func() ([]byte, error) {
		return r.inner.Download(ctx, path)
	})
}

func (r *RetryingProvider) Delete(ctx context.Context, path string) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.Delete(ctx, path)
	})
}

func (r *RetryingProvider) Exists(ctx context.Context, path string) (bool, error) {
	return retry.DoWithResult(ctx, r.policy, func() (bool, error) {
		return r.inner.Exists(ctx, path)
	})
}

func (r *RetryingProvider) GetMetadata(ctx context.Context, path string) (*interfaces.ObjectInfo, error) {
	return retry.DoWithResult(ctx, r.policy, func() (*interfaces.ObjectInfo, error) {
		return r.inner.GetMetadata(ctx, path)
	})
}

func (r *RetryingProvider) List(ctx context.Context, prefix string, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	return retry.DoWithResult(ctx, r.policy, func() (*interfaces.ListResult, error) {
		return r.inner.List(ctx, prefix, opts)
	})
}

func (r *RetryingProvider) SignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return retry.DoWithResult(ctx, r.policy, func() (string, error) {
		return r.inner.SignedURL(ctx, path, expiry)
	})
}

func (r *RetryingProvider) Copy(ctx context.Context, source, destination string) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.Copy(ctx, source, destination)
	})
}

// Move is not retried as a whole: a failed verify is CHECKSUM_MISMATCH and
// never retryable, and replaying a half-finished move could delete a source
// whose copy came from an earlier attempt.
func (r *RetryingProvider) Move(ctx context.Context, source, destination string) error {
	return r.inner.Move(ctx, source, destination)
}

func (r *RetryingProvider) CreateDirectory(ctx context.Context, path string) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.CreateDirectory(ctx, path)
	})
}

func (r *RetryingProvider) Backend() interfaces.BackendKind {
	return r.inner.Backend()
}

func (r *RetryingProvider) Name() string {
	return r.inner.Name()
}
