package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kardia-systems/docvault/interfaces"
	"github.com/kardia-systems/docvault/retry"
)

// MockProvider implements interfaces.StorageProvider for testing.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Upload(ctx context.Context, path string, content io.Reader, opts interfaces.UploadOptions) (*interfaces.UploadResult, error) {
	args := m.Called(ctx, path, content, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.UploadResult), args.Error(1)
}

func (m *MockProvider) Download(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) Delete(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockProvider) Exists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) GetMetadata(ctx context.Context, path string) (*interfaces.ObjectInfo, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ObjectInfo), args.Error(1)
}

func (m *MockProvider) List(ctx context.Context, prefix string, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	args := m.Called(ctx, prefix, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ListResult), args.Error(1)
}

func (m *MockProvider) SignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, path, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Copy(ctx context.Context, source, destination string) error {
	return m.Called(ctx, source, destination).Error(0)
}

func (m *MockProvider) Move(ctx context.Context, source, destination string) error {
	return m.Called(ctx, source, destination).Error(0)
}

func (m *MockProvider) CreateDirectory(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockProvider) Backend() interfaces.BackendKind {
	return interfaces.BackendLocal
}

func (m *MockProvider) Name() string {
	return "mock"
}

func fastRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func connErr() error {
	return interfaces.NewStorageError(interfaces.ErrCodeConnection, "op", "p", errors.New("reset"))
}

func TestRetryingDownloadRecovers(t *testing.T) {
	inner := &MockProvider{}
	inner.On("Download", mock.Anything, "doc.txt").Return(nil, connErr()).Twice()
	inner.On("Download", mock.Anything, "doc.txt").Return([]byte("content"), nil).Once()

	p := WithRetry(inner, fastRetryPolicy())
	got, err := p.Download(context.Background(), "doc.txt")

	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
	inner.AssertExpectations(t)
}

func TestRetryingDownloadPermanentErrorOnce(t *testing.T) {
	inner := &MockProvider{}
	notFound := interfaces.NewStorageError(interfaces.ErrCodeNotFound, "download", "doc.txt", nil)
	inner.On("Download", mock.Anything, "doc.txt").Return(nil, notFound).Once()

	p := WithRetry(inner, fastRetryPolicy())
	_, err := p.Download(context.Background(), "doc.txt")

	assert.True(t, interfaces.IsNotFound(err))
	inner.AssertNumberOfCalls(t, "Download", 1)
}

func TestRetryingUploadRewindsSeekableContent(t *testing.T) {
	inner := &MockProvider{}
	inner.On("Upload", mock.Anything, "doc.txt", mock.Anything, mock.Anything).Return(nil, connErr()).Once()
	inner.On("Upload", mock.Anything, "doc.txt", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// The reader must have been rewound for the second attempt.
			data, err := io.ReadAll(args.Get(2).(io.Reader))
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))
		}).
		Return(&interfaces.UploadResult{Path: "doc.txt", Size: 7}, nil).Once()

	p := WithRetry(inner, fastRetryPolicy())
	result, err := p.Upload(context.Background(), "doc.txt", bytes.NewReader([]byte("payload")), interfaces.UploadOptions{})

	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Size)
	inner.AssertExpectations(t)
}

func TestRetryingUploadExistingDestinationOnce(t *testing.T) {
	inner := &MockProvider{}
	exists := interfaces.NewStorageError(interfaces.ErrCodeAlreadyExists, "upload", "doc.txt", interfaces.ErrDestinationExists)
	inner.On("Upload", mock.Anything, "doc.txt", mock.Anything, mock.Anything).Return(nil, exists).Once()

	p := WithRetry(inner, fastRetryPolicy())
	_, err := p.Upload(context.Background(), "doc.txt", bytes.NewReader([]byte("payload")), interfaces.UploadOptions{NoOverwrite: true})

	assert.ErrorIs(t, err, interfaces.ErrDestinationExists)
	assert.False(t, interfaces.IsRetryable(err))
	inner.AssertNumberOfCalls(t, "Upload", 1)
}

func TestRetryingUploadOneShotStreamNotRetried(t *testing.T) {
	inner := &MockProvider{}
	inner.On("Upload", mock.Anything, "doc.txt", mock.Anything, mock.Anything).Return(nil, connErr()).Once()

	p := WithRetry(inner, fastRetryPolicy())
	// io.MultiReader hides the seekability of its parts.
	oneShot := io.MultiReader(strings.NewReader("payload"))
	_, err := p.Upload(context.Background(), "doc.txt", oneShot, interfaces.UploadOptions{})

	require.Error(t, err)
	inner.AssertNumberOfCalls(t, "Upload", 1)
}

func TestRetryingMoveNotRetried(t *testing.T) {
	inner := &MockProvider{}
	inner.On("Move", mock.Anything, "a", "b").Return(connErr()).Once()

	p := WithRetry(inner, fastRetryPolicy())
	err := p.Move(context.Background(), "a", "b")

	require.Error(t, err)
	inner.AssertNumberOfCalls(t, "Move", 1)
}

func TestRetryingDelegatesIdentity(t *testing.T) {
	inner := &MockProvider{}
	p := WithRetry(inner, fastRetryPolicy())

	assert.Equal(t, interfaces.BackendLocal, p.Backend())
	assert.Equal(t, "mock", p.Name())
}
