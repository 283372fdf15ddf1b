package interfaces

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BackendKind tags a concrete storage transport.
type BackendKind string

const (
	BackendLocal BackendKind = "local"
	BackendS3    BackendKind = "s3"
	BackendBlob  BackendKind = "azblob"
	BackendSFTP  BackendKind = "sftp"
)

// Valid reports whether the tag names a known backend.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendLocal, BackendS3, BackendBlob, BackendSFTP:
		return true
	default:
		return false
	}
}

// StorageLocation identifies a stored artifact: a backend tag plus the
// validated logical path within that backend's root. Immutable once assigned
// to a document.
type StorageLocation struct {
	Backend BackendKind
	Path    string
}

func (l StorageLocation) String() string {
	return fmt.Sprintf("%s://%s", l.Backend, l.Path)
}

// UploadOptions control a single Upload call.
type UploadOptions struct {
	// ContentType is stored as object metadata where the backend supports
	// it; empty means the backend default.
	ContentType string
	// Metadata carries caller-supplied key/value pairs for backends with
	// native object metadata. Ignored by backends without it.
	Metadata map[string]string
	// NoOverwrite rejects the upload with ErrDestinationExists when the
	// destination path already holds an object. Default is overwrite.
	NoOverwrite bool
}

// UploadResult reports what a successful Upload wrote. Both checksums are
// computed over the same byte stream used for the write.
type UploadResult struct {
	Path   string
	Size   int64
	MD5    string
	SHA256 string
	// ETag is the backend's own entity tag when it issues one.
	ETag string
}

// ObjectInfo describes a stored object. Checksum fields are populated only
// when the backend tracks them without re-reading the content.
type ObjectInfo struct {
	Path        string
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ContentType string
	MD5         string
	IsDir       bool
}

// ListOptions control a List call.
type ListOptions struct {
	// MaxResults caps the entries returned per page; 0 means the backend
	// default.
	MaxResults int
	// ContinuationToken resumes a prior listing. Backends with server-side
	// paging pass their native cursor through; the local backend simulates
	// one as an offset.
	ContinuationToken string
	// Recursive lists the whole subtree instead of a single level.
	Recursive bool
}

// ListResult is one page of a listing.
type ListResult struct {
	Entries   []ObjectInfo
	HasMore   bool
	NextToken string
}

// StorageProvider is the uniform contract every backend implements. Every
// path argument is a logical storage-relative path; providers validate it
// before any transport call and reject traversal with INVALID_PATH.
//
// All methods may suspend on I/O and honor context cancellation between
// transport calls. There is no mid-transfer cancellation contract: a caller
// that abandons an operation is responsible for cleaning up any partial
// write with a subsequent Delete.
type StorageProvider interface {
	// Upload writes content to path, creating intermediate directories or
	// prefixes as needed, and returns size, checksums and backend tag.
	Upload(ctx context.Context, path string, content io.Reader, opts UploadOptions) (*UploadResult, error)

	// Download returns the full object content, or NOT_FOUND.
	Download(ctx context.Context, path string) ([]byte, error)

	// Delete removes the object. Deleting an absent object reports
	// NOT_FOUND, never silent success, so callers can tell "already gone"
	// from "just removed".
	Delete(ctx context.Context, path string) error

	// Exists never errors for absence, only for connectivity failures.
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns object attributes, or NOT_FOUND.
	GetMetadata(ctx context.Context, path string) (*ObjectInfo, error)

	// List enumerates objects under prefix with cursor-based pagination.
	List(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error)

	// SignedURL issues a time-limited download URL. Backends without
	// native support fail with UNSUPPORTED_OPERATION and callers fall back
	// to a proxy-download path.
	SignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)

	// Copy duplicates source to destination within this backend.
	Copy(ctx context.Context, source, destination string) error

	// Move relocates source to destination. Where the backend has no
	// atomic rename across the path scope this is copy-then-delete; the
	// destination checksum is verified against the source before the
	// source is deleted, and on mismatch the destination is removed and
	// CHECKSUM_MISMATCH returned with the source intact.
	Move(ctx context.Context, source, destination string) error

	// CreateDirectory creates a directory or prefix marker. A no-op on
	// backends where directories are implicit.
	CreateDirectory(ctx context.Context, path string) error

	// Backend returns the tag identifying this provider's transport.
	Backend() BackendKind

	// Name returns an identifier for logging.
	Name() string
}

// StorageConfig is the tagged union selecting and parameterizing a backend.
// Exactly the variant matching Backend is consulted; the rest are ignored.
// Loaded once at process start and read-only for the process lifetime.
type StorageConfig struct {
	Backend BackendKind

	Local *LocalConfig
	S3    *S3Config
	Blob  *BlobConfig
	SFTP  *SFTPConfig
}

// LocalConfig parameterizes the local-filesystem backend.
type LocalConfig struct {
	BasePath string
	// CreateDirectories creates the base path at construction when absent.
	CreateDirectories bool
}

// S3Config parameterizes the object-store backend.
type S3Config struct {
	Region               string
	Bucket               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string
	PathPrefix           string
	ServerSideEncryption string
	StorageClass         string
}

// BlobConfig parameterizes the blob-store backend.
type BlobConfig struct {
	AccountName      string
	Container        string
	AccountKey       string
	ConnectionString string
	PathPrefix       string
	Tier             string
}

// SFTPConfig parameterizes the SFTP backend.
type SFTPConfig struct {
	Host              string
	Port              int
	Username          string
	BasePath          string
	Password          string
	PrivateKey        []byte
	Passphrase        []byte
	ConnectionTimeout time.Duration
	KeepaliveInterval time.Duration
	// MaxConnections bounds the connection pool; 0 means the default.
	MaxConnections int
}
