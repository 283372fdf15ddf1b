package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/kardia-systems/docvault/interfaces"
)

// ObjectStoreProvider implements StorageProvider over an S3-compatible
// object store. Logical paths are confined by key-prefixing under the
// configured PathPrefix.
type ObjectStoreProvider struct {
	client       *s3.S3
	bucket       string
	prefix       string
	sse          string
	storageClass string
	log          *slog.Logger
}

// NewObjectStoreProvider creates an object-store provider from the config.
// With no static credentials the SDK's default chain (environment, shared
// profile, instance role) applies.
func NewObjectStoreProvider(cfg *interfaces.S3Config, log *slog.Logger) (*ObjectStoreProvider, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("object store: region and bucket are required")
	}

	awsCfg := aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("object store: create session: %w", err)
	}

	return &ObjectStoreProvider{
		client:       s3.New(sess),
		bucket:       cfg.Bucket,
		prefix:       strings.Trim(cfg.PathPrefix, "/"),
		sse:          cfg.ServerSideEncryption,
		storageClass: cfg.StorageClass,
		log:          log,
	}, nil
}

func (p *ObjectStoreProvider) key(logical string) (string, string, error) {
	cleaned, err := CleanPath(logical)
	if err != nil {
		return "", "", err
	}
	return joinPrefix(p.prefix, cleaned), cleaned, nil
}

func (p *ObjectStoreProvider) Upload(ctx context.Context, logical string, content io.Reader, opts interfaces.UploadOptions) (*interfaces.UploadResult, error) {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return nil, err
	}

	if opts.NoOverwrite {
		if exists, err := p.headExists(ctx, key, cleaned); err != nil {
			return nil, err
		} else if exists {
			return nil, interfaces.NewStorageError(interfaces.ErrCodeAlreadyExists, "upload", cleaned, interfaces.ErrDestinationExists)
		}
	}

	// PutObject needs a seekable body, so the stream is buffered once and
	// the digests are computed from the same buffer that is sent.
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeUnknown, "upload", cleaned, err)
	}
	sum := DigestBytes(data)

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			input.Metadata[k] = aws.String(v)
		}
	}
	if p.sse != "" {
		input.ServerSideEncryption = aws.String(p.sse)
	}
	if p.storageClass != "" {
		input.StorageClass = aws.String(p.storageClass)
	}

	out, err := p.client.PutObjectWithContext(ctx, input)
	if err != nil {
		return nil, classifyS3Error("upload", cleaned, err)
	}

	p.log.Debug("stored object",
		slog.String("bucket", p.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)))

	return &interfaces.UploadResult{
		Path:   cleaned,
		Size:   int64(len(data)),
		MD5:    sum.MD5,
		SHA256: sum.SHA256,
		ETag:   aws.StringValue(out.ETag),
	}, nil
}

func (p *ObjectStoreProvider) Download(ctx context.Context, logical string) ([]byte, error) {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return nil, err
	}

	out, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error("download", cleaned, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeConnection, "download", cleaned, err)
	}
	return data, nil
}

// Delete heads the key first: S3 deletes report success for absent keys, and
// the contract requires NOT_FOUND for "already gone".
func (p *ObjectStoreProvider) Delete(ctx context.Context, logical string) error {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return err
	}

	exists, err := p.headExists(ctx, key, cleaned)
	if err != nil {
		return err
	}
	if !exists {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, "delete", cleaned, nil)
	}

	_, err = p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error("delete", cleaned, err)
	}
	return nil
}

func (p *ObjectStoreProvider) Exists(ctx context.Context, logical string) (bool, error) {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return false, err
	}
	return p.headExists(ctx, key, cleaned)
}

func (p *ObjectStoreProvider) headExists(ctx context.Context, key, cleaned string) (bool, error) {
	_, err := p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, classifyS3Error("exists", cleaned, err)
}

func (p *ObjectStoreProvider) GetMetadata(ctx context.Context, logical string) (*interfaces.ObjectInfo, error) {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return nil, err
	}

	out, err := p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error("metadata", cleaned, err)
	}

	info := &interfaces.ObjectInfo{
		Path:        cleaned,
		Size:        aws.Int64Value(out.ContentLength),
		ContentType: aws.StringValue(out.ContentType),
	}
	if out.LastModified != nil {
		info.ModifiedAt = *out.LastModified
		info.CreatedAt = *out.LastModified
	}
	if md5 := etagMD5(aws.StringValue(out.ETag)); md5 != "" {
		info.MD5 = md5
	}
	return info, nil
}

func (p *ObjectStoreProvider) List(ctx context.Context, prefix string, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	cleaned, err := CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	keyPrefix := joinPrefix(p.prefix, cleaned)
	if keyPrefix != "" {
		keyPrefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(keyPrefix),
	}
	if !opts.Recursive {
		input.Delimiter = aws.String("/")
	}
	if opts.MaxResults > 0 {
		input.MaxKeys = aws.Int64(int64(opts.MaxResults))
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := p.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return nil, classifyS3Error("list", cleaned, err)
	}

	result := &interfaces.ListResult{
		HasMore:   aws.BoolValue(out.IsTruncated),
		NextToken: aws.StringValue(out.NextContinuationToken),
	}
	strip := strings.Trim(p.prefix, "/")
	for _, obj := range out.Contents {
		key := aws.StringValue(obj.Key)
		if strings.HasSuffix(key, "/") {
			continue // prefix marker
		}
		logical := key
		if strip != "" {
			logical = strings.TrimPrefix(strings.TrimPrefix(key, strip), "/")
		}
		entry := interfaces.ObjectInfo{
			Path: logical,
			Size: aws.Int64Value(obj.Size),
			MD5:  etagMD5(aws.StringValue(obj.ETag)),
		}
		if obj.LastModified != nil {
			entry.ModifiedAt = *obj.LastModified
			entry.CreatedAt = *obj.LastModified
		}
		result.Entries = append(result.Entries, entry)
	}
	for _, cp := range out.CommonPrefixes {
		key := aws.StringValue(cp.Prefix)
		logical := key
		if strip != "" {
			logical = strings.TrimPrefix(strings.TrimPrefix(key, strip), "/")
		}
		result.Entries = append(result.Entries, interfaces.ObjectInfo{
			Path:  strings.TrimSuffix(logical, "/"),
			IsDir: true,
		})
	}
	return result, nil
}

func (p *ObjectStoreProvider) SignedURL(ctx context.Context, logical string, expiry time.Duration) (string, error) {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return "", err
	}

	req, _ := p.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiry)
	if err != nil {
		return "", classifyS3Error("signed-url", cleaned, err)
	}
	return url, nil
}

func (p *ObjectStoreProvider) Copy(ctx context.Context, source, destination string) error {
	srcKey, srcClean, err := p.key(source)
	if err != nil {
		return err
	}
	dstKey, _, err := p.key(destination)
	if err != nil {
		return err
	}

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(p.bucket + "/" + srcKey),
	}
	if p.sse != "" {
		input.ServerSideEncryption = aws.String(p.sse)
	}
	if _, err := p.client.CopyObjectWithContext(ctx, input); err != nil {
		return classifyS3Error("copy", srcClean, err)
	}
	return nil
}

// Move has no atomic rename on an object store, so it is copy, verify,
// delete-source.
func (p *ObjectStoreProvider) Move(ctx context.Context, source, destination string) error {
	return verifiedMove(ctx, p, source, destination)
}

// CreateDirectory writes a zero-byte prefix marker; directories are implicit
// on an object store.
func (p *ObjectStoreProvider) CreateDirectory(ctx context.Context, logical string) error {
	key, cleaned, err := p.key(logical)
	if err != nil {
		return err
	}
	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key + "/"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return classifyS3Error("mkdir", cleaned, err)
	}
	return nil
}

func (p *ObjectStoreProvider) Backend() interfaces.BackendKind {
	return interfaces.BackendS3
}

func (p *ObjectStoreProvider) Name() string {
	return fmt.Sprintf("s3-%s", p.bucket)
}

// contentDigest prefers the ETag, which is the object MD5 unless the object
// was written multipart; multipart ETags fall back to re-reading.
func (p *ObjectStoreProvider) contentDigest(ctx context.Context, logical string) (Digest, error) {
	info, err := p.GetMetadata(ctx, logical)
	if err != nil {
		return Digest{}, err
	}
	if info.MD5 != "" {
		return Digest{MD5: info.MD5}, nil
	}
	data, err := p.Download(ctx, logical)
	if err != nil {
		return Digest{}, err
	}
	return DigestBytes(data), nil
}

// etagMD5 strips the quoting from a simple ETag. Multipart ETags carry a
// part-count suffix and are not content MD5s.
func etagMD5(etag string) string {
	etag = strings.Trim(etag, `"`)
	if etag == "" || strings.Contains(etag, "-") {
		return ""
	}
	return etag
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	var rerr awserr.RequestFailure
	if errors.As(err, &rerr) {
		return rerr.StatusCode() == http.StatusNotFound
	}
	return false
}

// classifyS3Error maps AWS SDK errors onto the shared taxonomy.
func classifyS3Error(op, path string, err error) error {
	if isS3NotFound(err) {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, op, path, err)
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return interfaces.NewStorageError(interfaces.ErrCodePermission, op, path, err)
		case "Throttling", "ThrottlingException", "SlowDown", "TooManyRequests":
			return interfaces.NewStorageError(interfaces.ErrCodeQuotaExceeded, op, path, err)
		case request.CanceledErrorCode:
			return interfaces.NewStorageError(interfaces.ErrCodeTimeout, op, path, err)
		case request.ErrCodeRequestError, request.ErrCodeSerialization:
			return interfaces.NewStorageError(interfaces.ErrCodeConnection, op, path, err)
		}
	}

	var rerr awserr.RequestFailure
	if errors.As(err, &rerr) {
		switch {
		case rerr.StatusCode() == http.StatusForbidden:
			return interfaces.NewStorageError(interfaces.ErrCodePermission, op, path, err)
		case rerr.StatusCode() == http.StatusTooManyRequests:
			return interfaces.NewStorageError(interfaces.ErrCodeQuotaExceeded, op, path, err)
		case rerr.StatusCode() >= 500:
			return interfaces.NewStorageError(interfaces.ErrCodeConnection, op, path, err)
		}
	}

	return interfaces.NewStorageError(interfaces.ErrCodeUnknown, op, path, err)
}
