package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/kardia-systems/docvault/interfaces"
)

// BlobProvider implements StorageProvider over an Azure-style blob store.
// Logical paths are confined by name-prefixing under the configured
// PathPrefix.
type BlobProvider struct {
	client    *azblob.Client
	container string
	prefix    string
	tier      *blob.AccessTier
	log       *slog.Logger
}

// NewBlobProvider creates a blob provider from the config. A connection
// string takes precedence over account name + key.
func NewBlobProvider(cfg *interfaces.BlobConfig, log *slog.Logger) (*BlobProvider, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("blob store: container is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		}
	default:
		return nil, fmt.Errorf("blob store: account_name+account_key or connection_string is required")
	}
	if err != nil {
		return nil, fmt.Errorf("blob store: create client: %w", err)
	}

	p := &BlobProvider{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.PathPrefix, "/"),
		log:       log,
	}
	if cfg.Tier != "" {
		tier := blob.AccessTier(cfg.Tier)
		p.tier = &tier
	}
	return p, nil
}

func (p *BlobProvider) blobName(logical string) (string, string, error) {
	cleaned, err := CleanPath(logical)
	if err != nil {
		return "", "", err
	}
	return joinPrefix(p.prefix, cleaned), cleaned, nil
}

func (p *BlobProvider) blobClient(name string) *blob.Client {
	return p.client.ServiceClient().NewContainerClient(p.container).NewBlobClient(name)
}

func (p *BlobProvider) Upload(ctx context.Context, logical string, content io.Reader, opts interfaces.UploadOptions) (*interfaces.UploadResult, error) {
	name, cleaned, err := p.blobName(logical)
	if err != nil {
		return nil, err
	}

	if opts.NoOverwrite {
		if exists, err := p.existsBlob(ctx, name, cleaned); err != nil {
			return nil, err
		} else if exists {
			return nil, interfaces.NewStorageError(interfaces.ErrCodeAlreadyExists, "upload", cleaned, interfaces.ErrDestinationExists)
		}
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeUnknown, "upload", cleaned, err)
	}
	sum := DigestBytes(data)
	md5Raw, err := hex.DecodeString(sum.MD5)
	if err != nil {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeUnknown, "upload", cleaned, err)
	}

	// The MD5 is stored as the blob Content-MD5 so later copy verification
	// can read it back from properties without re-downloading.
	headers := blob.HTTPHeaders{BlobContentMD5: md5Raw}
	if opts.ContentType != "" {
		headers.BlobContentType = to.Ptr(opts.ContentType)
	}
	uploadOpts := &azblob.UploadBufferOptions{
		HTTPHeaders: &headers,
		AccessTier:  p.tier,
	}
	if len(opts.Metadata) > 0 {
		uploadOpts.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			uploadOpts.Metadata[k] = to.Ptr(v)
		}
	}

	resp, err := p.client.UploadBuffer(ctx, p.container, name, data, uploadOpts)
	if err != nil {
		return nil, classifyBlobError("upload", cleaned, err)
	}

	p.log.Debug("stored blob",
		slog.String("container", p.container),
		slog.String("blob", name),
		slog.Int("size", len(data)))

	result := &interfaces.UploadResult{
		Path:   cleaned,
		Size:   int64(len(data)),
		MD5:    sum.MD5,
		SHA256: sum.SHA256,
	}
	if resp.ETag != nil {
		result.ETag = string(*resp.ETag)
	}
	return result, nil
}

func (p *BlobProvider) Download(ctx context.Context, logical string) ([]byte, error) {
	name, cleaned, err := p.blobName(logical)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.DownloadStream(ctx, p.container, name, nil)
	if err != nil {
		return nil, classifyBlobError("download", cleaned, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, interfaces.NewStorageError(interfaces.ErrCodeConnection, "download", cleaned, err)
	}
	return data, nil
}

func (p *BlobProvider) Delete(ctx context.Context, logical string) error {
	name, cleaned, err := p.blobName(logical)
	if err != nil {
		return err
	}

	if _, err := p.client.DeleteBlob(ctx, p.container, name, nil); err != nil {
		return classifyBlobError("delete", cleaned, err)
	}
	return nil
}

func (p *BlobProvider) Exists(ctx context.Context, logical string) (bool, error) {
	name, cleaned, err := p.blobName(logical)
	if err != nil {
		return false, err
	}
	return p.existsBlob(ctx, name, cleaned)
}

func (p *BlobProvider) existsBlob(ctx context.Context, name, cleaned string) (bool, error) {
	_, err := p.blobClient(name).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, classifyBlobError("exists", cleaned, err)
}

func (p *BlobProvider) GetMetadata(ctx context.Context, logical string) (*interfaces.ObjectInfo, error) {
	name, cleaned, err := p.blobName(logical)
	if err != nil {
		return nil, err
	}

	props, err := p.blobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return nil, classifyBlobError("metadata", cleaned, err)
	}

	info := &interfaces.ObjectInfo{Path: cleaned}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.CreationTime != nil {
		info.CreatedAt = *props.CreationTime
	}
	if props.LastModified != nil {
		info.ModifiedAt = *props.LastModified
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	if len(props.ContentMD5) > 0 {
		info.MD5 = hex.EncodeToString(props.ContentMD5)
	}
	return info, nil
}

func (p *BlobProvider) List(ctx context.Context, prefix string, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	cleaned, err := CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	namePrefix := joinPrefix(p.prefix, cleaned)
	if namePrefix != "" {
		namePrefix += "/"
	}

	var maxResults *int32
	if opts.MaxResults > 0 {
		maxResults = to.Ptr(int32(opts.MaxResults))
	}
	var marker *string
	if opts.ContinuationToken != "" {
		marker = to.Ptr(opts.ContinuationToken)
	}

	result := &interfaces.ListResult{}
	strip := p.prefix

	if opts.Recursive {
		pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
			Prefix:     to.Ptr(namePrefix),
			Marker:     marker,
			MaxResults: maxResults,
		})
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyBlobError("list", cleaned, err)
		}
		for _, item := range page.Segment.BlobItems {
			result.Entries = append(result.Entries, blobItemInfo(strip, item.Name, item.Properties))
		}
		if page.NextMarker != nil && *page.NextMarker != "" {
			result.HasMore = true
			result.NextToken = *page.NextMarker
		}
		return result, nil
	}

	containerClient := p.client.ServiceClient().NewContainerClient(p.container)
	pager := containerClient.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix:     to.Ptr(namePrefix),
		Marker:     marker,
		MaxResults: maxResults,
	})
	page, err := pager.NextPage(ctx)
	if err != nil {
		return nil, classifyBlobError("list", cleaned, err)
	}
	for _, item := range page.Segment.BlobItems {
		result.Entries = append(result.Entries, blobItemInfo(strip, item.Name, item.Properties))
	}
	for _, pfx := range page.Segment.BlobPrefixes {
		if pfx.Name == nil {
			continue
		}
		result.Entries = append(result.Entries, interfaces.ObjectInfo{
			Path:  strings.TrimSuffix(stripPrefix(strip, *pfx.Name), "/"),
			IsDir: true,
		})
	}
	if page.NextMarker != nil && *page.NextMarker != "" {
		result.HasMore = true
		result.NextToken = *page.NextMarker
	}
	return result, nil
}

func (p *BlobProvider) SignedURL(ctx context.Context, logical string, expiry time.Duration) (string, error) {
	name, cleaned, err := p.blobName(logical)
	if err != nil {
		return "", err
	}

	url, err := p.blobClient(name).GetSASURL(
		sas.BlobPermissions{Read: true},
		time.Now().UTC().Add(expiry),
		nil,
	)
	if err != nil {
		return "", classifyBlobError("signed-url", cleaned, err)
	}
	return url, nil
}

// Copy downloads and re-uploads the blob. Server-side copy needs a
// source SAS URL and asynchronous status polling; a client-side copy keeps
// the checksum handling uniform with upload.
func (p *BlobProvider) Copy(ctx context.Context, source, destination string) error {
	_, srcClean, err := p.blobName(source)
	if err != nil {
		return err
	}
	if _, _, err := p.blobName(destination); err != nil {
		return err
	}

	data, err := p.Download(ctx, source)
	if err != nil {
		return err
	}

	srcProps, err := p.GetMetadata(ctx, source)
	if err != nil {
		return err
	}
	_, err = p.Upload(ctx, destination, bytes.NewReader(data), interfaces.UploadOptions{
		ContentType: srcProps.ContentType,
	})
	if err != nil {
		return interfaces.NewStorageError(interfaces.CodeOf(err), "copy", srcClean, err)
	}
	return nil
}

func (p *BlobProvider) Move(ctx context.Context, source, destination string) error {
	return verifiedMove(ctx, p, source, destination)
}

// CreateDirectory is a no-op: blob namespaces have no directories and
// prefixes come into existence with their first blob.
func (p *BlobProvider) CreateDirectory(ctx context.Context, logical string) error {
	_, _, err := p.blobName(logical)
	return err
}

func (p *BlobProvider) Backend() interfaces.BackendKind {
	return interfaces.BackendBlob
}

func (p *BlobProvider) Name() string {
	return fmt.Sprintf("azblob-%s", p.container)
}

// contentDigest reads the Content-MD5 property set at upload; blobs written
// by other tools without one fall back to re-reading.
func (p *BlobProvider) contentDigest(ctx context.Context, logical string) (Digest, error) {
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

func blobItemInfo(strip string, name *string, props *container.BlobProperties) interfaces.ObjectInfo {
	info := interfaces.ObjectInfo{}
	if name != nil {
		info.Path = stripPrefix(strip, *name)
	}
	if props != nil {
		if props.ContentLength != nil {
			info.Size = *props.ContentLength
		}
		if props.CreationTime != nil {
			info.CreatedAt = *props.CreationTime
		}
		if props.LastModified != nil {
			info.ModifiedAt = *props.LastModified
		}
		if props.ContentType != nil {
			info.ContentType = *props.ContentType
		}
		if len(props.ContentMD5) > 0 {
			info.MD5 = hex.EncodeToString(props.ContentMD5)
		}
	}
	return info
}

func stripPrefix(strip, name string) string {
	if strip == "" {
		return name
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, strip), "/")
}

// classifyBlobError maps Azure SDK errors onto the shared taxonomy.
func classifyBlobError(op, path string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, op, path, err)
	}
	if bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions) {
		return interfaces.NewStorageError(interfaces.ErrCodePermission, op, path, err)
	}
	if bloberror.HasCode(err, bloberror.ServerBusy) {
		return interfaces.NewStorageError(interfaces.ErrCodeQuotaExceeded, op, path, err)
	}
	if bloberror.HasCode(err, bloberror.OperationTimedOut) {
		return interfaces.NewStorageError(interfaces.ErrCodeTimeout, op, path, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 404:
			return interfaces.NewStorageError(interfaces.ErrCodeNotFound, op, path, err)
		case respErr.StatusCode == 403:
			return interfaces.NewStorageError(interfaces.ErrCodePermission, op, path, err)
		case respErr.StatusCode == 429:
			return interfaces.NewStorageError(interfaces.ErrCodeQuotaExceeded, op, path, err)
		case respErr.StatusCode >= 500:
			return interfaces.NewStorageError(interfaces.ErrCodeConnection, op, path, err)
		}
	}

	return interfaces.NewStorageError(interfaces.ErrCodeUnknown, op, path, err)
}
