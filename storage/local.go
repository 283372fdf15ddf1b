package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kardia-systems/docvault/interfaces"
)

const defaultListPageSize = 1000

// LocalProvider implements StorageProvider over a directory on the local
// filesystem. Every logical path is validated and then resolved strictly
// inside the configured base path.
type LocalProvider struct {
	basePath string
	log      *slog.Logger
}

// NewLocalProvider creates a local filesystem provider rooted at
// cfg.BasePath. With CreateDirectories set the root is created when absent;
// otherwise a missing root is an error.
func NewLocalProvider(cfg *interfaces.LocalConfig, log *slog.Logger) (*LocalProvider, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage: base path is required")
	}

	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve base path: %w", err)
	}

	if cfg.CreateDirectories {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("local storage: create base path: %w", err)
		}
	} else if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("local storage: base path unavailable: %w", err)
	}

	return &LocalProvider{basePath: base, log: log}, nil
}

// resolve validates the logical path and maps it under the base directory.
func (p *LocalProvider) resolve(logical string) (string, string, error) {
	cleaned, err := CleanPath(logical)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(p.basePath, filepath.FromSlash(cleaned)), cleaned, nil
}

func (p *LocalProvider) Upload(ctx context.Context, logical string, content io.Reader, opts interfaces.UploadOptions) (*interfaces.UploadResult, error) {
	full, cleaned, err := p.resolve(logical)
	if err != nil {
		return nil, err
	}

	if opts.NoOverwrite {
		if _, err := os.Stat(full); err == nil {
			return nil, interfaces.NewStorageError(interfaces.ErrCodeAlreadyExists, "upload", cleaned, interfaces.ErrDestinationExists)
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, classifyFSError("upload", cleaned, err)
	}

	f, err := os.Create(full)
	if err != nil {
		return nil, classifyFSError("upload", cleaned, err)
	}

	digests := NewDigestWriter()
	_, err = io.Copy(io.MultiWriter(f, digests), content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, classifyFSError("upload", cleaned, err)
	}

	sum := digests.Sum()
	p.log.Debug("stored local file",
		slog.String("path", cleaned),
		slog.Int64("size", digests.Size()))

	return &interfaces.UploadResult{
		Path:   cleaned,
		Size:   digests.Size(),
		MD5:    sum.MD5,
		SHA256: sum.SHA256,
	}, nil
}

func (p *LocalProvider) Download(ctx context.Context, logical string) ([]byte, error) {
	full, cleaned, err := p.resolve(logical)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, classifyFSError("download", cleaned, err)
	}
	return data, nil
}

func (p *LocalProvider) Delete(ctx context.Context, logical string) error {
	full, cleaned, err := p.resolve(logical)
	if err != nil {
		return err
	}

	info, err := os.Stat(full)
	if err != nil {
		return classifyFSError("delete", cleaned, err)
	}
	if info.IsDir() {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, "delete", cleaned, nil)
	}
	if err := os.Remove(full); err != nil {
		return classifyFSError("delete", cleaned, err)
	}
	return nil
}

func (p *LocalProvider) Exists(ctx context.Context, logical string) (bool, error) {
	full, _, err := p.resolve(logical)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, classifyFSError("exists", logical, err)
	}
	return true, nil
}

func (p *LocalProvider) GetMetadata(ctx context.Context, logical string) (*interfaces.ObjectInfo, error) {
	full, cleaned, err := p.resolve(logical)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, classifyFSError("metadata", cleaned, err)
	}

	return &interfaces.ObjectInfo{
		Path: cleaned,
		Size: info.Size(),
		// The filesystem does not keep a portable creation time.
		CreatedAt:   info.ModTime(),
		ModifiedAt:  info.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(cleaned)),
		IsDir:       info.IsDir(),
	}, nil
}

// List walks the subtree under prefix. Pagination is simulated with an
// offset token over the sorted file list, mirroring the cursor contract of
// the remote backends.
func (p *LocalProvider) List(ctx context.Context, prefix string, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	cleaned, err := CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	root := p.basePath
	if cleaned != "" {
		root = filepath.Join(p.basePath, filepath.FromSlash(cleaned))
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return &interfaces.ListResult{}, nil
	}

	var paths []string
	if opts.Recursive {
		err = filepath.WalkDir(root, func(fp string, d fs.DirEntry, werr error) error {
			if werr != nil {
				return werr
			}
			if !d.IsDir() {
				rel, rerr := filepath.Rel(p.basePath, fp)
				if rerr != nil {
					return rerr
				}
				paths = append(paths, filepath.ToSlash(rel))
			}
			return nil
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(root)
		for _, e := range entries {
			if !e.IsDir() {
				paths = append(paths, joinPrefix(cleaned, e.Name()))
			}
		}
	}
	if err != nil {
		return nil, classifyFSError("list", cleaned, err)
	}
	sort.Strings(paths)

	offset := 0
	if opts.ContinuationToken != "" {
		offset, err = strconv.Atoi(opts.ContinuationToken)
		if err != nil || offset < 0 {
			return nil, interfaces.NewStorageError(interfaces.ErrCodeInvalidPath, "list", opts.ContinuationToken, fmt.Errorf("bad continuation token"))
		}
	}
	if offset > len(paths) {
		offset = len(paths)
	}

	pageSize := opts.MaxResults
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	end := offset + pageSize
	if end > len(paths) {
		end = len(paths)
	}

	result := &interfaces.ListResult{HasMore: end < len(paths)}
	for _, lp := range paths[offset:end] {
		info, serr := os.Stat(filepath.Join(p.basePath, filepath.FromSlash(lp)))
		if serr != nil {
			continue
		}
		result.Entries = append(result.Entries, interfaces.ObjectInfo{
			Path:       lp,
			Size:       info.Size(),
			CreatedAt:  info.ModTime(),
			ModifiedAt: info.ModTime(),
		})
	}
	if result.HasMore {
		result.NextToken = strconv.Itoa(end)
	}
	return result, nil
}

// SignedURL is not supported on the local filesystem; callers fall back to a
// proxy download.
func (p *LocalProvider) SignedURL(ctx context.Context, logical string, expiry time.Duration) (string, error) {
	return "", interfaces.NewStorageError(interfaces.ErrCodeUnsupported, "signed-url", logical, nil)
}

func (p *LocalProvider) Copy(ctx context.Context, source, destination string) error {
	srcFull, srcClean, err := p.resolve(source)
	if err != nil {
		return err
	}
	dstFull, dstClean, err := p.resolve(destination)
	if err != nil {
		return err
	}

	src, err := os.Open(srcFull)
	if err != nil {
		return classifyFSError("copy", srcClean, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return classifyFSError("copy", dstClean, err)
	}
	dst, err := os.Create(dstFull)
	if err != nil {
		return classifyFSError("copy", dstClean, err)
	}

	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return classifyFSError("copy", dstClean, err)
	}
	return nil
}

func (p *LocalProvider) Move(ctx context.Context, source, destination string) error {
	return verifiedMove(ctx, p, source, destination)
}

func (p *LocalProvider) CreateDirectory(ctx context.Context, logical string) error {
	full, cleaned, err := p.resolve(logical)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return classifyFSError("mkdir", cleaned, err)
	}
	return nil
}

func (p *LocalProvider) Backend() interfaces.BackendKind {
	return interfaces.BackendLocal
}

func (p *LocalProvider) Name() string {
	return fmt.Sprintf("local-%s", filepath.Base(p.basePath))
}

func (p *LocalProvider) contentDigest(ctx context.Context, logical string) (Digest, error) {
	full, cleaned, err := p.resolve(logical)
	if err != nil {
		return Digest{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		return Digest{}, classifyFSError("digest", cleaned, err)
	}
	defer f.Close()
	sum, _, err := DigestReader(f)
	if err != nil {
		return Digest{}, classifyFSError("digest", cleaned, err)
	}
	return sum, nil
}

// classifyFSError maps filesystem errors onto the shared taxonomy.
func classifyFSError(op, path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, op, path, err)
	case os.IsPermission(err):
		return interfaces.NewStorageError(interfaces.ErrCodePermission, op, path, err)
	default:
		return interfaces.NewStorageError(interfaces.ErrCodeUnknown, op, path, err)
	}
}
