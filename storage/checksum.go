package storage

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Digest holds the two content checksums kept for every stored artifact.
// MD5 matches what object stores report as a simple ETag; SHA-256 is the
// integrity checksum.
type Digest struct {
	MD5    string
	SHA256 string
}

// DigestWriter computes both checksums over whatever is written through it.
// Providers tee uploads through a DigestWriter so the digests cover exactly
// the bytes sent to the backend, without a second read pass.
type DigestWriter struct {
	md5    hash.Hash
	sha256 hash.Hash
	size   int64
}

// NewDigestWriter returns a ready DigestWriter.
func NewDigestWriter() *DigestWriter {
	return &DigestWriter{md5: md5.New(), sha256: sha256.New()}
}

func (w *DigestWriter) Write(p []byte) (int, error) {
	w.md5.Write(p)
	w.sha256.Write(p)
	w.size += int64(len(p))
	return len(p), nil
}

// Sum returns the hex-encoded digests of everything written so far.
func (w *DigestWriter) Sum() Digest {
	return Digest{
		MD5:    hex.EncodeToString(w.md5.Sum(nil)),
		SHA256: hex.EncodeToString(w.sha256.Sum(nil)),
	}
}

// Size returns the number of bytes written.
func (w *DigestWriter) Size() int64 {
	return w.size
}

// DigestBytes computes both checksums of data in one pass.
func DigestBytes(data []byte) Digest {
	m := md5.Sum(data)
	s := sha256.Sum256(data)
	return Digest{
		MD5:    hex.EncodeToString(m[:]),
		SHA256: hex.EncodeToString(s[:]),
	}
}

// DigestReader drains r, returning the digests and the byte count.
func DigestReader(r io.Reader) (Digest, int64, error) {
	w := NewDigestWriter()
	n, err := io.Copy(w, r)
	if err != nil {
		return Digest{}, n, err
	}
	return w.Sum(), n, nil
}
