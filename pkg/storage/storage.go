// Package storage implements Latchflow's content-addressed storage
// service: idempotent content-hash-keyed blob persistence behind a
// pluggable Driver, plus optional AES-256-GCM stream encryption wrappers and
// signed, time-bounded release links.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by LocalDriver and GCSDriver when a key has no
// corresponding blob. S3Driver does not map missing keys to it: Get and Head
// return the wrapped SDK error, and Delete of a missing key succeeds.
var ErrNotFound = errors.New("storage: object not found")

// PutResult is returned by Driver.PutFile.
type PutResult struct {
	StorageKey  string
	SHA256      string
	StorageETag string
	Size        int64
}

// Meta is returned by Driver.HeadFile.
type Meta struct {
	Size        int64
	StorageETag string
}

// Driver is the pluggable backend a Service delegates to. Implementations:
// LocalDriver (filesystem), S3Driver, GCSDriver.
type Driver interface {
	PutFile(ctx context.Context, body io.Reader, contentType string) (PutResult, error)
	GetFileStream(ctx context.Context, key string) (io.ReadCloser, error)
	HeadFile(ctx context.Context, key string) (Meta, error)
	DeleteFile(ctx context.Context, key string) error
}

// Service wraps a Driver with the CAS key-layout convention and
// release-link issuance.
type Service struct {
	driver Driver
	links  *LinkSigner
}

// NewService constructs a Service over driver. links may be nil if release
// links are not needed (e.g. a plugin-only deployment).
func NewService(driver Driver, links *LinkSigner) *Service {
	return &Service{driver: driver, links: links}
}

// PutFile persists body and returns its content-addressed key. Idempotent:
// identical bytes always resolve to the same storageKey.
func (s *Service) PutFile(ctx context.Context, body io.Reader, contentType string) (PutResult, error) {
	return s.driver.PutFile(ctx, body, contentType)
}

// GetFileStream returns a readable stream for key.
func (s *Service) GetFileStream(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.driver.GetFileStream(ctx, key)
}

// HeadFile returns existence/metadata for key.
func (s *Service) HeadFile(ctx context.Context, key string) (Meta, error) {
	return s.driver.HeadFile(ctx, key)
}

// DeleteFile removes key.
func (s *Service) DeleteFile(ctx context.Context, key string) error {
	return s.driver.DeleteFile(ctx, key)
}

// CreateReleaseLink signs a time-bounded release-link token for a bundle
// download and returns the token itself, not a URL. The core treats the
// token as opaque; LinkSigner.Verify checks it, but no portal route calls
// Verify.
func (s *Service) CreateReleaseLink(bundleID, recipientID string, ttlSeconds int) (string, error) {
	if s.links == nil {
		return "", fmt.Errorf("storage: release links not configured")
	}
	return s.links.Sign(bundleID, recipientID, ttlSeconds)
}

// CanonicalKey returns the canonical CAS layout path for a hex sha256 digest:
// objects/sha256/<first two hex chars>/<next two hex chars>/<full hash>.
func CanonicalKey(hexDigest string) string {
	if len(hexDigest) < 4 {
		return "objects/sha256/" + hexDigest
	}
	return fmt.Sprintf("objects/sha256/%s/%s/%s", hexDigest[0:2], hexDigest[2:4], hexDigest)
}

// hashingReader computes a running sha256 digest while proxying Reads, so a
// driver can hash a stream in a single pass while writing it out.
type hashingReader struct {
	r io.Reader
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
	size int64
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: sha256.New()}
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
		h.size += int64(n)
	}
	return n, err
}

func (h *hashingReader) SumHex() string {
	return hex.EncodeToString(h.h.Sum(nil))
}
