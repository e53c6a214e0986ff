package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LocalDriver is a filesystem-backed CAS driver using the canonical
// objects/sha256/aa/bb/<hash> layout.
type LocalDriver struct {
	baseDir string
	mu      sync.Mutex
}

// NewLocalDriver creates a CAS driver rooted at baseDir, creating it if
// necessary.
func NewLocalDriver(baseDir string) (*LocalDriver, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create base dir: %w", err)
	}
	return &LocalDriver{baseDir: baseDir}, nil
}

func (d *LocalDriver) PutFile(ctx context.Context, body io.Reader, contentType string) (PutResult, error) {
	tmp, err := os.CreateTemp(d.baseDir, "upload-*.tmp")
	if err != nil {
		return PutResult{}, fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once successfully renamed

	hr := newHashingReader(body)
	if _, err := io.Copy(tmp, hr); err != nil {
		tmp.Close()
		return PutResult{}, fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return PutResult{}, fmt.Errorf("storage: close temp file: %w", err)
	}

	digest := hr.SumHex()
	key := CanonicalKey(digest)
	finalPath := filepath.Join(d.baseDir, filepath.FromSlash(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(finalPath); err == nil {
		return PutResult{StorageKey: key, SHA256: digest, Size: hr.size}, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return PutResult{}, fmt.Errorf("storage: create object dir: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return PutResult{}, fmt.Errorf("storage: commit object: %w", err)
	}

	return PutResult{StorageKey: key, SHA256: digest, Size: hr.size}, nil
}

func (d *LocalDriver) GetFileStream(ctx context.Context, key string) (io.ReadCloser, error) {
	path := filepath.Join(d.baseDir, filepath.FromSlash(key))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: open object: %w", err)
	}
	return f, nil
}

func (d *LocalDriver) HeadFile(ctx context.Context, key string) (Meta, error) {
	path := filepath.Join(d.baseDir, filepath.FromSlash(key))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("storage: stat object: %w", err)
	}
	return Meta{Size: info.Size()}, nil
}

func (d *LocalDriver) DeleteFile(ctx context.Context, key string) error {
	path := filepath.Join(d.baseDir, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: delete object: %w", err)
	}
	return nil
}
