package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSDriver is a CAS driver backed by Google Cloud Storage, wiring
// cloud.google.com/go/storage against the shared objects/sha256/aa/bb/<hash>
// key layout.
type GCSDriver struct {
	client *storage.Client
	bucket string
}

// NewGCSDriver constructs a driver over an already-configured GCS client.
func NewGCSDriver(client *storage.Client, bucket string) *GCSDriver {
	return &GCSDriver{client: client, bucket: bucket}
}

func (d *GCSDriver) PutFile(ctx context.Context, body io.Reader, contentType string) (PutResult, error) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return PutResult{}, fmt.Errorf("storage: read body: %w", err)
	}

	hr := newHashingReader(bytes.NewReader(buf))
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return PutResult{}, fmt.Errorf("storage: hash body: %w", err)
	}
	digest := hr.SumHex()
	key := CanonicalKey(digest)

	obj := d.client.Bucket(d.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(buf); err != nil {
		w.Close()
		return PutResult{}, fmt.Errorf("storage: gcs write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return PutResult{}, fmt.Errorf("storage: gcs commit object: %w", err)
	}

	return PutResult{StorageKey: key, SHA256: digest, Size: int64(len(buf))}, nil
}

func (d *GCSDriver) GetFileStream(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := d.client.Bucket(d.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: gcs read object %q: %w", key, err)
	}
	return r, nil
}

func (d *GCSDriver) HeadFile(ctx context.Context, key string) (Meta, error) {
	attrs, err := d.client.Bucket(d.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("storage: gcs attrs %q: %w", key, err)
	}
	return Meta{Size: attrs.Size, StorageETag: attrs.Etag}, nil
}

func (d *GCSDriver) DeleteFile(ctx context.Context, key string) error {
	if err := d.client.Bucket(d.bucket).Object(key).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return ErrNotFound
		}
		return fmt.Errorf("storage: gcs delete object %q: %w", key, err)
	}
	return nil
}
