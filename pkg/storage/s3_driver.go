package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Driver is a CAS driver backed by Amazon S3, wiring aws-sdk-go-v2's S3
// client against the same objects/sha256/aa/bb/<hash> key layout the local
// driver uses, so a deployment can move between drivers without re-keying.
type S3Driver struct {
	client *s3.Client
	bucket string
}

// NewS3Driver constructs a driver over an already-configured S3 client.
func NewS3Driver(client *s3.Client, bucket string) *S3Driver {
	return &S3Driver{client: client, bucket: bucket}
}

func (d *S3Driver) PutFile(ctx context.Context, body io.Reader, contentType string) (PutResult, error) {
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

	out, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("storage: s3 put object: %w", err)
	}

	result := PutResult{StorageKey: key, SHA256: digest, Size: int64(len(buf))}
	if out.ETag != nil {
		result.StorageETag = *out.ETag
	}
	return result, nil
}

func (d *S3Driver) GetFileStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 get object %q: %w", key, err)
	}
	return out.Body, nil
}

func (d *S3Driver) HeadFile(ctx context.Context, key string) (Meta, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Meta{}, fmt.Errorf("storage: s3 head object %q: %w", key, err)
	}
	meta := Meta{}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ETag != nil {
		meta.StorageETag = *out.ETag
	}
	return meta, nil
}

func (d *S3Driver) DeleteFile(ctx context.Context, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: s3 delete object %q: %w", key, err)
	}
	return nil
}
