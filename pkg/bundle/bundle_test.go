package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/storage"
)

type memStore struct {
	storedDigest string
	objects      []Object
	fileKeys     map[string]string
	pointer      Pointer
}

func (m *memStore) GetBundle(ctx context.Context, bundleID string) (string, []Object, map[string]string, bool, error) {
	if bundleID == "missing" {
		return "", nil, nil, false, nil
	}
	return m.storedDigest, m.objects, m.fileKeys, true, nil
}

func (m *memStore) UpdatePointer(ctx context.Context, bundleID string, pointer Pointer) error {
	m.pointer = pointer
	return nil
}

func newTestService(t *testing.T) *storage.Service {
	t.Helper()
	drv, err := storage.NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	return storage.NewService(drv, nil)
}

func TestDigestDeterministicUnderReordering(t *testing.T) {
	objs := []Object{
		{FileID: "b", ContentHash: "hb", Path: "b.txt", SortOrder: 2, IsEnabled: true},
		{FileID: "a", ContentHash: "ha", Path: "a.txt", SortOrder: 1, IsEnabled: true},
	}
	reordered := []Object{objs[1], objs[0]}

	d1, err := Digest(objs)
	require.NoError(t, err)
	d2, err := Digest(reordered)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestDigestIgnoresDisabledObjects(t *testing.T) {
	enabled := []Object{{FileID: "a", SortOrder: 1, IsEnabled: true}}
	withDisabled := append(enabled, Object{FileID: "z", SortOrder: 0, IsEnabled: false})

	d1, err := Digest(enabled)
	require.NoError(t, err)
	d2, err := Digest(withDisabled)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestBuildArtifactDeterministicAcrossRuns(t *testing.T) {
	svc := newTestService(t)
	putA, err := svc.PutFile(context.Background(), bytes.NewReader([]byte("content-a")), "text/plain")
	require.NoError(t, err)
	putB, err := svc.PutFile(context.Background(), bytes.NewReader([]byte("content-b")), "text/plain")
	require.NoError(t, err)

	objects := []Object{
		{FileID: "fa", ContentHash: putA.SHA256, Path: "a.txt", SortOrder: 1, IsEnabled: true},
		{FileID: "fb", ContentHash: putB.SHA256, Path: "b.txt", SortOrder: 2, IsEnabled: true},
	}
	store := &memStore{
		objects:  objects,
		fileKeys: map[string]string{"fa": putA.StorageKey, "fb": putB.StorageKey},
	}
	builder := NewBuilder(store, svc)

	res1, err := builder.BuildArtifact(context.Background(), "bundle-1", BuildOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, res1.Built)

	res2, err := builder.BuildArtifact(context.Background(), "bundle-1", BuildOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, res2.Built)

	require.Equal(t, res1.Built.Checksum, res2.Built.Checksum)
	require.Equal(t, res1.Built.Digest, res2.Built.Digest)
}

func TestBuildArtifactSkipsUnchangedWithoutForce(t *testing.T) {
	svc := newTestService(t)
	put, err := svc.PutFile(context.Background(), bytes.NewReader([]byte("content")), "text/plain")
	require.NoError(t, err)

	objects := []Object{{FileID: "fa", ContentHash: put.SHA256, Path: "a.txt", SortOrder: 1, IsEnabled: true}}
	digest, err := Digest(objects)
	require.NoError(t, err)

	store := &memStore{
		storedDigest: digest,
		objects:      objects,
		fileKeys:     map[string]string{"fa": put.StorageKey},
	}
	builder := NewBuilder(store, svc)

	res, err := builder.BuildArtifact(context.Background(), "bundle-1", BuildOptions{})
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Nil(t, res.Built)
	require.Empty(t, store.pointer.StoragePath)
}

func TestBuildArtifactMissingBundle(t *testing.T) {
	svc := newTestService(t)
	builder := NewBuilder(&memStore{}, svc)
	_, err := builder.BuildArtifact(context.Background(), "missing", BuildOptions{})
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestBuildArtifactProducesReadableZip(t *testing.T) {
	svc := newTestService(t)
	put, err := svc.PutFile(context.Background(), bytes.NewReader([]byte("hello world")), "text/plain")
	require.NoError(t, err)

	objects := []Object{{FileID: "fa", ContentHash: put.SHA256, Path: "hello.txt", SortOrder: 1, IsEnabled: true}}
	store := &memStore{objects: objects, fileKeys: map[string]string{"fa": put.StorageKey}}
	builder := NewBuilder(store, svc)

	res, err := builder.BuildArtifact(context.Background(), "bundle-1", BuildOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, res.Built)

	rc, err := svc.GetFileStream(context.Background(), res.Built.StorageKey)
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	require.Equal(t, "hello.txt", zr.File[0].Name)
	require.Equal(t, zip.Store, zr.File[0].Method)
	require.True(t, zr.File[0].Modified.Equal(epoch) || zr.File[0].Modified.IsZero())
}
