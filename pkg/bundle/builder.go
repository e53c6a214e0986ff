package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/latchflow/core/pkg/storage"
)

// epoch is the fixed mtime stamped on every archive entry:
// 1970-01-01T00:00:00Z.
var epoch = time.Unix(0, 0).UTC()

// Store is the persistence boundary the builder reads bundle state from and
// writes the updated pointer back to. An external collaborator implements
// it.
type Store interface {
	// GetBundle returns the bundle's stored digest, its composition objects,
	// and resolvers to look up each file's storage key. ok=false means the
	// bundle does not exist.
	GetBundle(ctx context.Context, bundleID string) (storedDigest string, objects []Object, fileStorageKeys map[string]string, ok bool, err error)
	// UpdatePointer atomically persists the new bundle pointer.
	UpdatePointer(ctx context.Context, bundleID string, pointer Pointer) error
}

// Pointer is the bundle's current artifact pointer.
type Pointer struct {
	StoragePath  string
	Checksum     string
	BundleDigest string
}

// ErrBundleNotFound is returned when the referenced bundle does not exist.
var ErrBundleNotFound = fmt.Errorf("bundle: not found")

// BuildOptions configures a build invocation.
type BuildOptions struct {
	Force bool
}

// BuildResult is the outcome of BuildArtifact: exactly one of Skipped or
// Built is populated.
type BuildResult struct {
	Skipped bool
	Built   *BuiltArtifact
}

// BuiltArtifact describes a freshly written archive.
type BuiltArtifact struct {
	StorageKey string
	Checksum   string
	Size       int64
	Digest     string
}

// Builder assembles deterministic ZIP archives for a bundle's composition
// and writes them through a storage.Service.
type Builder struct {
	store   Store
	storage *storage.Service
}

// NewBuilder constructs a Builder over store and a storage service.
func NewBuilder(store Store, svc *storage.Service) *Builder {
	return &Builder{store: store, storage: svc}
}

// SchedulerAdapter narrows a Builder to the (skipped bool, err error) shape
// pkg/scheduler.Builder expects, collapsing BuildResult's tagged-union
// return into the single boolean the debounced scheduler actually checks.
type SchedulerAdapter struct {
	Builder *Builder
}

// BuildArtifact satisfies scheduler.Builder.
func (a SchedulerAdapter) BuildArtifact(ctx context.Context, bundleID string, force bool) (bool, error) {
	result, err := a.Builder.BuildArtifact(ctx, bundleID, BuildOptions{Force: force})
	if err != nil {
		return false, err
	}
	return result.Skipped, nil
}

// BuildArtifact builds (or skips) the bundle's archive. Determinism
// contract: byte output depends only on (file contents, composition order,
// path mapping, epoch mtime, STORE compression) — never on build wall-clock
// time or a map iteration order, since Enabled gives a stable total order.
func (b *Builder) BuildArtifact(ctx context.Context, bundleID string, opts BuildOptions) (BuildResult, error) {
	storedDigest, objects, fileKeys, ok, err := b.store.GetBundle(ctx, bundleID)
	if err != nil {
		return BuildResult{}, fmt.Errorf("bundle: load %s: %w", bundleID, err)
	}
	if !ok {
		return BuildResult{}, ErrBundleNotFound
	}

	newDigest, err := Digest(objects)
	if err != nil {
		return BuildResult{}, fmt.Errorf("bundle: compute digest: %w", err)
	}

	if !opts.Force && storedDigest != "" && storedDigest == newDigest {
		return BuildResult{Skipped: true}, nil
	}

	archive, err := b.assemble(ctx, objects, fileKeys)
	if err != nil {
		return BuildResult{}, fmt.Errorf("bundle: assemble archive: %w", err)
	}

	put, err := b.storage.PutFile(ctx, bytes.NewReader(archive), "application/zip")
	if err != nil {
		return BuildResult{}, fmt.Errorf("bundle: write archive: %w", err)
	}

	pointer := Pointer{
		StoragePath:  put.StorageKey,
		Checksum:     put.SHA256,
		BundleDigest: newDigest,
	}
	if err := b.store.UpdatePointer(ctx, bundleID, pointer); err != nil {
		return BuildResult{}, fmt.Errorf("bundle: update pointer: %w", err)
	}

	return BuildResult{Built: &BuiltArtifact{
		StorageKey: put.StorageKey,
		Checksum:   put.SHA256,
		Size:       put.Size,
		Digest:     newDigest,
	}}, nil
}

// assemble streams enabled objects into a deterministic ZIP: STORE
// compression, fixed epoch mtime, entries in composition order. Objects with
// no resolvable storage key are skipped silently.
func (b *Builder) assemble(ctx context.Context, objects []Object, fileKeys map[string]string) ([]byte, error) {
	ordered := Enabled(objects)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, o := range ordered {
		key, ok := fileKeys[o.FileID]
		if !ok || key == "" {
			continue
		}

		hdr := &zip.FileHeader{
			Name:     o.RenderedPath(),
			Method:   zip.Store,
			Modified: epoch,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("bundle: create zip entry %q: %w", hdr.Name, err)
		}

		rc, err := b.storage.GetFileStream(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("bundle: read file %s: %w", o.FileID, err)
		}
		_, copyErr := io.Copy(w, rc)
		closeErr := rc.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("bundle: stream file %s: %w", o.FileID, copyErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("bundle: close file stream %s: %w", o.FileID, closeErr)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: finalize zip: %w", err)
	}

	return buf.Bytes(), nil
}
