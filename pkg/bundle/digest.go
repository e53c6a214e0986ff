// Package bundle implements Latchflow's deterministic content-addressed
// bundle digesting and archive assembly.
package bundle

import (
	"sort"

	"github.com/latchflow/core/pkg/canonicalize"
)

// Object is a single composition member of a bundle, corresponding to
// BundleObject.
type Object struct {
	FileID      string `json:"fileId"`
	ContentHash string `json:"contentHash,omitempty"`
	Path        string `json:"path,omitempty"`
	Required    bool   `json:"required"`
	SortOrder   int    `json:"sortOrder"`
	IsEnabled   bool   `json:"-"`

	// FileKey backs the path ?? file.key ?? file.id rendering rule
	// without requiring callers to pre-resolve it.
	FileKey string `json:"-"`
}

// digestEntry fixes the field set serialized into the digest.
type digestEntry struct {
	FileID      string `json:"fileId"`
	ContentHash string `json:"contentHash"`
	Path        string `json:"path"`
	Required    bool   `json:"required"`
	SortOrder   int    `json:"sortOrder"`
}

// RenderedPath resolves the entry's on-disk archive path per
// `path ?? file.key ?? file.id`.
func (o Object) RenderedPath() string {
	if o.Path != "" {
		return o.Path
	}
	if o.FileKey != "" {
		return o.FileKey
	}
	return o.FileID
}

// Enabled filters and orders objects by (sortOrder asc, fileId asc), the
// fixed order the digest and the archive share.
func Enabled(objects []Object) []Object {
	out := make([]Object, 0, len(objects))
	for _, o := range objects {
		if o.IsEnabled {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Digest computes the bundle digest: sha256 of the JCS-canonical JSON array
// of {fileId, contentHash, path, required, sortOrder} for enabled objects in
// (sortOrder asc, id asc) order. Missing contentHash becomes "".
func Digest(objects []Object) (string, error) {
	ordered := Enabled(objects)
	entries := make([]digestEntry, len(ordered))
	for i, o := range ordered {
		entries[i] = digestEntry{
			FileID:      o.FileID,
			ContentHash: o.ContentHash,
			Path:        o.RenderedPath(),
			Required:    o.Required,
			SortOrder:   o.SortOrder,
		}
	}
	return canonicalize.Hash(entries)
}
