// Package portal implements Latchflow's recipient-facing HTTP surface:
// a signed-in recipient's own profile, the bundles assigned
// to them (directly or via tag), and a gated download of a bundle's built
// artifact. Downloads are authorized by the recipient session; no route here
// accepts or verifies a release-link token.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/latchflow/core/pkg/assignment"
	"github.com/latchflow/core/pkg/httpapi"
	"github.com/latchflow/core/pkg/storage"
)

// Bundle is the recipient-visible summary of an assigned bundle.
type Bundle struct {
	ID          string
	Name        string
	Description string
	UpdatedAt   time.Time
}

// BundleObject is a recipient-visible entry in a bundle's composition.
type BundleObject struct {
	Path string
	Size int64
}

// BundleArtifact is the built archive a download resolves to.
type BundleArtifact struct {
	StorageKey string
	Checksum   string
	Size       int64
}

// downloadEnforcer is the subset of *assignment.Enforcer Handlers depends
// on, so tests can substitute a fake without a full Record implementation.
type downloadEnforcer interface {
	CheckDownload(ctx context.Context, recipientID, bundleID string) (*assignment.Summary, error)
	RecordDownload(ctx context.Context, recipientID, bundleID string) error
}

// Store is the persistence boundary Handlers reads recipient/bundle
// assignment state from. An external collaborator (the admin data layer)
// implements it; portal only ever reads, since assignment changes are an
// admin-surface concern (AssignmentStore).
type Store interface {
	// RecipientProfile returns the signed-in recipient's own record.
	RecipientProfile(ctx context.Context, recipientID string) (name, email string, err error)
	// AssignedBundles lists bundles assigned to recipientID, directly or via
	// any of tags.
	AssignedBundles(ctx context.Context, recipientID string, tags []string) ([]Bundle, error)
	// IsBundleAssigned reports whether bundleID is assigned to recipientID
	// (directly or via tags), the pre-check every object/download route
	// runs before touching storage.
	IsBundleAssigned(ctx context.Context, bundleID, recipientID string, tags []string) (bool, error)
	// BundleObjects lists a bundle's composition for display.
	BundleObjects(ctx context.Context, bundleID string) ([]BundleObject, error)
	// BundleArtifact returns the bundle's current built archive, or ok=false
	// if it has never been built.
	BundleArtifact(ctx context.Context, bundleID string) (BundleArtifact, bool, error)
}

// Handlers adapts Store + a storage.Service into the portal's httpapi
// routes.
type Handlers struct {
	store    Store
	storage  *storage.Service
	download downloadEnforcer
}

// NewHandlers constructs Handlers. enforcer runs the download
// pre-check chain (verification, max-downloads, cooldown, missing pointer)
// ahead of every artifact stream; a nil enforcer skips the chain.
func NewHandlers(store Store, svc *storage.Service, enforcer *assignment.Enforcer) *Handlers {
	h := &Handlers{store: store, storage: svc}
	if enforcer != nil {
		h.download = enforcer
	}
	return h
}

func recipient(r *httpapi.Request) (*httpapi.RecipientUser, error) {
	u, ok := httpapi.Principal(r.Raw.Context()).(*httpapi.RecipientUser)
	if !ok {
		return nil, httpapi.ErrUnauthorized
	}
	return u, nil
}

// Me handles GET /portal/me.
func (h *Handlers) Me(r *httpapi.Request) (*httpapi.Response, error) {
	u, err := recipient(r)
	if err != nil {
		return nil, err
	}
	name, email, err := h.store.RecipientProfile(r.Raw.Context(), u.ID)
	if err != nil {
		return nil, fmt.Errorf("portal: load recipient profile: %w", err)
	}
	bundles, err := h.store.AssignedBundles(r.Raw.Context(), u.ID, u.Tags)
	if err != nil {
		return nil, fmt.Errorf("portal: list assigned bundles: %w", err)
	}
	summaries := make([]map[string]string, len(bundles))
	for i, b := range bundles {
		summaries[i] = map[string]string{"id": b.ID, "name": b.Name}
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]interface{}{
		"recipient": map[string]interface{}{
			"id":    u.ID,
			"name":  name,
			"email": email,
			"tags":  u.Tags,
		},
		"bundles": summaries,
	}), nil
}

// Bundles handles GET /portal/bundles: every bundle assigned to the
// signed-in recipient, directly or through a tag.
func (h *Handlers) Bundles(r *httpapi.Request) (*httpapi.Response, error) {
	u, err := recipient(r)
	if err != nil {
		return nil, err
	}
	bundles, err := h.store.AssignedBundles(r.Raw.Context(), u.ID, u.Tags)
	if err != nil {
		return nil, fmt.Errorf("portal: list assigned bundles: %w", err)
	}
	limit := clampLimit(r.Query["limit"])
	if len(bundles) > limit {
		bundles = bundles[:limit]
	}
	out := make([]map[string]interface{}, len(bundles))
	for i, b := range bundles {
		out[i] = map[string]interface{}{
			"id":          b.ID,
			"name":        b.Name,
			"description": b.Description,
			"updatedAt":   b.UpdatedAt,
		}
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]interface{}{"bundles": out}), nil
}

// clampLimit parses a ?limit= value into [1,100], defaulting to 100.
func clampLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n > 100 {
		return 100
	}
	if n < 1 {
		return 1
	}
	return n
}

// BundleObjects handles GET /portal/bundles/{bundleId}/objects, rejecting
// bundles the recipient has no assignment to with a 404 rather than a 403,
// so unassigned bundles are not distinguishable from nonexistent ones.
func (h *Handlers) BundleObjects(r *httpapi.Request) (*httpapi.Response, error) {
	u, err := recipient(r)
	if err != nil {
		return nil, err
	}
	bundleID := r.Params["bundleId"]
	assigned, err := h.store.IsBundleAssigned(r.Raw.Context(), bundleID, u.ID, u.Tags)
	if err != nil {
		return nil, fmt.Errorf("portal: check bundle assignment: %w", err)
	}
	if !assigned {
		return nil, httpapi.ErrNotFound
	}
	objects, err := h.store.BundleObjects(r.Raw.Context(), bundleID)
	if err != nil {
		return nil, fmt.Errorf("portal: list bundle objects: %w", err)
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]interface{}{"objects": objects}), nil
}

// streamBody copies a storage read stream into the HTTP response,
// unbuffered. After a successful copy it invokes onDone so the caller can
// record the download side effect only once bytes actually left the server,
// not merely once the pre-checks passed.
type streamBody struct {
	rc     io.ReadCloser
	onDone func()
}

func (s *streamBody) WriteTo(w http.ResponseWriter) error {
	defer s.rc.Close()
	_, err := io.Copy(w, s.rc)
	if err == nil && s.onDone != nil {
		s.onDone()
	}
	return err
}

// denialError adapts an *assignment.Denial into the httpapi.Error envelope, carrying the reason's fixed HTTP status as its code.
func denialError(d *assignment.Denial) *httpapi.Error {
	return httpapi.NewError(d.Reason.Status(), string(d.Reason), string(d.Reason))
}

// Download handles GET /portal/bundles/{bundleId}: runs the ordered
// pre-check chain (verification required, max-downloads exceeded,
// cooldown active, missing storage pointer) after re-verifying the
// recipient's assignment, then streams the bundle's current built archive
// with Content-Type: application/octet-stream and ETag = bundle.checksum,
// recording a DownloadEvent on success.
func (h *Handlers) Download(r *httpapi.Request) (*httpapi.Response, error) {
	u, err := recipient(r)
	if err != nil {
		return nil, err
	}
	bundleID := r.Params["bundleId"]
	assigned, err := h.store.IsBundleAssigned(r.Raw.Context(), bundleID, u.ID, u.Tags)
	if err != nil {
		return nil, fmt.Errorf("portal: check bundle assignment: %w", err)
	}
	if !assigned {
		return nil, httpapi.ErrNotFound
	}

	if h.download != nil {
		if _, err := h.download.CheckDownload(r.Raw.Context(), u.ID, bundleID); err != nil {
			if denial, ok := err.(*assignment.Denial); ok {
				return nil, denialError(denial)
			}
			return nil, fmt.Errorf("portal: check download enforcement: %w", err)
		}
	}

	artifact, ok, err := h.store.BundleArtifact(r.Raw.Context(), bundleID)
	if err != nil {
		return nil, fmt.Errorf("portal: load bundle artifact: %w", err)
	}
	if !ok {
		return nil, httpapi.NewError(http.StatusConflict, "NO_STORAGE_PATH", "bundle has no built artifact yet")
	}

	rc, err := h.storage.GetFileStream(r.Raw.Context(), artifact.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("portal: open artifact stream: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, bundleID))
	header.Set("ETag", artifact.Checksum)
	if artifact.Size > 0 {
		header.Set("Content-Length", fmt.Sprintf("%d", artifact.Size))
	}
	onDone := func() {}
	if h.download != nil {
		onDone = func() {
			_ = h.download.RecordDownload(context.Background(), u.ID, bundleID)
		}
	}
	return &httpapi.Response{Status: http.StatusOK, Header: header, Stream: &streamBody{rc: rc, onDone: onDone}}, nil
}

// RegisterRoutes mounts the portal surface on mux behind requireRecipient.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, requireRecipient func(http.Handler) http.Handler) {
	mux.Handle("GET /portal/me", requireRecipient(httpapi.Adapt(h.Me)))
	mux.Handle("GET /portal/bundles", requireRecipient(httpapi.Adapt(h.Bundles)))
	mux.Handle("GET /portal/bundles/{bundleId}/objects", requireRecipient(httpapi.AdaptParams(h.BundleObjects, "bundleId")))
	mux.Handle("GET /portal/bundles/{bundleId}", requireRecipient(httpapi.AdaptParams(h.Download, "bundleId")))
}
