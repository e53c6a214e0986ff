package portal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/assignment"
	"github.com/latchflow/core/pkg/httpapi"
	"github.com/latchflow/core/pkg/storage"
)

// fakeAssignmentRecord is a minimal assignment.Record backing the download
// enforcer in tests that exercise pre-check chain.
type fakeAssignmentRecord struct {
	maxDownloads *int
	used         int
	hasPointer   bool
}

func (f *fakeAssignmentRecord) LoadAssignment(ctx context.Context, recipientID, bundleID string) (assignment.Summary, bool, bool, error) {
	return assignment.Summary{MaxDownloads: f.maxDownloads, DownloadsUsed: f.used}, true, false, nil
}

func (f *fakeAssignmentRecord) HasStoragePointer(ctx context.Context, bundleID string) (bool, error) {
	return f.hasPointer, nil
}

func (f *fakeAssignmentRecord) RecordDownload(ctx context.Context, recipientID, bundleID string, at time.Time) error {
	f.used++
	return nil
}

type memStore struct {
	bundles     map[string]Bundle
	assignments map[string][]string // bundleID -> recipientIDs/tags allowed
	objects     map[string][]BundleObject
	artifacts   map[string]BundleArtifact
}

func (s *memStore) RecipientProfile(ctx context.Context, recipientID string) (string, string, error) {
	return "Ada Recipient", recipientID + "@example.com", nil
}

func (s *memStore) AssignedBundles(ctx context.Context, recipientID string, tags []string) ([]Bundle, error) {
	var out []Bundle
	for id, allowed := range s.assignments {
		if assignedTo(allowed, recipientID, tags) {
			out = append(out, s.bundles[id])
		}
	}
	return out, nil
}

func (s *memStore) IsBundleAssigned(ctx context.Context, bundleID, recipientID string, tags []string) (bool, error) {
	return assignedTo(s.assignments[bundleID], recipientID, tags), nil
}

func (s *memStore) BundleObjects(ctx context.Context, bundleID string) ([]BundleObject, error) {
	return s.objects[bundleID], nil
}

func (s *memStore) BundleArtifact(ctx context.Context, bundleID string) (BundleArtifact, bool, error) {
	a, ok := s.artifacts[bundleID]
	return a, ok, nil
}

func assignedTo(allowed []string, recipientID string, tags []string) bool {
	for _, a := range allowed {
		if a == recipientID {
			return true
		}
		for _, t := range tags {
			if a == t {
				return true
			}
		}
	}
	return false
}

// fixedRecipientResolver satisfies httpapi.SessionResolver, resolving a
// fixed cookie value to a fixed recipient so tests can drive the real
// RequireRecipient middleware instead of hand-wiring context values.
type fixedRecipientResolver struct {
	u      *httpapi.RecipientUser
	cookie string
}

func (f fixedRecipientResolver) ResolveAdminSession(ctx context.Context, cookie string) (*httpapi.AdminUser, error) {
	return nil, nil
}
func (f fixedRecipientResolver) ResolveAPIToken(ctx context.Context, token string) (*httpapi.AdminUser, error) {
	return nil, nil
}
func (f fixedRecipientResolver) ResolveRecipientSession(ctx context.Context, cookie string) (*httpapi.RecipientUser, error) {
	if cookie != f.cookie {
		return nil, nil
	}
	return f.u, nil
}

func asRecipient(req *http.Request, u *httpapi.RecipientUser) (*http.Request, func(http.Handler) http.Handler) {
	req.AddCookie(&http.Cookie{Name: "lf_recipient_sess", Value: "sess"})
	resolver := fixedRecipientResolver{u: u, cookie: "sess"}
	return req, httpapi.RequireRecipient(resolver, "lf_recipient_sess")
}

func newTestHandlers(t *testing.T) (*Handlers, *memStore) {
	t.Helper()
	driver, err := storage.NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	svc := storage.NewService(driver, nil)
	store := &memStore{
		bundles:     map[string]Bundle{"b1": {ID: "b1", Name: "Bundle One"}},
		assignments: map[string][]string{"b1": {"recipient-1"}},
		objects:     map[string][]BundleObject{"b1": {{Path: "a.txt", Size: 3}}},
		artifacts:   map[string]BundleArtifact{},
	}
	return NewHandlers(store, svc, nil), store
}

func TestPortalMeReturnsProfile(t *testing.T) {
	h, _ := newTestHandlers(t)
	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/me", nil), &httpapi.RecipientUser{ID: "recipient-1", Tags: []string{"sales"}})

	rec := httptest.NewRecorder()
	wrap(httpapi.Adapt(h.Me)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "recipient-1@example.com")
}

func TestPortalBundlesListsAssigned(t *testing.T) {
	h, _ := newTestHandlers(t)
	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/bundles", nil), &httpapi.RecipientUser{ID: "recipient-1"})

	rec := httptest.NewRecorder()
	wrap(httpapi.Adapt(h.Bundles)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Bundle One")
}

func TestPortalBundleObjectsRejectsUnassigned(t *testing.T) {
	h, _ := newTestHandlers(t)
	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/bundles/b1/objects", nil), &httpapi.RecipientUser{ID: "someone-else"})
	req.SetPathValue("bundleId", "b1")

	rec := httptest.NewRecorder()
	wrap(httpapi.AdaptParams(h.BundleObjects, "bundleId")).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortalDownloadConflictsWithoutBuiltArtifact(t *testing.T) {
	h, _ := newTestHandlers(t)
	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/bundles/b1", nil), &httpapi.RecipientUser{ID: "recipient-1"})
	req.SetPathValue("bundleId", "b1")

	rec := httptest.NewRecorder()
	wrap(httpapi.AdaptParams(h.Download, "bundleId")).ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPortalDownloadStreamsBuiltArtifact(t *testing.T) {
	h, store := newTestHandlers(t)

	put, err := h.storage.PutFile(context.Background(), bytes.NewBufferString("zip-bytes"), "application/zip")
	require.NoError(t, err)
	store.artifacts["b1"] = BundleArtifact{StorageKey: put.StorageKey, Checksum: put.SHA256, Size: put.Size}

	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/bundles/b1", nil), &httpapi.RecipientUser{ID: "recipient-1"})
	req.SetPathValue("bundleId", "b1")

	rec := httptest.NewRecorder()
	wrap(httpapi.AdaptParams(h.Download, "bundleId")).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "zip-bytes", rec.Body.String())
	require.Equal(t, put.SHA256, rec.Header().Get("ETag"))
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestPortalDownloadEnforcesMaxDownloads(t *testing.T) {
	h, store := newTestHandlers(t)
	put, err := h.storage.PutFile(context.Background(), bytes.NewBufferString("zip-bytes"), "application/zip")
	require.NoError(t, err)
	store.artifacts["b1"] = BundleArtifact{StorageKey: put.StorageKey, Checksum: put.SHA256, Size: put.Size}

	one := 1
	fake := &fakeAssignmentRecord{maxDownloads: &one, used: 1, hasPointer: true}
	h.download = assignment.NewEnforcer(fake, time.Now)

	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/bundles/b1", nil), &httpapi.RecipientUser{ID: "recipient-1"})
	req.SetPathValue("bundleId", "b1")

	rec := httptest.NewRecorder()
	wrap(httpapi.AdaptParams(h.Download, "bundleId")).ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "MAX_DOWNLOADS_EXCEEDED")
}

func TestPortalDownloadRecordsSuccessfulDownload(t *testing.T) {
	h, store := newTestHandlers(t)
	put, err := h.storage.PutFile(context.Background(), bytes.NewBufferString("zip-bytes"), "application/zip")
	require.NoError(t, err)
	store.artifacts["b1"] = BundleArtifact{StorageKey: put.StorageKey, Checksum: put.SHA256, Size: put.Size}

	three := 3
	fake := &fakeAssignmentRecord{maxDownloads: &three, used: 0, hasPointer: true}
	h.download = assignment.NewEnforcer(fake, time.Now)

	req, wrap := asRecipient(httptest.NewRequest(http.MethodGet, "/portal/bundles/b1", nil), &httpapi.RecipientUser{ID: "recipient-1"})
	req.SetPathValue("bundleId", "b1")

	rec := httptest.NewRecorder()
	wrap(httpapi.AdaptParams(h.Download, "bundleId")).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, fake.used)
}
