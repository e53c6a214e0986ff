package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/changelog"
	"github.com/latchflow/core/pkg/httpapi"
	"github.com/latchflow/core/pkg/scheduler"
)

type memStore struct {
	bundles    map[string]Bundle
	recipients map[string]Recipient
	referenced map[string]bool
}

func (s *memStore) ListBundles(ctx context.Context) ([]Bundle, error) {
	out := make([]Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		out = append(out, b)
	}
	return out, nil
}

func (s *memStore) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	b, ok := s.bundles[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *memStore) CreateBundle(ctx context.Context, b Bundle) error {
	s.bundles[b.ID] = b
	return nil
}

func (s *memStore) UpdateBundle(ctx context.Context, b Bundle) error {
	s.bundles[b.ID] = b
	return nil
}

func (s *memStore) DeleteBundle(ctx context.Context, id string) error {
	delete(s.bundles, id)
	return nil
}

func (s *memStore) BundleIsReferenced(ctx context.Context, id string) (bool, error) {
	return s.referenced[id], nil
}

func (s *memStore) ListRecipients(ctx context.Context) ([]Recipient, error) {
	out := make([]Recipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) CreateRecipient(ctx context.Context, r Recipient) error {
	s.recipients[r.ID] = r
	return nil
}

type fixedAdminResolver struct {
	u      *httpapi.AdminUser
	cookie string
}

func (f fixedAdminResolver) ResolveAdminSession(ctx context.Context, cookie string) (*httpapi.AdminUser, error) {
	if cookie != f.cookie {
		return nil, nil
	}
	return f.u, nil
}
func (f fixedAdminResolver) ResolveAPIToken(ctx context.Context, token string) (*httpapi.AdminUser, error) {
	return nil, nil
}
func (f fixedAdminResolver) ResolveRecipientSession(ctx context.Context, cookie string) (*httpapi.RecipientUser, error) {
	return nil, nil
}

func newTestHandlers(t *testing.T) (*Handlers, *memStore, func(http.Handler) http.Handler) {
	t.Helper()
	store := &memStore{
		bundles:    map[string]Bundle{},
		recipients: map[string]Recipient{},
		referenced: map[string]bool{},
	}
	log := changelog.NewLog(changelog.NewInMemoryStore(), func(entityType, entityID string) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}, changelog.DefaultConfig(), nil)
	engine := authz.NewEngine(nil, nil)
	sched := scheduler.New(fakeBuilder{}, time.Millisecond, nil)
	h := NewHandlers(store, log, engine, sched)

	resolver := fixedAdminResolver{u: &httpapi.AdminUser{ID: "admin-1", Role: authz.RoleAdmin, IsActive: true}, cookie: "sess"}
	requireAdmin := httpapi.RequireSession(resolver, "lf_admin_sess")
	return h, store, requireAdmin
}

type fakeBuilder struct{}

func (fakeBuilder) BuildArtifact(ctx context.Context, bundleID string, force bool) (bool, error) {
	return true, nil
}

func withAdminCookie(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "lf_admin_sess", Value: "sess"})
	return req
}

func permAllowAll(signature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func TestAdminCreateAndGetBundle(t *testing.T) {
	h, _, requireAdmin := newTestHandlers(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, requireAdmin, permAllowAll)

	body := strings.NewReader(`{"id":"b1","name":"Bundle One"}`)
	req := withAdminCookie(httptest.NewRequest(http.MethodPost, "/admin/bundles", body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req2 := withAdminCookie(httptest.NewRequest(http.MethodGet, "/admin/bundles/b1", nil))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Contains(t, rec2.Body.String(), "Bundle One")
}

func TestAdminDeleteBundleConflictsWhenReferenced(t *testing.T) {
	h, store, requireAdmin := newTestHandlers(t)
	store.bundles["b1"] = Bundle{ID: "b1", Name: "Bundle One"}
	store.referenced["b1"] = true
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, requireAdmin, permAllowAll)

	req := withAdminCookie(httptest.NewRequest(http.MethodDelete, "/admin/bundles/b1", nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "IN_USE")
}

func TestAdminBuildBundleSchedulesAndReportsStatus(t *testing.T) {
	h, store, requireAdmin := newTestHandlers(t)
	store.bundles["b1"] = Bundle{ID: "b1", Name: "Bundle One"}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, requireAdmin, permAllowAll)

	req := withAdminCookie(httptest.NewRequest(http.MethodPost, "/admin/bundles/b1/build", strings.NewReader(`{"force":true}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "queued")

	req2 := withAdminCookie(httptest.NewRequest(http.MethodGet, "/admin/bundles/b1/build/status", nil))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestAdminSimulatePermission(t *testing.T) {
	h, _, requireAdmin := newTestHandlers(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, requireAdmin, permAllowAll)

	body := `{"rules":[{"action":"read","resource":"bundle"}],"entry":{"action":"read","resource":"bundle"},"snapshot":{},"user":{"id":"u1","role":"EXECUTOR","isActive":true}}`
	req := withAdminCookie(httptest.NewRequest(http.MethodPost, "/admin/permissions/simulate", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
