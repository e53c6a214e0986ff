package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/httpapi"
)

type fakeResolver struct {
	adminByCookie map[string]*httpapi.AdminUser
	adminByToken  map[string]*httpapi.AdminUser
	recipients    map[string]*httpapi.RecipientUser
}

func (f *fakeResolver) ResolveAdminSession(ctx context.Context, cookie string) (*httpapi.AdminUser, error) {
	u, ok := f.adminByCookie[cookie]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (f *fakeResolver) ResolveAPIToken(ctx context.Context, token string) (*httpapi.AdminUser, error) {
	u, ok := f.adminByToken[token]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (f *fakeResolver) ResolveRecipientSession(ctx context.Context, cookie string) (*httpapi.RecipientUser, error) {
	u, ok := f.recipients[cookie]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func TestRequireSessionRejectsMissingCookie(t *testing.T) {
	resolver := &fakeResolver{adminByCookie: map[string]*httpapi.AdminUser{}}
	mw := httpapi.RequireSession(resolver, "lf_admin_sess")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest("GET", "/portal/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionAcceptsValidCookie(t *testing.T) {
	resolver := &fakeResolver{adminByCookie: map[string]*httpapi.AdminUser{
		"sess-1": {ID: "user-1", Role: authz.RoleAdmin, IsActive: true},
	}}
	mw := httpapi.RequireSession(resolver, "lf_admin_sess")

	var captured interface{}
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = httpapi.Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/admin/bundles", nil)
	req.AddCookie(&http.Cookie{Name: "lf_admin_sess", Value: "sess-1"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	admin, ok := captured.(*httpapi.AdminUser)
	require.True(t, ok)
	require.Equal(t, "user-1", admin.ID)
}

func TestRequireAPITokenRejectsWrongScope(t *testing.T) {
	resolver := &fakeResolver{adminByToken: map[string]*httpapi.AdminUser{
		"tok-1": {ID: "svc-1", IsActive: true, TokenScopes: []string{"bundles:read"}},
	}}
	mw := httpapi.RequireAPIToken(resolver, []string{"bundles:write"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest("GET", "/admin/bundles", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminOrAPITokenPrefersBearer(t *testing.T) {
	resolver := &fakeResolver{
		adminByToken: map[string]*httpapi.AdminUser{"tok-1": {ID: "svc-1", IsActive: true, TokenScopes: []string{"bundles:read"}}},
	}
	mw := httpapi.RequireAdminOrAPIToken(resolver, "lf_admin_sess", []string{"bundles:read"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest("GET", "/admin/bundles", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRecipientRejectsMissingCookie(t *testing.T) {
	resolver := &fakeResolver{recipients: map[string]*httpapi.RecipientUser{}}
	mw := httpapi.RequireRecipient(resolver, "lf_recipient_sess")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest("GET", "/portal/bundles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdaptWritesErrorEnvelope(t *testing.T) {
	h := httpapi.Adapt(func(r *httpapi.Request) (*httpapi.Response, error) {
		return nil, httpapi.ErrNotFound
	})

	req := httptest.NewRequest("GET", "/admin/bundles/missing", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}

func TestAdaptWritesJSONResponse(t *testing.T) {
	h := httpapi.Adapt(func(r *httpapi.Request) (*httpapi.Response, error) {
		return httpapi.JSONResponse(http.StatusOK, map[string]string{"ok": "true"}), nil
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":"true"`)
}
