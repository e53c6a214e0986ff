package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/httpapi"
)

type fixedAdminResolver struct{}

func (fixedAdminResolver) ResolveAdminSession(ctx context.Context, cookie string) (*httpapi.AdminUser, error) {
	if cookie != "fixed-admin" {
		return nil, nil
	}
	return &httpapi.AdminUser{ID: "user-9"}, nil
}
func (fixedAdminResolver) ResolveAPIToken(ctx context.Context, token string) (*httpapi.AdminUser, error) {
	return nil, nil
}
func (fixedAdminResolver) ResolveRecipientSession(ctx context.Context, cookie string) (*httpapi.RecipientUser, error) {
	return nil, nil
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func TestHandlersAdminMagicLinkRoundTrip(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	mgr := NewSessionManager(store, nil, notifier)
	h := NewHandlers(mgr, func(email string) (string, error) { return "user-1", nil })

	startReq := httptest.NewRequest(http.MethodPost, "/auth/admin/start", jsonBody(t, map[string]string{"email": "admin@example.com"}))
	rec := httptest.NewRecorder()
	httpapi.Adapt(h.AdminStart).ServeHTTP(rec, startReq)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, notifier.lastLink)

	const marker = "?token="
	token := notifier.lastLink[bytes.Index([]byte(notifier.lastLink), []byte(marker))+len(marker):]
	callbackReq := httptest.NewRequest(http.MethodGet, "/auth/admin/callback?token="+token, nil)
	rec = httptest.NewRecorder()
	httpapi.Adapt(h.AdminCallback).ServeHTTP(rec, callbackReq)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Set-Cookie"), "lf_admin_sess=")

	// replaying the same token must fail: magic links are single-use
	rec = httptest.NewRecorder()
	httpapi.Adapt(h.AdminCallback).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/admin/callback?token="+token, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersAdminCallbackRejectsBadToken(t *testing.T) {
	store := newMemStore()
	mgr := NewSessionManager(store, nil, &fakeNotifier{})
	h := NewHandlers(mgr, func(string) (string, error) { return "user-1", nil })

	req := httptest.NewRequest(http.MethodGet, "/auth/admin/callback?token=garbage", nil)
	rec := httptest.NewRecorder()
	httpapi.Adapt(h.AdminCallback).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersRecipientOTPRoundTrip(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	mgr := NewSessionManager(store, nil, notifier)
	h := NewHandlers(mgr, nil)

	startReq := httptest.NewRequest(http.MethodPost, "/auth/recipient/start", jsonBody(t, map[string]string{"recipient": "r@example.com"}))
	rec := httptest.NewRecorder()
	httpapi.Adapt(h.RecipientStart).ServeHTTP(rec, startReq)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, notifier.lastOTP)

	verifyReq := httptest.NewRequest(http.MethodPost, "/auth/recipient/verify", jsonBody(t, map[string]string{
		"recipient": "r@example.com",
		"code":      notifier.lastOTP,
	}))
	rec = httptest.NewRecorder()
	httpapi.Adapt(h.RecipientVerify).ServeHTTP(rec, verifyReq)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Set-Cookie"), "lf_recipient_sess=")
}

func TestHandlersDeviceCodeFlow(t *testing.T) {
	store := newMemStore()
	mgr := NewSessionManager(store, nil, nil)
	h := NewHandlers(mgr, nil)

	rec := httptest.NewRecorder()
	httpapi.Adapt(h.DeviceStart).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/cli/device/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var grant map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))

	poll := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/cli/device/poll", jsonBody(t, map[string]string{
			"device_code": grant["device_code"].(string),
		}))
		rec := httptest.NewRecorder()
		httpapi.Adapt(h.DevicePoll).ServeHTTP(rec, req)
		return rec
	}

	mgr.DeviceCodeInterval = 0 // no SLOW_DOWN between test polls
	rec = poll()
	require.Equal(t, http.StatusAccepted, rec.Code)

	var pollResp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pollResp))
	require.Equal(t, "pending", pollResp["status"])

	approveReq := httptest.NewRequest(http.MethodPost, "/auth/cli/device/approve", jsonBody(t, map[string]string{
		"user_code": grant["user_code"].(string),
	}))
	approveReq.AddCookie(&http.Cookie{Name: "lf_admin_sess", Value: "fixed-admin"})
	protected := httpapi.RequireSession(fixedAdminResolver{}, "lf_admin_sess")
	rec = httptest.NewRecorder()
	protected(httpapi.Adapt(h.DeviceApprove)).ServeHTTP(rec, approveReq)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = poll()
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pollResp))
	require.Equal(t, "Bearer", pollResp["token_type"])
	require.NotEmpty(t, pollResp["access_token"])
}
