package authflow

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/latchflow/core/pkg/httpapi"
)

// Handlers wires SessionManager into httpapi.Handler routes for
// the auth surface: admin magic-link start/callback/logout, recipient
// OTP start/verify, and the CLI device-code start/approve/poll legs.
type Handlers struct {
	sessions      *SessionManager
	resolveUserID func(email string) (string, error)

	AdminCookieName     string
	RecipientCookieName string
	CookieDomain        string
	CookieSecure        bool
	CallbackBaseURL     string

	// RedirectOrigin, when set, is where a successful magic-link callback
	// redirects the browser (the admin UI); empty means a bare 204.
	RedirectOrigin string

	// lastPoll tracks each device code's most recent poll per client IP so
	// polling faster than the advertised interval gets a SLOW_DOWN.
	pollMu   sync.Mutex
	lastPoll map[string]time.Time
}

// NewHandlers constructs a Handlers. resolveUserID maps an authenticated
// admin's email to its user ID; Handlers defers that lookup to the caller
// since account provisioning is outside authflow's scope.
func NewHandlers(sessions *SessionManager, resolveUserID func(email string) (string, error)) *Handlers {
	return &Handlers{
		sessions:            sessions,
		resolveUserID:       resolveUserID,
		AdminCookieName:     "lf_admin_sess",
		RecipientCookieName: "lf_recipient_sess",
		lastPoll:            make(map[string]time.Time),
	}
}

// cookieHeader renders a Set-Cookie header value directly, since
// httpapi.Response carries its headers as a plain http.Header rather than
// exposing the underlying http.ResponseWriter http.SetCookie expects.
func (h *Handlers) cookieHeader(name, value string, maxAge time.Duration) string {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}

func (h *Handlers) clearCookieHeader(name string) string {
	c := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}

// AdminStart handles POST /auth/admin/start: issues a magic link for the
// posted email. Always returns 204 regardless of whether the email has an
// account, so the endpoint can't be used to enumerate admins.
func (h *Handlers) AdminStart(r *httpapi.Request) (*httpapi.Response, error) {
	var body struct {
		Email string `json:"email"`
	}
	if err := r.DecodeBody(&body); err != nil || body.Email == "" {
		return nil, httpapi.ErrBadRequest
	}
	err := h.sessions.StartAdminLogin(r.Raw.Context(), body.Email, func(token string) string {
		return h.CallbackBaseURL + "?token=" + token
	})
	if err != nil {
		return nil, httpapi.NewError(http.StatusInternalServerError, "INTERNAL", err.Error())
	}
	return &httpapi.Response{Status: http.StatusNoContent}, nil
}

// AdminCallback handles GET /auth/admin/callback?token=.: consumes the
// magic link and sets the admin session cookie.
func (h *Handlers) AdminCallback(r *httpapi.Request) (*httpapi.Response, error) {
	token := r.Query["token"]
	if token == "" {
		return nil, httpapi.ErrBadRequest
	}
	sess, err := h.sessions.CompleteAdminLogin(r.Raw.Context(), token, h.resolveUserID)
	if err != nil {
		return nil, httpapi.NewError(http.StatusUnauthorized, "INVALID_TOKEN", "magic link invalid, expired, or already used")
	}
	header := http.Header{}
	header.Set("Set-Cookie", h.cookieHeader(h.AdminCookieName, sess.Token, h.sessions.AdminSessionTTL))
	if h.RedirectOrigin != "" {
		return &httpapi.Response{Redirect: h.RedirectOrigin, Header: header}, nil
	}
	return &httpapi.Response{Status: http.StatusNoContent, Header: header}, nil
}

// AdminLogout handles POST /auth/admin/logout: deletes the current admin
// session and clears its cookie.
func (h *Handlers) AdminLogout(r *httpapi.Request) (*httpapi.Response, error) {
	cookie, err := r.Raw.Cookie(h.AdminCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.sessions.Logout(r.Raw.Context(), cookie.Value)
	}
	header := http.Header{}
	header.Set("Set-Cookie", h.clearCookieHeader(h.AdminCookieName))
	return &httpapi.Response{Status: http.StatusNoContent, Header: header}, nil
}

// RecipientStart handles POST /auth/recipient/start: issues an OTP for the
// posted recipient identifier (typically an email).
func (h *Handlers) RecipientStart(r *httpapi.Request) (*httpapi.Response, error) {
	var body struct {
		Recipient string `json:"recipient"`
	}
	if err := r.DecodeBody(&body); err != nil || body.Recipient == "" {
		return nil, httpapi.ErrBadRequest
	}
	// 204 regardless of whether the recipient exists (anti-enumeration).
	_ = h.sessions.StartRecipientOTP(r.Raw.Context(), body.Recipient)
	return &httpapi.Response{Status: http.StatusNoContent}, nil
}

// RecipientVerify handles POST /auth/recipient/verify: checks the posted OTP
// and, on success, sets the recipient session cookie.
func (h *Handlers) RecipientVerify(r *httpapi.Request) (*httpapi.Response, error) {
	var body struct {
		Recipient string `json:"recipient"`
		Code      string `json:"code"`
	}
	if err := r.DecodeBody(&body); err != nil || body.Recipient == "" || body.Code == "" {
		return nil, httpapi.ErrBadRequest
	}
	sess, err := h.sessions.VerifyRecipientOTP(r.Raw.Context(), body.Recipient, body.Code)
	if err != nil {
		if errors.Is(err, ErrTooManyOTPAttempts) {
			return nil, httpapi.NewError(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "otp attempts exhausted")
		}
		return nil, httpapi.NewError(http.StatusUnauthorized, "INVALID_OTP", "otp invalid or expired")
	}
	header := http.Header{}
	header.Set("Set-Cookie", h.cookieHeader(h.RecipientCookieName, sess.Token, h.sessions.RecipientSessionTTL))
	return &httpapi.Response{Status: http.StatusNoContent, Header: header}, nil
}

// DeviceStart handles POST /auth/cli/device/start: begins a CLI
// device-authorization grant.
func (h *Handlers) DeviceStart(r *httpapi.Request) (*httpapi.Response, error) {
	grant, err := h.sessions.StartDeviceCode(r.Raw.Context())
	if err != nil {
		return nil, httpapi.NewError(http.StatusInternalServerError, "DEVICE_CODE_FAILED", err.Error())
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]interface{}{
		"device_code": grant.DeviceCode,
		"user_code":   grant.UserCode,
		"interval":    grant.IntervalS,
		"expires_in":  grant.ExpiresIn,
	}), nil
}

// DeviceApprove handles POST /auth/cli/device/approve: called from the
// admin-authenticated browser tab once the human confirms the code the CLI
// displayed.
func (h *Handlers) DeviceApprove(r *httpapi.Request) (*httpapi.Response, error) {
	admin, ok := httpapi.Principal(r.Raw.Context()).(*httpapi.AdminUser)
	if !ok {
		return nil, httpapi.ErrUnauthorized
	}
	var body struct {
		UserCode string `json:"user_code"`
	}
	if err := r.DecodeBody(&body); err != nil || body.UserCode == "" {
		return nil, httpapi.ErrBadRequest
	}
	if err := h.sessions.ApproveDeviceCode(r.Raw.Context(), body.UserCode, admin.ID); err != nil {
		return nil, httpapi.NewError(http.StatusBadRequest, "INVALID_CODE", "user code unknown or expired")
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]string{"status": "approved"}), nil
}

// DevicePoll handles POST /auth/cli/device/poll: the CLI's polling leg.
// Pending grants answer 202; an approved grant answers 200 exactly once
// with the minted bearer token; terminal states answer 410 with a code
// naming why the grant is gone.
func (h *Handlers) DevicePoll(r *httpapi.Request) (*httpapi.Response, error) {
	var body struct {
		DeviceCode string `json:"device_code"`
	}
	if err := r.DecodeBody(&body); err != nil || body.DeviceCode == "" {
		return nil, httpapi.ErrBadRequest
	}

	if h.polledTooSoon(body.DeviceCode, clientIP(r.Raw)) {
		return nil, httpapi.NewError(http.StatusTooManyRequests, "SLOW_DOWN", "poll slower than the advertised interval")
	}

	status, issued, err := h.sessions.PollDeviceCode(r.Raw.Context(), body.DeviceCode)
	if err != nil {
		return nil, httpapi.NewError(http.StatusBadRequest, "INVALID_CODE", "device code unknown")
	}
	switch status {
	case DeviceCodePending:
		return httpapi.JSONResponse(http.StatusAccepted, map[string]string{"status": "pending"}), nil
	case DeviceCodeApproved:
		resp := map[string]interface{}{
			"access_token": issued.Bearer,
			"token_type":   "Bearer",
			"scopes":       issued.Scopes,
		}
		if issued.ExpiresAt != nil {
			resp["expires_at"] = issued.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return httpapi.JSONResponse(http.StatusOK, resp), nil
	case DeviceCodeExpired:
		return nil, httpapi.NewError(http.StatusGone, "EXPIRED", "device code expired")
	case DeviceCodeRevoked:
		return nil, httpapi.NewError(http.StatusGone, "REVOKED", "the granted token was revoked")
	default:
		return nil, httpapi.NewError(http.StatusGone, "UNAVAILABLE", "the granted token is no longer retrievable")
	}
}

// polledTooSoon reports whether (deviceCode, ip) polled again before the
// grant's advertised interval elapsed, recording this poll either way.
func (h *Handlers) polledTooSoon(deviceCode, ip string) bool {
	interval := h.sessions.DeviceCodeInterval
	if interval <= 0 {
		return false
	}
	key := deviceCode + "|" + ip
	now := time.Now()
	h.pollMu.Lock()
	defer h.pollMu.Unlock()
	last, ok := h.lastPoll[key]
	h.lastPoll[key] = now
	return ok && now.Sub(last) < interval
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// emailSubject keys the rate limiter by a query-string fallback of the
// login identifier. Reading the POST body here would consume it before the
// handler decodes it again, so callers that want a tighter per-identifier
// budget pass it as a query param; otherwise the limiter falls back to a
// coarser (route, ip) key.
func emailSubject(field string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(field)
	}
}

// RegisterRoutes mounts the auth surface on mux, applying limiter ahead of
// each endpoint at the fixed 10 req/min budget. protected wraps
// DeviceApprove with the admin session/API-token middleware, since that leg
// runs inside an authenticated browser tab rather than the CLI.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, limiter *httpapi.AuthRateLimiter, protected func(http.Handler) http.Handler) {
	wrap := func(route string, handler httpapi.Handler, subject func(*http.Request) string) http.Handler {
		return limiter.Middleware(route, subject)(httpapi.Adapt(handler))
	}

	mux.Handle("POST /auth/admin/start", wrap("auth.admin.start", h.AdminStart, emailSubject("email")))
	mux.Handle("GET /auth/admin/callback", wrap("auth.admin.callback", h.AdminCallback, nil))
	mux.Handle("POST /auth/admin/logout", wrap("auth.admin.logout", h.AdminLogout, nil))

	mux.Handle("POST /auth/recipient/start", wrap("auth.recipient.start", h.RecipientStart, emailSubject("recipient")))
	mux.Handle("POST /auth/recipient/verify", wrap("auth.recipient.verify", h.RecipientVerify, emailSubject("recipient")))

	mux.Handle("POST /auth/cli/device/start", wrap("auth.device.start", h.DeviceStart, nil))
	mux.Handle("POST /auth/cli/device/poll", wrap("auth.device.poll", h.DevicePoll, nil))
	mux.Handle("POST /auth/cli/device/approve", protected(wrap("auth.device.approve", h.DeviceApprove, nil)))
}
