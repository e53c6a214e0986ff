package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/core/pkg/authz"
)

func genRequestID() string {
	return uuid.New().String()
}

type contextKey string

const requestIDKey contextKey = "requestId"

// AdminUser is the resolved caller of an authenticated admin session or API
// token, carrying what authz.Engine needs to evaluate a PolicyEntry.
type AdminUser struct {
	ID                 string
	Role               authz.Role
	IsActive           bool
	MFAEnabled         bool
	DirectPermissions  []interface{}
	PermissionPresetID string
	PermissionPreset   *authz.PermissionPreset
	Session            *authz.Session
	TokenScopes        []string // non-nil when authenticated via API token
}

func (u *AdminUser) toAuthzUser() *authz.User {
	return &authz.User{
		ID:                 u.ID,
		Role:               u.Role,
		IsActive:           u.IsActive,
		MFAEnabled:         u.MFAEnabled,
		DirectPermissions:  u.DirectPermissions,
		PermissionPresetID: u.PermissionPresetID,
		PermissionPreset:   u.PermissionPreset,
	}
}

// RecipientUser is the resolved caller of a recipient (portal) session.
type RecipientUser struct {
	ID   string
	Tags []string
}

// SessionResolver resolves the admin session cookie / bearer API token
// into an AdminUser. Implemented by pkg/authflow against its session and
// token stores.
type SessionResolver interface {
	ResolveAdminSession(ctx context.Context, cookie string) (*AdminUser, error)
	ResolveAPIToken(ctx context.Context, token string) (*AdminUser, error)
	ResolveRecipientSession(ctx context.Context, cookie string) (*RecipientUser, error)
}

// RequestID returns the inbound request's correlation ID, set by
// WithRequestID.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithRequestID assigns (or propagates) an X-Request-ID and stashes it in
// the request context.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = genRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORS applies an origin allow-list: an empty list permits every origin
// (local/dev), otherwise only listed origins get the reflected
// Access-Control-Allow-Origin header.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (len(allowedOrigins) == 0 || originAllowed(origin, allowedOrigins)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Cookie")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p interface{}) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Principal returns whatever requireSession/requireApiToken/requireRecipient
// attached to the context: *AdminUser or *RecipientUser.
func Principal(ctx context.Context) interface{} {
	return ctx.Value(principalKey{})
}

// RequireSession rejects requests lacking a valid admin session cookie.
// On success it attaches an *AdminUser to the request context.
func RequireSession(resolver SessionResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				WriteError(w, ErrUnauthorized)
				return
			}
			user, err := resolver.ResolveAdminSession(r.Context(), cookie.Value)
			if err != nil || user == nil {
				WriteError(w, ErrUnauthorized)
				return
			}
			ctx := withPrincipal(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIToken rejects requests lacking a bearer API token with at least
// one of the given scopes (empty scopes means any valid token suffices).
func RequireAPIToken(resolver SessionResolver, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, ErrUnauthorized)
				return
			}
			user, err := resolver.ResolveAPIToken(r.Context(), token)
			if err != nil || user == nil {
				WriteError(w, ErrUnauthorized)
				return
			}
			if !user.IsActive {
				WriteError(w, NewError(http.StatusForbidden, "INACTIVE", "token owner is inactive"))
				return
			}
			if len(scopes) > 0 && !hasAnyScope(user.TokenScopes, scopes) {
				WriteError(w, ErrForbidden)
				return
			}
			ctx := withPrincipal(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminOrAPIToken accepts either an admin session cookie or a bearer
// API token carrying one of scopes, whichever is present on the request.
func RequireAdminOrAPIToken(resolver SessionResolver, cookieName string, scopes []string) func(http.Handler) http.Handler {
	session := RequireSession(resolver, cookieName)
	token := RequireAPIToken(resolver, scopes)
	return func(next http.Handler) http.Handler {
		sessionNext := session(next)
		tokenNext := token(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bearerToken(r); ok {
				tokenNext.ServeHTTP(w, r)
				return
			}
			sessionNext.ServeHTTP(w, r)
		})
	}
}

// RequireRecipient rejects requests lacking a valid recipient session
// cookie, attaching a *RecipientUser to the request context.
func RequireRecipient(resolver SessionResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				WriteError(w, ErrUnauthorized)
				return
			}
			user, err := resolver.ResolveRecipientSession(r.Context(), cookie.Value)
			if err != nil || user == nil {
				WriteError(w, ErrUnauthorized)
				return
			}
			ctx := withPrincipal(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission runs authz.Engine.Authorize against entry for the
// *AdminUser already attached to the context by RequireSession/
// RequireAPIToken, denying anything but DecisionAllow with the status
// denyError maps the reason to (401, 403 or 429).
// snapshot builds the RequestSnapshot from r; it is supplied per-route
// since each route reads its where-clause inputs differently.
func RequirePermission(engine *authz.Engine, entry *authz.PolicyEntry, mode authz.EvaluationMode, snapshot func(*http.Request) *authz.RequestSnapshot) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin, ok := Principal(r.Context()).(*AdminUser)
			if !ok {
				WriteError(w, ErrUnauthorized)
				return
			}
			var snap *authz.RequestSnapshot
			if snapshot != nil {
				snap = snapshot(r)
			} else {
				snap = &authz.RequestSnapshot{}
			}
			var v1Allow bool
			if entry != nil {
				v1Allow = entry.V1AllowExecutor
			}
			result := engine.Authorize(r.Context(), entry, snap, admin.toAuthzUser(), authz.Context{
				UserID:          admin.ID,
				Mode:            mode,
				Now:             time.Now(),
				Session:         admin.Session,
				V1AllowExecutor: v1Allow,
			})
			if result.Decision != authz.DecisionAllow {
				WriteError(w, denyError(result.Reason))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// denyError maps an authorizer deny reason onto its HTTP surface:
// a stale or missing second factor is an authentication problem (401),
// everything else is an authorization problem (403).
func denyError(reason authz.Reason) *Error {
	switch reason {
	case authz.ReasonMFARequired:
		return NewError(http.StatusUnauthorized, string(authz.ReasonMFARequired), "two-factor verification required")
	case authz.ReasonInactive:
		return NewError(http.StatusForbidden, "INACTIVE", "account is inactive")
	case authz.ReasonNoPolicy:
		return NewError(http.StatusForbidden, "NO_POLICY", "no policy entry for this route")
	case authz.ReasonRateLimit:
		return NewError(http.StatusTooManyRequests, "RATE_LIMIT", "rule rate limit exceeded")
	default:
		return NewError(http.StatusForbidden, string(reason), "insufficient permission")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func hasAnyScope(have []string, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
