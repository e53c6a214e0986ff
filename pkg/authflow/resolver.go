package authflow

import (
	"context"
	"fmt"

	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/httpapi"
)

// AdminProfile resolves the authz-relevant account state for a session or
// token's UserID. An external collaborator (the admin-user store) provides
// it; authflow only tracks session/token lifecycle, not account state.
type AdminProfile interface {
	AdminUser(ctx context.Context, userID string) (*httpapi.AdminUser, error)
}

// Resolver adapts SessionManager's sessions and tokens into
// httpapi.SessionResolver, the boundary the HTTP middleware chain consumes.
type Resolver struct {
	sessions *SessionManager
	profiles AdminProfile
}

// NewResolver constructs a Resolver.
func NewResolver(sessions *SessionManager, profiles AdminProfile) *Resolver {
	return &Resolver{sessions: sessions, profiles: profiles}
}

var _ httpapi.SessionResolver = (*Resolver)(nil)

func (r *Resolver) ResolveAdminSession(ctx context.Context, cookie string) (*httpapi.AdminUser, error) {
	sess, err := r.sessions.store.GetAdminSession(ctx, hashToken(cookie))
	if err != nil {
		return nil, fmt.Errorf("authflow: lookup admin session: %w", err)
	}
	if sess == nil || r.sessions.now().After(sess.ExpiresAt) {
		return nil, nil
	}
	user, err := r.profiles.AdminUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("authflow: resolve admin profile: %w", err)
	}
	if user != nil {
		user.Session = &authz.Session{
			CreatedAt:         sess.CreatedAt,
			ReauthenticatedAt: sess.ReauthenticatedAt,
			MFAVerifiedAt:     sess.MFAVerifiedAt,
		}
	}
	return user, nil
}

func (r *Resolver) ResolveAPIToken(ctx context.Context, bearer string) (*httpapi.AdminUser, error) {
	tok, err := r.sessions.VerifyAPIToken(ctx, bearer)
	if err != nil {
		return nil, nil
	}
	user, err := r.profiles.AdminUser(ctx, tok.UserID)
	if err != nil {
		return nil, fmt.Errorf("authflow: resolve admin profile: %w", err)
	}
	if user != nil {
		user.TokenScopes = tok.Scopes
	}
	return user, nil
}

func (r *Resolver) ResolveRecipientSession(ctx context.Context, cookie string) (*httpapi.RecipientUser, error) {
	sess, err := r.sessions.store.GetRecipientSession(ctx, hashToken(cookie))
	if err != nil {
		return nil, fmt.Errorf("authflow: lookup recipient session: %w", err)
	}
	if sess == nil || r.sessions.now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return &httpapi.RecipientUser{ID: sess.Recipient, Tags: sess.Tags}, nil
}
