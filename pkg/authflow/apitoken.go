package authflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IssuedToken is the one-time view of a freshly minted API token: Bearer is
// the full secret the caller must save now, since only its hash persists.
type IssuedToken struct {
	ID        string
	Bearer    string
	Scopes    []string
	ExpiresAt *time.Time
}

// IssueAPIToken mints a new API token for userID with the given scopes and
// optional TTL (nil ttl means no expiry).
func (m *SessionManager) IssueAPIToken(ctx context.Context, userID string, scopes []string, ttl *time.Duration) (*IssuedToken, error) {
	secret, err := generateOpaqueToken(apiTokenBytes)
	if err != nil {
		return nil, err
	}
	bearer := m.APITokenPrefix + secret

	id := uuid.NewString()
	now := m.now()
	var expiresAt *time.Time
	if ttl != nil {
		t := now.Add(*ttl)
		expiresAt = &t
	}

	if err := m.store.CreateAPIToken(ctx, APIToken{
		ID:        id,
		Prefix:    m.APITokenPrefix,
		TokenHash: hashToken(secret),
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("authflow: create api token: %w", err)
	}

	return &IssuedToken{ID: id, Bearer: bearer, Scopes: scopes, ExpiresAt: expiresAt}, nil
}

// VerifyAPIToken resolves a bearer token to its record, rejecting revoked
// or expired tokens, and touches LastUsedAt on success. Any display prefix
// ending in "_" is stripped before hashing, so rotating the prefix never
// invalidates existing tokens.
func (m *SessionManager) VerifyAPIToken(ctx context.Context, bearer string) (*APIToken, error) {
	tok, err := m.store.GetAPITokenByHash(ctx, hashToken(m.stripTokenPrefix(bearer)))
	if err != nil {
		return nil, fmt.Errorf("authflow: lookup api token: %w", err)
	}
	if tok == nil || tok.Revoked {
		return nil, fmt.Errorf("authflow: api token invalid")
	}
	if tok.ExpiresAt != nil && m.now().After(*tok.ExpiresAt) {
		return nil, fmt.Errorf("authflow: api token expired")
	}
	_ = m.store.TouchAPIToken(ctx, tok.ID)
	return tok, nil
}

// stripTokenPrefix drops the display prefix from a presented bearer token:
// the configured prefix when it matches, else anything through the first
// underscore. The secret itself may contain underscores (base64url), so
// only a leading prefix is ever removed.
func (m *SessionManager) stripTokenPrefix(bearer string) string {
	if m.APITokenPrefix != "" {
		if rest, ok := strings.CutPrefix(bearer, m.APITokenPrefix); ok {
			return rest
		}
	}
	if i := strings.IndexByte(bearer, '_'); i >= 0 {
		return bearer[i+1:]
	}
	return bearer
}
