package storage

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// releaseLinkClaims is the JWT payload backing a signed, time-bounded
// download link (createReleaseLink). The core treats the
// resulting token as opaque; LinkSigner.Verify checks it, but no HTTP route
// calls Verify (the portal download endpoint authorizes by recipient
// session).
type releaseLinkClaims struct {
	BundleID    string `json:"bundleId"`
	RecipientID string `json:"recipientId"`
	jwt.RegisteredClaims
}

// LinkSigner mints and verifies release-link tokens with an HMAC secret.
type LinkSigner struct {
	secret []byte
}

// NewLinkSigner constructs a signer over secret. secret must be non-empty.
func NewLinkSigner(secret []byte) (*LinkSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("storage: release link signer requires a non-empty secret")
	}
	return &LinkSigner{secret: secret}, nil
}

// Sign mints a token bound to bundleID/recipientID, valid for ttlSeconds.
func (s *LinkSigner) Sign(bundleID, recipientID string, ttlSeconds int) (string, error) {
	now := time.Now()
	claims := releaseLinkClaims{
		BundleID:    bundleID,
		RecipientID: recipientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("storage: sign release link: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a release-link token, returning the bound
// bundle/recipient ids. Expired or tampered tokens return an error.
func (s *LinkSigner) Verify(token string) (bundleID, recipientID string, err error) {
	claims := &releaseLinkClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("storage: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("storage: verify release link: %w", err)
	}
	if !parsed.Valid {
		return "", "", fmt.Errorf("storage: release link invalid")
	}
	return claims.BundleID, claims.RecipientID, nil
}
