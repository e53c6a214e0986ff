// Package authflow implements Latchflow's three authentication surfaces —
// admin magic-link sign-in, recipient one-time-passcode sign-in, and the
// CLI device-code flow — plus long-lived API tokens.
package authflow

import "time"

// AdminSession is an authenticated admin's cookie-backed session.
type AdminSession struct {
	Token             string
	UserID            string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ReauthenticatedAt *time.Time
	MFAVerifiedAt     *time.Time
}

// RecipientSession is an authenticated recipient's cookie-backed session,
// scoped to the bundles the OTP verification granted access to.
type RecipientSession struct {
	Token     string
	Recipient string
	Tags      []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// MagicLink is a single-use admin sign-in link, consumed by the callback.
type MagicLink struct {
	Token     string // sha256 of the emailed link token; plaintext never persists
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// OTPChallenge is a recipient's pending one-time passcode.
type OTPChallenge struct {
	Recipient   string
	CodeHash    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// DeviceCode is a pending CLI device-authorization grant (RFC 8628 shape).
type DeviceCode struct {
	DeviceCode string
	UserCode   string
	Approved   bool
	UserID     string
	TokenID    string // set at approval: the API token the grant minted
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IntervalS  int
}

// APIToken is a long-lived, scoped bearer credential. Only TokenHash is
// persisted; the bearer secret is returned to the caller once at issuance
// and never stored or logged.
type APIToken struct {
	ID         string
	Prefix     string
	TokenHash  string
	UserID     string
	Scopes     []string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	Revoked    bool
}
