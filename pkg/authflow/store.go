package authflow

import "context"

// Store is authflow's persistence boundary: every record type defined in
// types.go, read and written through one interface so a single external
// collaborator (the Postgres-backed implementation) can back all four
// flows.
type Store interface {
	// Admin sessions.
	CreateAdminSession(ctx context.Context, s AdminSession) error
	GetAdminSession(ctx context.Context, tokenHash string) (*AdminSession, error)
	DeleteAdminSession(ctx context.Context, tokenHash string) error

	// Recipient sessions.
	CreateRecipientSession(ctx context.Context, s RecipientSession) error
	GetRecipientSession(ctx context.Context, tokenHash string) (*RecipientSession, error)

	// Admin magic links.
	CreateMagicLink(ctx context.Context, m MagicLink) error
	GetMagicLink(ctx context.Context, tokenHash string) (*MagicLink, error)
	MarkMagicLinkUsed(ctx context.Context, tokenHash string) error

	// Recipient OTP challenges, one pending challenge per recipient.
	PutOTPChallenge(ctx context.Context, o OTPChallenge) error
	GetOTPChallenge(ctx context.Context, recipient string) (*OTPChallenge, error)
	IncrementOTPAttempts(ctx context.Context, recipient string) error
	DeleteOTPChallenge(ctx context.Context, recipient string) error

	// CLI device-code grants.
	CreateDeviceCode(ctx context.Context, d DeviceCode) error
	GetDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	ApproveDeviceCode(ctx context.Context, userCode, userID, tokenID string) error

	// API tokens.
	CreateAPIToken(ctx context.Context, t APIToken) error
	GetAPITokenByHash(ctx context.Context, tokenHash string) (*APIToken, error)
	GetAPITokenByID(ctx context.Context, id string) (*APIToken, error)
	TouchAPIToken(ctx context.Context, id string) error
}

// RecipientLookup resolves a recipient's identity and bundle tags for the
// OTP flow, and is consulted separately from Store so authflow never needs
// to know the recipient/bundle schema directly.
type RecipientLookup interface {
	RecipientTags(ctx context.Context, recipient string) ([]string, error)
}

// Notifier delivers the magic-link URL and OTP code to their recipients.
// An external collaborator wires this to an email/SMS provider; authflow
// only needs the delivery seam, not the transport.
type Notifier interface {
	SendMagicLink(ctx context.Context, email, link string) error
	SendOTP(ctx context.Context, recipient, code string) error
}
