package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	sessionTokenBytes = 32
	apiTokenBytes     = 24
)

// Sentinel errors handlers translate into their fixed HTTP statuses.
var (
	ErrInvalidToken       = errors.New("authflow: token invalid or already used")
	ErrOTPInvalid         = errors.New("authflow: otp code incorrect")
	ErrOTPExpired         = errors.New("authflow: otp challenge expired")
	ErrTooManyOTPAttempts = errors.New("authflow: otp attempts exhausted")
)

// SessionManager implements the admin/recipient session cookie lifecycle,
// magic-link and OTP challenge issuance, the CLI device-code grant, and
// API token issuance/verification — the four surfaces of the
// authentication model, all funneled through one Store.
type SessionManager struct {
	store    Store
	lookup   RecipientLookup
	notifier Notifier
	now      func() time.Time

	AdminSessionTTL     time.Duration
	RecipientSessionTTL time.Duration
	MagicLinkTTL        time.Duration
	OTPTTL              time.Duration
	OTPLength           int
	OTPMaxAttempts      int
	DeviceCodeTTL       time.Duration
	DeviceCodeInterval  time.Duration
	APITokenPrefix      string
	DefaultTokenScopes  []string
	APITokenTTL         *time.Duration // nil means tokens never expire

	// approvedTokens caches the plaintext API token minted at device-code
	// approval, keyed by hashed device code, until the CLI's next poll
	// retrieves it. Plaintext tokens are never persisted; once the cache
	// entry is gone the grant is unrecoverable.
	approvedMu     sync.Mutex
	approvedTokens map[string]*IssuedToken
}

// NewSessionManager constructs a SessionManager with spec-reasonable
// defaults; callers override TTLs from config after construction.
func NewSessionManager(store Store, lookup RecipientLookup, notifier Notifier) *SessionManager {
	return &SessionManager{
		store:               store,
		lookup:              lookup,
		notifier:            notifier,
		now:                 time.Now,
		AdminSessionTTL:     12 * time.Hour,
		RecipientSessionTTL: 2 * time.Hour,
		MagicLinkTTL:        15 * time.Minute,
		OTPTTL:              10 * time.Minute,
		OTPLength:           6,
		OTPMaxAttempts:      5,
		DeviceCodeTTL:       10 * time.Minute,
		DeviceCodeInterval:  5 * time.Second,
		APITokenPrefix:      "lfk_",
		DefaultTokenScopes:  []string{"core:read", "core:write"},
		approvedTokens:      make(map[string]*IssuedToken),
	}
}

// StartAdminLogin issues a magic link for email and delivers it via
// notifier. linkBuilder turns the opaque token into the full callback URL.
func (m *SessionManager) StartAdminLogin(ctx context.Context, email string, linkBuilder func(token string) string) error {
	token, err := generateOpaqueToken(sessionTokenBytes)
	if err != nil {
		return err
	}
	now := m.now()
	if err := m.store.CreateMagicLink(ctx, MagicLink{
		Token:     hashToken(token),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(m.MagicLinkTTL),
	}); err != nil {
		return fmt.Errorf("authflow: create magic link: %w", err)
	}
	if m.notifier != nil {
		if err := m.notifier.SendMagicLink(ctx, email, linkBuilder(token)); err != nil {
			return fmt.Errorf("authflow: send magic link: %w", err)
		}
	}
	return nil
}

// CompleteAdminLogin consumes a magic-link token and establishes an admin
// session. userIDForEmail resolves the admin account the link authenticates
// (a lookup authflow delegates, since account provisioning is out of its
// scope).
func (m *SessionManager) CompleteAdminLogin(ctx context.Context, token string, userIDForEmail func(email string) (string, error)) (*AdminSession, error) {
	link, err := m.store.GetMagicLink(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("authflow: lookup magic link: %w", err)
	}
	if link == nil || link.Used {
		return nil, ErrInvalidToken
	}
	now := m.now()
	if now.After(link.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if err := m.store.MarkMagicLinkUsed(ctx, hashToken(token)); err != nil {
		return nil, fmt.Errorf("authflow: mark magic link used: %w", err)
	}

	userID, err := userIDForEmail(link.Email)
	if err != nil {
		return nil, fmt.Errorf("authflow: resolve admin account: %w", err)
	}

	return m.newAdminSession(ctx, userID)
}

func (m *SessionManager) newAdminSession(ctx context.Context, userID string) (*AdminSession, error) {
	token, err := generateOpaqueToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}
	now := m.now()
	sess := AdminSession{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.AdminSessionTTL),
	}
	if err := m.store.CreateAdminSession(ctx, AdminSession{
		Token:     hashToken(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.AdminSessionTTL),
	}); err != nil {
		return nil, fmt.Errorf("authflow: create admin session: %w", err)
	}
	return &sess, nil
}

// Logout deletes the admin session identified by cookie.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	return m.store.DeleteAdminSession(ctx, hashToken(token))
}

// StartRecipientOTP issues a one-time passcode for recipient and delivers
// it via notifier.
func (m *SessionManager) StartRecipientOTP(ctx context.Context, recipient string) error {
	code, err := generateNumericCode(m.OTPLength)
	if err != nil {
		return err
	}
	now := m.now()
	if err := m.store.PutOTPChallenge(ctx, OTPChallenge{
		Recipient:   recipient,
		CodeHash:    hashToken(code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.OTPTTL),
		MaxAttempts: m.OTPMaxAttempts,
	}); err != nil {
		return fmt.Errorf("authflow: put otp challenge: %w", err)
	}
	if m.notifier != nil {
		if err := m.notifier.SendOTP(ctx, recipient, code); err != nil {
			return fmt.Errorf("authflow: send otp: %w", err)
		}
	}
	return nil
}

// VerifyRecipientOTP checks code against the pending challenge, and on
// success establishes a recipient session and discards the challenge. A
// wrong code increments the attempt counter; exceeding MaxAttempts or the
// TTL invalidates the challenge (fail-closed rule for guessable
// short codes).
func (m *SessionManager) VerifyRecipientOTP(ctx context.Context, recipient, code string) (*RecipientSession, error) {
	challenge, err := m.store.GetOTPChallenge(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("authflow: lookup otp challenge: %w", err)
	}
	if challenge == nil {
		return nil, ErrOTPInvalid
	}
	now := m.now()
	if now.After(challenge.ExpiresAt) {
		_ = m.store.DeleteOTPChallenge(ctx, recipient)
		return nil, ErrOTPExpired
	}
	if challenge.Attempts >= challenge.MaxAttempts {
		return nil, ErrTooManyOTPAttempts
	}
	if !secureEqual(challenge.CodeHash, hashToken(code)) {
		_ = m.store.IncrementOTPAttempts(ctx, recipient)
		return nil, ErrOTPInvalid
	}
	_ = m.store.DeleteOTPChallenge(ctx, recipient)

	var tags []string
	if m.lookup != nil {
		tags, err = m.lookup.RecipientTags(ctx, recipient)
		if err != nil {
			return nil, fmt.Errorf("authflow: resolve recipient tags: %w", err)
		}
	}

	token, err := generateOpaqueToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}
	sess := RecipientSession{
		Token:     token,
		Recipient: recipient,
		Tags:      tags,
		CreatedAt: now,
		ExpiresAt: now.Add(m.RecipientSessionTTL),
	}
	if err := m.store.CreateRecipientSession(ctx, RecipientSession{
		Token:     hashToken(token),
		Recipient: recipient,
		Tags:      tags,
		CreatedAt: now,
		ExpiresAt: now.Add(m.RecipientSessionTTL),
	}); err != nil {
		return nil, fmt.Errorf("authflow: create recipient session: %w", err)
	}
	return &sess, nil
}
