package authflow

import (
	"context"
	"errors"
	"fmt"
)

// DeviceCodeStatus is the poll outcome the CLI client inspects.
type DeviceCodeStatus string

const (
	DeviceCodePending  DeviceCodeStatus = "pending"
	DeviceCodeApproved DeviceCodeStatus = "approved"
	DeviceCodeExpired  DeviceCodeStatus = "expired"
	// DeviceCodeRevoked means the grant was approved but its API token has
	// since been revoked.
	DeviceCodeRevoked DeviceCodeStatus = "revoked"
	// DeviceCodeUnavailable means the grant was approved but the plaintext
	// token is no longer cached; tokens live in memory only for the short
	// approval window and are never persisted in plaintext.
	DeviceCodeUnavailable DeviceCodeStatus = "unavailable"
)

// ErrUnknownDeviceCode is returned for a device or user code with no grant.
var ErrUnknownDeviceCode = errors.New("authflow: unknown device code")

// DeviceCodeGrant is what StartDeviceCode returns to the CLI.
type DeviceCodeGrant struct {
	DeviceCode string
	UserCode   string
	IntervalS  int
	ExpiresIn  int
}

// StartDeviceCode begins a CLI device-authorization grant (modeled on RFC
// 8628): the CLI polls DeviceCode while a human approves UserCode in a
// browser tab.
func (m *SessionManager) StartDeviceCode(ctx context.Context) (*DeviceCodeGrant, error) {
	deviceCode, err := generateOpaqueToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}
	userCode, err := generateUserCode()
	if err != nil {
		return nil, err
	}
	now := m.now()
	if err := m.store.CreateDeviceCode(ctx, DeviceCode{
		DeviceCode: hashToken(deviceCode),
		UserCode:   userCode,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.DeviceCodeTTL),
		IntervalS:  int(m.DeviceCodeInterval.Seconds()),
	}); err != nil {
		return nil, fmt.Errorf("authflow: create device code: %w", err)
	}
	return &DeviceCodeGrant{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		IntervalS:  int(m.DeviceCodeInterval.Seconds()),
		ExpiresIn:  int(m.DeviceCodeTTL.Seconds()),
	}, nil
}

// ApproveDeviceCode marks userCode approved for userID and mints the API
// token the CLI will collect on its next poll. Called from the
// admin-authenticated browser tab after the user confirms the code shown by
// the CLI. The plaintext token is cached in memory only until collected.
func (m *SessionManager) ApproveDeviceCode(ctx context.Context, userCode, userID string) error {
	d, err := m.store.GetDeviceCodeByUserCode(ctx, userCode)
	if err != nil {
		return fmt.Errorf("authflow: lookup device code: %w", err)
	}
	if d == nil {
		return ErrUnknownDeviceCode
	}
	if m.now().After(d.ExpiresAt) {
		return fmt.Errorf("authflow: device code expired")
	}

	issued, err := m.IssueAPIToken(ctx, userID, m.DefaultTokenScopes, m.APITokenTTL)
	if err != nil {
		return fmt.Errorf("authflow: mint device token: %w", err)
	}

	if err := m.store.ApproveDeviceCode(ctx, userCode, userID, issued.ID); err != nil {
		return err
	}

	m.approvedMu.Lock()
	m.approvedTokens[d.DeviceCode] = issued
	m.approvedMu.Unlock()
	return nil
}

// PollDeviceCode returns the grant's current status. On the first poll
// after approval it hands back the minted token and drops it from the
// cache; later polls report DeviceCodeUnavailable (or DeviceCodeRevoked if
// the token was revoked in the meantime).
func (m *SessionManager) PollDeviceCode(ctx context.Context, deviceCode string) (DeviceCodeStatus, *IssuedToken, error) {
	d, err := m.store.GetDeviceCodeByDeviceCode(ctx, hashToken(deviceCode))
	if err != nil {
		return "", nil, fmt.Errorf("authflow: lookup device code: %w", err)
	}
	if d == nil {
		return "", nil, ErrUnknownDeviceCode
	}
	if m.now().After(d.ExpiresAt) {
		return DeviceCodeExpired, nil, nil
	}
	if !d.Approved {
		return DeviceCodePending, nil, nil
	}

	m.approvedMu.Lock()
	issued, ok := m.approvedTokens[d.DeviceCode]
	if ok {
		delete(m.approvedTokens, d.DeviceCode)
	}
	m.approvedMu.Unlock()
	if ok {
		return DeviceCodeApproved, issued, nil
	}

	if d.TokenID != "" {
		tok, err := m.store.GetAPITokenByID(ctx, d.TokenID)
		if err == nil && tok != nil && tok.Revoked {
			return DeviceCodeRevoked, nil, nil
		}
	}
	return DeviceCodeUnavailable, nil, nil
}
