package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/latchflow/core/pkg/authflow"
)

// AuthflowStore implements authflow.Store over the six SQLite tables
// litestore's schema declares (admin_sessions, recipient_sessions,
// magic_links, otp_challenges, device_codes, api_tokens), the SQLite-dialect
// twin of pgstore.AuthflowStore. Tag/scope slices persist as comma-joined
// TEXT (no native array type); times persist as RFC3339Nano TEXT.
type AuthflowStore struct{ db *DB }

// NewAuthflowStore constructs an authflow.Store over db.
func NewAuthflowStore(db *DB) *AuthflowStore { return &AuthflowStore{db: db} }

var _ authflow.Store = (*AuthflowStore)(nil)

func (s *AuthflowStore) CreateAdminSession(ctx context.Context, sess authflow.AdminSession) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO admin_sessions (token_hash, user_id, created_at, expires_at, reauthenticated_at, mfa_verified_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.Token, sess.UserID, timeStr(sess.CreatedAt), timeStr(sess.ExpiresAt),
		nullTimeStr(sess.ReauthenticatedAt), nullTimeStr(sess.MFAVerifiedAt))
	if err != nil {
		return fmt.Errorf("litestore: create admin session: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetAdminSession(ctx context.Context, tokenHash string) (*authflow.AdminSession, error) {
	var sess authflow.AdminSession
	var createdAt, expiresAt string
	var reauth, mfaVerified sql.NullString
	sess.Token = tokenHash
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT user_id, created_at, expires_at, reauthenticated_at, mfa_verified_at FROM admin_sessions WHERE token_hash = ?
	`, tokenHash).Scan(&sess.UserID, &createdAt, &expiresAt, &reauth, &mfaVerified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get admin session: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if sess.ReauthenticatedAt, err = parseNullTime(reauth); err != nil {
		return nil, err
	}
	if sess.MFAVerifiedAt, err = parseNullTime(mfaVerified); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *AuthflowStore) DeleteAdminSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("litestore: delete admin session: %w", err)
	}
	return nil
}

func (s *AuthflowStore) CreateRecipientSession(ctx context.Context, sess authflow.RecipientSession) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO recipient_sessions (token_hash, recipient, tags, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.Token, sess.Recipient, joinTags(sess.Tags), timeStr(sess.CreatedAt), timeStr(sess.ExpiresAt))
	if err != nil {
		return fmt.Errorf("litestore: create recipient session: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetRecipientSession(ctx context.Context, tokenHash string) (*authflow.RecipientSession, error) {
	var sess authflow.RecipientSession
	var tags sql.NullString
	var createdAt, expiresAt string
	sess.Token = tokenHash
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT recipient, tags, created_at, expires_at FROM recipient_sessions WHERE token_hash = ?
	`, tokenHash).Scan(&sess.Recipient, &tags, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get recipient session: %w", err)
	}
	sess.Tags = splitTags(tags.String)
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *AuthflowStore) CreateMagicLink(ctx context.Context, m authflow.MagicLink) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO magic_links (token_hash, email, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?)
	`, m.Token, m.Email, timeStr(m.CreatedAt), timeStr(m.ExpiresAt), m.Used)
	if err != nil {
		return fmt.Errorf("litestore: create magic link: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetMagicLink(ctx context.Context, tokenHash string) (*authflow.MagicLink, error) {
	var m authflow.MagicLink
	var createdAt, expiresAt string
	m.Token = tokenHash
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT email, created_at, expires_at, used FROM magic_links WHERE token_hash = ?
	`, tokenHash).Scan(&m.Email, &createdAt, &expiresAt, &m.Used)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get magic link: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *AuthflowStore) MarkMagicLinkUsed(ctx context.Context, tokenHash string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE magic_links SET used = 1 WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("litestore: mark magic link used: %w", err)
	}
	return nil
}

func (s *AuthflowStore) PutOTPChallenge(ctx context.Context, o authflow.OTPChallenge) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO otp_challenges (recipient, code_hash, created_at, expires_at, attempts, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipient) DO UPDATE SET
			code_hash = excluded.code_hash, created_at = excluded.created_at,
			expires_at = excluded.expires_at, attempts = 0, max_attempts = excluded.max_attempts
	`, o.Recipient, o.CodeHash, timeStr(o.CreatedAt), timeStr(o.ExpiresAt), o.Attempts, o.MaxAttempts)
	if err != nil {
		return fmt.Errorf("litestore: put otp challenge: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetOTPChallenge(ctx context.Context, recipient string) (*authflow.OTPChallenge, error) {
	var o authflow.OTPChallenge
	var createdAt, expiresAt string
	o.Recipient = recipient
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT code_hash, created_at, expires_at, attempts, max_attempts FROM otp_challenges WHERE recipient = ?
	`, recipient).Scan(&o.CodeHash, &createdAt, &expiresAt, &o.Attempts, &o.MaxAttempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get otp challenge: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *AuthflowStore) IncrementOTPAttempts(ctx context.Context, recipient string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE otp_challenges SET attempts = attempts + 1 WHERE recipient = ?`, recipient)
	if err != nil {
		return fmt.Errorf("litestore: increment otp attempts: %w", err)
	}
	return nil
}

func (s *AuthflowStore) DeleteOTPChallenge(ctx context.Context, recipient string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM otp_challenges WHERE recipient = ?`, recipient)
	if err != nil {
		return fmt.Errorf("litestore: delete otp challenge: %w", err)
	}
	return nil
}

func (s *AuthflowStore) CreateDeviceCode(ctx context.Context, d authflow.DeviceCode) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO device_codes (device_code, user_code, approved, user_id, token_id, created_at, expires_at, interval_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.DeviceCode, d.UserCode, d.Approved, nullString(d.UserID), nullString(d.TokenID), timeStr(d.CreatedAt), timeStr(d.ExpiresAt), d.IntervalS)
	if err != nil {
		return fmt.Errorf("litestore: create device code: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (*authflow.DeviceCode, error) {
	return s.getDeviceCode(ctx, "device_code", deviceCode)
}

func (s *AuthflowStore) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*authflow.DeviceCode, error) {
	return s.getDeviceCode(ctx, "user_code", userCode)
}

func (s *AuthflowStore) getDeviceCode(ctx context.Context, column, value string) (*authflow.DeviceCode, error) {
	var d authflow.DeviceCode
	var userID, tokenID sql.NullString
	var createdAt, expiresAt string
	err := s.db.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT device_code, user_code, approved, user_id, token_id, created_at, expires_at, interval_s
		FROM device_codes WHERE %s = ?
	`, column), value).Scan(&d.DeviceCode, &d.UserCode, &d.Approved, &userID, &tokenID, &createdAt, &expiresAt, &d.IntervalS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get device code: %w", err)
	}
	d.UserID = userID.String
	d.TokenID = tokenID.String
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *AuthflowStore) ApproveDeviceCode(ctx context.Context, userCode, userID, tokenID string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE device_codes SET approved = 1, user_id = ?, token_id = ? WHERE user_code = ?
	`, userID, nullString(tokenID), userCode)
	if err != nil {
		return fmt.Errorf("litestore: approve device code: %w", err)
	}
	return nil
}

func (s *AuthflowStore) CreateAPIToken(ctx context.Context, t authflow.APIToken) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO api_tokens (id, prefix, token_hash, user_id, scopes, created_at, expires_at, last_used_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Prefix, t.TokenHash, t.UserID, joinTags(t.Scopes), timeStr(t.CreatedAt),
		nullTimeStr(t.ExpiresAt), nullTimeStr(t.LastUsedAt), t.Revoked)
	if err != nil {
		return fmt.Errorf("litestore: create api token: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetAPITokenByHash(ctx context.Context, tokenHash string) (*authflow.APIToken, error) {
	var t authflow.APIToken
	var scopes sql.NullString
	var createdAt string
	var expiresAt, lastUsedAt sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, prefix, token_hash, user_id, scopes, created_at, expires_at, last_used_at, revoked
		FROM api_tokens WHERE token_hash = ?
	`, tokenHash).Scan(&t.ID, &t.Prefix, &t.TokenHash, &t.UserID, &scopes, &createdAt, &expiresAt, &lastUsedAt, &t.Revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get api token: %w", err)
	}
	t.Scopes = splitTags(scopes.String)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if t.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *AuthflowStore) GetAPITokenByID(ctx context.Context, id string) (*authflow.APIToken, error) {
	var t authflow.APIToken
	var scopes sql.NullString
	var createdAt string
	var expiresAt, lastUsedAt sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, prefix, token_hash, user_id, scopes, created_at, expires_at, last_used_at, revoked
		FROM api_tokens WHERE id = ?
	`, id).Scan(&t.ID, &t.Prefix, &t.TokenHash, &t.UserID, &scopes, &createdAt, &expiresAt, &lastUsedAt, &t.Revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get api token: %w", err)
	}
	t.Scopes = splitTags(scopes.String)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if t.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *AuthflowStore) TouchAPIToken(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, timeStr(time.Now()), id)
	if err != nil {
		return fmt.Errorf("litestore: touch api token: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
