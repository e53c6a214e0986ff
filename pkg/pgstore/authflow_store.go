package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/latchflow/core/pkg/authflow"
)

// AuthflowStore implements authflow.Store over six tables, one per grant
// kind authflow.Store documents:
//
//	CREATE TABLE admin_sessions (
//	  token_hash TEXT PRIMARY KEY, user_id TEXT NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NOT NULL,
//	  reauthenticated_at TIMESTAMPTZ, mfa_verified_at TIMESTAMPTZ
//	);
//
//	CREATE TABLE recipient_sessions (
//	  token_hash TEXT PRIMARY KEY, recipient TEXT NOT NULL, tags TEXT[],
//	  created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE magic_links (
//	  token_hash TEXT PRIMARY KEY, email TEXT NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NOT NULL, used BOOLEAN NOT NULL DEFAULT false
//	);
//
//	CREATE TABLE otp_challenges (
//	  recipient TEXT PRIMARY KEY, code_hash TEXT NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NOT NULL,
//	  attempts INT NOT NULL DEFAULT 0, max_attempts INT NOT NULL
//	);
//
//	CREATE TABLE device_codes (
//	  device_code TEXT PRIMARY KEY, user_code TEXT UNIQUE NOT NULL,
//	  approved BOOLEAN NOT NULL DEFAULT false, user_id TEXT, token_id TEXT,
//	  created_at TIMESTAMPTZ NOT NULL, expires_at TIMESTAMPTZ NOT NULL, interval_s INT NOT NULL
//	);
//
//	CREATE TABLE api_tokens (
//	  id TEXT PRIMARY KEY, prefix TEXT NOT NULL, token_hash TEXT UNIQUE NOT NULL,
//	  user_id TEXT NOT NULL, scopes TEXT[], created_at TIMESTAMPTZ NOT NULL,
//	  expires_at TIMESTAMPTZ, last_used_at TIMESTAMPTZ, revoked BOOLEAN NOT NULL DEFAULT false
//	);
//
// device_codes.device_code and otp_challenges/magic_links/api_tokens store
// only the hashed form; authflow.SessionManager never hands this store a
// raw bearer secret.
type AuthflowStore struct{ db *DB }

// NewAuthflowStore constructs an authflow.Store over db.
func NewAuthflowStore(db *DB) *AuthflowStore { return &AuthflowStore{db: db} }

var _ authflow.Store = (*AuthflowStore)(nil)

func (s *AuthflowStore) CreateAdminSession(ctx context.Context, sess authflow.AdminSession) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO admin_sessions (token_hash, user_id, created_at, expires_at, reauthenticated_at, mfa_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sess.Token, sess.UserID, sess.CreatedAt, sess.ExpiresAt, sess.ReauthenticatedAt, sess.MFAVerifiedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create admin session: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetAdminSession(ctx context.Context, tokenHash string) (*authflow.AdminSession, error) {
	var sess authflow.AdminSession
	sess.Token = tokenHash
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT user_id, created_at, expires_at, reauthenticated_at, mfa_verified_at FROM admin_sessions WHERE token_hash = $1
	`, tokenHash).Scan(&sess.UserID, &sess.CreatedAt, &sess.ExpiresAt, &sess.ReauthenticatedAt, &sess.MFAVerifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get admin session: %w", err)
	}
	return &sess, nil
}

func (s *AuthflowStore) DeleteAdminSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("pgstore: delete admin session: %w", err)
	}
	return nil
}

func (s *AuthflowStore) CreateRecipientSession(ctx context.Context, sess authflow.RecipientSession) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO recipient_sessions (token_hash, recipient, tags, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.Token, sess.Recipient, pq.StringArray(sess.Tags), sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("pgstore: create recipient session: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetRecipientSession(ctx context.Context, tokenHash string) (*authflow.RecipientSession, error) {
	var sess authflow.RecipientSession
	var tags pq.StringArray
	sess.Token = tokenHash
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT recipient, tags, created_at, expires_at FROM recipient_sessions WHERE token_hash = $1
	`, tokenHash).Scan(&sess.Recipient, &tags, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get recipient session: %w", err)
	}
	sess.Tags = []string(tags)
	return &sess, nil
}

func (s *AuthflowStore) CreateMagicLink(ctx context.Context, m authflow.MagicLink) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO magic_links (token_hash, email, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5)
	`, m.Token, m.Email, m.CreatedAt, m.ExpiresAt, m.Used)
	if err != nil {
		return fmt.Errorf("pgstore: create magic link: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetMagicLink(ctx context.Context, tokenHash string) (*authflow.MagicLink, error) {
	var m authflow.MagicLink
	m.Token = tokenHash
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT email, created_at, expires_at, used FROM magic_links WHERE token_hash = $1
	`, tokenHash).Scan(&m.Email, &m.CreatedAt, &m.ExpiresAt, &m.Used)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get magic link: %w", err)
	}
	return &m, nil
}

func (s *AuthflowStore) MarkMagicLinkUsed(ctx context.Context, tokenHash string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE magic_links SET used = true WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("pgstore: mark magic link used: %w", err)
	}
	return nil
}

func (s *AuthflowStore) PutOTPChallenge(ctx context.Context, o authflow.OTPChallenge) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO otp_challenges (recipient, code_hash, created_at, expires_at, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient) DO UPDATE SET
			code_hash = EXCLUDED.code_hash, created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at, attempts = 0, max_attempts = EXCLUDED.max_attempts
	`, o.Recipient, o.CodeHash, o.CreatedAt, o.ExpiresAt, o.Attempts, o.MaxAttempts)
	if err != nil {
		return fmt.Errorf("pgstore: put otp challenge: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetOTPChallenge(ctx context.Context, recipient string) (*authflow.OTPChallenge, error) {
	var o authflow.OTPChallenge
	o.Recipient = recipient
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT code_hash, created_at, expires_at, attempts, max_attempts FROM otp_challenges WHERE recipient = $1
	`, recipient).Scan(&o.CodeHash, &o.CreatedAt, &o.ExpiresAt, &o.Attempts, &o.MaxAttempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get otp challenge: %w", err)
	}
	return &o, nil
}

func (s *AuthflowStore) IncrementOTPAttempts(ctx context.Context, recipient string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE otp_challenges SET attempts = attempts + 1 WHERE recipient = $1`, recipient)
	if err != nil {
		return fmt.Errorf("pgstore: increment otp attempts: %w", err)
	}
	return nil
}

func (s *AuthflowStore) DeleteOTPChallenge(ctx context.Context, recipient string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM otp_challenges WHERE recipient = $1`, recipient)
	if err != nil {
		return fmt.Errorf("pgstore: delete otp challenge: %w", err)
	}
	return nil
}

func (s *AuthflowStore) CreateDeviceCode(ctx context.Context, d authflow.DeviceCode) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO device_codes (device_code, user_code, approved, user_id, token_id, created_at, expires_at, interval_s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.DeviceCode, d.UserCode, d.Approved, nullString(d.UserID), nullString(d.TokenID), d.CreatedAt, d.ExpiresAt, d.IntervalS)
	if err != nil {
		return fmt.Errorf("pgstore: create device code: %w", err)
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
	err := s.db.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT device_code, user_code, approved, user_id, token_id, created_at, expires_at, interval_s
		FROM device_codes WHERE %s = $1
	`, column), value).Scan(&d.DeviceCode, &d.UserCode, &d.Approved, &userID, &tokenID, &d.CreatedAt, &d.ExpiresAt, &d.IntervalS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get device code: %w", err)
	}
	d.UserID = userID.String
	d.TokenID = tokenID.String
	return &d, nil
}

func (s *AuthflowStore) ApproveDeviceCode(ctx context.Context, userCode, userID, tokenID string) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE device_codes SET approved = true, user_id = $2, token_id = $3 WHERE user_code = $1
	`, userCode, userID, nullString(tokenID))
	if err != nil {
		return fmt.Errorf("pgstore: approve device code: %w", err)
	}
	return nil
}

func (s *AuthflowStore) CreateAPIToken(ctx context.Context, t authflow.APIToken) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO api_tokens (id, prefix, token_hash, user_id, scopes, created_at, expires_at, last_used_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Prefix, t.TokenHash, t.UserID, pq.StringArray(t.Scopes), t.CreatedAt, t.ExpiresAt, t.LastUsedAt, t.Revoked)
	if err != nil {
		return fmt.Errorf("pgstore: create api token: %w", err)
	}
	return nil
}

func (s *AuthflowStore) GetAPITokenByHash(ctx context.Context, tokenHash string) (*authflow.APIToken, error) {
	var t authflow.APIToken
	var scopes pq.StringArray
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, prefix, token_hash, user_id, scopes, created_at, expires_at, last_used_at, revoked
		FROM api_tokens WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.Prefix, &t.TokenHash, &t.UserID, &scopes, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.Revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get api token: %w", err)
	}
	t.Scopes = []string(scopes)
	return &t, nil
}

func (s *AuthflowStore) GetAPITokenByID(ctx context.Context, id string) (*authflow.APIToken, error) {
	var t authflow.APIToken
	var scopes pq.StringArray
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, prefix, token_hash, user_id, scopes, created_at, expires_at, last_used_at, revoked
		FROM api_tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.Prefix, &t.TokenHash, &t.UserID, &scopes, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.Revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get api token: %w", err)
	}
	t.Scopes = []string(scopes)
	return &t, nil
}

func (s *AuthflowStore) TouchAPIToken(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: touch api token: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
