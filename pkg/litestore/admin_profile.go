package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/latchflow/core/pkg/authflow"
	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/httpapi"
)

// AdminProfileStore implements authflow.AdminProfile over the admin_users/
// permission_presets tables, the SQLite-dialect twin of
// pgstore.AdminProfileStore.
type AdminProfileStore struct{ db *DB }

// NewAdminProfileStore constructs an authflow.AdminProfile over db.
func NewAdminProfileStore(db *DB) *AdminProfileStore { return &AdminProfileStore{db: db} }

var _ authflow.AdminProfile = (*AdminProfileStore)(nil)

func (s *AdminProfileStore) AdminUser(ctx context.Context, userID string) (*httpapi.AdminUser, error) {
	var u httpapi.AdminUser
	var role string
	var presetID sql.NullString
	var directJSON sql.NullString
	u.ID = userID

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT role, is_active, mfa_enabled, permission_preset_id, direct_permissions_json
		FROM admin_users WHERE id = ?
	`, userID).Scan(&role, &u.IsActive, &u.MFAEnabled, &presetID, &directJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get admin user: %w", err)
	}
	u.Role = authz.Role(role)

	if directJSON.Valid && directJSON.String != "" {
		if err := json.Unmarshal([]byte(directJSON.String), &u.DirectPermissions); err != nil {
			return nil, fmt.Errorf("litestore: decode direct permissions: %w", err)
		}
	}

	if presetID.Valid {
		u.PermissionPresetID = presetID.String
		preset, err := s.loadPreset(ctx, presetID.String)
		if err != nil {
			return nil, err
		}
		u.PermissionPreset = preset
	}

	return &u, nil
}

func (s *AdminProfileStore) loadPreset(ctx context.Context, id string) (*authz.PermissionPreset, error) {
	var p authz.PermissionPreset
	var rulesJSON sql.NullString
	p.ID = id
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT version, rules_json FROM permission_presets WHERE id = ?
	`, id).Scan(&p.Version, &rulesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get permission preset: %w", err)
	}
	if rulesJSON.Valid && rulesJSON.String != "" {
		if err := json.Unmarshal([]byte(rulesJSON.String), &p.Rules); err != nil {
			return nil, fmt.Errorf("litestore: decode preset rules: %w", err)
		}
	}
	return &p, nil
}

// UserIDByEmail resolves an authenticated admin's email to its user ID, the
// shape authflow.NewHandlers' resolveUserID callback expects.
func (s *AdminProfileStore) UserIDByEmail(email string) (string, error) {
	var id string
	err := s.db.conn.QueryRow(`SELECT id FROM admin_users WHERE email = ?`, email).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("litestore: no admin user for email %q", email)
	}
	if err != nil {
		return "", fmt.Errorf("litestore: user id by email: %w", err)
	}
	return id, nil
}

// RecipientTagsStore implements authflow.RecipientLookup over the same
// recipients table AdminStore owns.
type RecipientTagsStore struct{ db *DB }

// NewRecipientTagsStore constructs an authflow.RecipientLookup over db.
func NewRecipientTagsStore(db *DB) *RecipientTagsStore { return &RecipientTagsStore{db: db} }

var _ authflow.RecipientLookup = (*RecipientTagsStore)(nil)

func (s *RecipientTagsStore) RecipientTags(ctx context.Context, recipient string) ([]string, error) {
	var tags sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `SELECT tags FROM recipients WHERE id = ?`, recipient).Scan(&tags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: recipient tags: %w", err)
	}
	return splitTags(tags.String), nil
}
