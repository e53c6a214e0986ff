package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/latchflow/core/pkg/authflow"
	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/httpapi"
)

// AdminProfileStore implements authflow.AdminProfile over:
//
//	CREATE TABLE admin_users (
//	  id TEXT PRIMARY KEY, email TEXT UNIQUE NOT NULL, role TEXT NOT NULL,
//	  is_active BOOLEAN NOT NULL DEFAULT true, mfa_enabled BOOLEAN NOT NULL DEFAULT false,
//	  permission_preset_id TEXT, direct_permissions_json JSONB
//	);
//
//	CREATE TABLE permission_presets (
//	  id TEXT PRIMARY KEY, version INT NOT NULL, rules_json JSONB
//	);
//
// direct_permissions_json/rules_json decode as []interface{} — authz.Engine
// treats both as opaque rule documents, the same shape the compiled-rule
// cache consumes.
type AdminProfileStore struct{ db *DB }

// NewAdminProfileStore constructs an authflow.AdminProfile over db.
func NewAdminProfileStore(db *DB) *AdminProfileStore { return &AdminProfileStore{db: db} }

var _ authflow.AdminProfile = (*AdminProfileStore)(nil)

func (s *AdminProfileStore) AdminUser(ctx context.Context, userID string) (*httpapi.AdminUser, error) {
	var u httpapi.AdminUser
	var role string
	var presetID sql.NullString
	var directJSON []byte
	u.ID = userID

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT role, is_active, mfa_enabled, permission_preset_id, direct_permissions_json
		FROM admin_users WHERE id = $1
	`, userID).Scan(&role, &u.IsActive, &u.MFAEnabled, &presetID, &directJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get admin user: %w", err)
	}
	u.Role = authz.Role(role)

	if len(directJSON) > 0 {
		if err := json.Unmarshal(directJSON, &u.DirectPermissions); err != nil {
			return nil, fmt.Errorf("pgstore: decode direct permissions: %w", err)
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
	var rulesJSON []byte
	p.ID = id
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT version, rules_json FROM permission_presets WHERE id = $1
	`, id).Scan(&p.Version, &rulesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get permission preset: %w", err)
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
			return nil, fmt.Errorf("pgstore: decode preset rules: %w", err)
		}
	}
	return &p, nil
}

// UserIDByEmail resolves an authenticated admin's email to its user ID, the
// shape authflow.NewHandlers' resolveUserID callback expects. Returns an
// error for an unknown email; account provisioning happens out of band.
func (s *AdminProfileStore) UserIDByEmail(email string) (string, error) {
	var id string
	err := s.db.conn.QueryRow(`SELECT id FROM admin_users WHERE email = $1`, email).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("pgstore: no admin user for email %q", email)
	}
	if err != nil {
		return "", fmt.Errorf("pgstore: user id by email: %w", err)
	}
	return id, nil
}

// RecipientTagsStore implements authflow.RecipientLookup over the same
// `recipients` table AdminStore owns, reusing its tags column.
type RecipientTagsStore struct{ db *DB }

// NewRecipientTagsStore constructs an authflow.RecipientLookup over db.
func NewRecipientTagsStore(db *DB) *RecipientTagsStore { return &RecipientTagsStore{db: db} }

var _ authflow.RecipientLookup = (*RecipientTagsStore)(nil)

func (s *RecipientTagsStore) RecipientTags(ctx context.Context, recipient string) ([]string, error) {
	var tags pq.StringArray
	err := s.db.conn.QueryRowContext(ctx, `SELECT tags FROM recipients WHERE id = $1`, recipient).Scan(&tags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: recipient tags: %w", err)
	}
	return []string(tags), nil
}
