package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/latchflow/core/pkg/portal"
)

// PortalStore implements portal.Store, the SQLite-dialect twin of
// pgstore.PortalStore. SQLite has no ANY(array) operator, so the tag-match
// half of assignment resolution is done with an IN (.) clause built from
// the recipient's tag list instead.
type PortalStore struct{ db *DB }

func NewPortalStore(db *DB) *PortalStore { return &PortalStore{db: db} }

var _ portal.Store = (*PortalStore)(nil)

func (s *PortalStore) RecipientProfile(ctx context.Context, recipientID string) (name, email string, err error) {
	var n sql.NullString
	err = s.db.conn.QueryRowContext(ctx, `SELECT name, email FROM recipients WHERE id = ?`, recipientID).Scan(&n, &email)
	if err != nil {
		return "", "", fmt.Errorf("litestore: recipient profile: %w", err)
	}
	return n.String, email, nil
}

func tagPlaceholders(tags []string) (string, []interface{}) {
	if len(tags) == 0 {
		return "(SELECT 1 WHERE 0)", nil
	}
	placeholders := strings.Repeat("?,", len(tags))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	return placeholders, args
}

func (s *PortalStore) AssignedBundles(ctx context.Context, recipientID string, tags []string) ([]portal.Bundle, error) {
	placeholders, tagArgs := tagPlaceholders(tags)
	query := fmt.Sprintf(`
		SELECT DISTINCT b.id, b.name, b.description, b.updated_at
		FROM bundles b
		LEFT JOIN bundle_assignments a ON a.bundle_id = b.id AND a.recipient_id = ?
		LEFT JOIN bundle_tags t ON t.bundle_id = b.id AND t.tag IN (%s)
		WHERE a.bundle_id IS NOT NULL OR t.bundle_id IS NOT NULL
		ORDER BY b.id
	`, placeholders)
	args := append([]interface{}{recipientID}, tagArgs...)

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("litestore: assigned bundles: %w", err)
	}
	defer rows.Close()

	var out []portal.Bundle
	for rows.Next() {
		var b portal.Bundle
		var desc sql.NullString
		var updatedAt string
		if err := rows.Scan(&b.ID, &b.Name, &desc, &updatedAt); err != nil {
			return nil, fmt.Errorf("litestore: scan assigned bundle: %w", err)
		}
		b.Description = desc.String
		if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PortalStore) IsBundleAssigned(ctx context.Context, bundleID, recipientID string, tags []string) (bool, error) {
	placeholders, tagArgs := tagPlaceholders(tags)
	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM bundle_assignments WHERE bundle_id = ? AND recipient_id = ?
			UNION
			SELECT 1 FROM bundle_tags WHERE bundle_id = ? AND tag IN (%s))
	`, placeholders)
	args := append([]interface{}{bundleID, recipientID, bundleID}, tagArgs...)

	var exists bool
	if err := s.db.conn.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("litestore: check bundle assignment: %w", err)
	}
	return exists, nil
}

func (s *PortalStore) BundleObjects(ctx context.Context, bundleID string) ([]portal.BundleObject, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT path, size FROM bundle_objects WHERE bundle_id = ? ORDER BY path
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("litestore: bundle objects: %w", err)
	}
	defer rows.Close()

	var out []portal.BundleObject
	for rows.Next() {
		var o portal.BundleObject
		if err := rows.Scan(&o.Path, &o.Size); err != nil {
			return nil, fmt.Errorf("litestore: scan bundle object: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PortalStore) BundleArtifact(ctx context.Context, bundleID string) (portal.BundleArtifact, bool, error) {
	var a portal.BundleArtifact
	var key, checksum sql.NullString
	var size sql.NullInt64
	err := s.db.conn.QueryRowContext(ctx, `SELECT storage_key, checksum, size FROM bundles WHERE id = ?`, bundleID).
		Scan(&key, &checksum, &size)
	if err == sql.ErrNoRows {
		return portal.BundleArtifact{}, false, nil
	}
	if err != nil {
		return portal.BundleArtifact{}, false, fmt.Errorf("litestore: bundle artifact: %w", err)
	}
	if !key.Valid || key.String == "" {
		return portal.BundleArtifact{}, false, nil
	}
	a.StorageKey, a.Checksum, a.Size = key.String, checksum.String, size.Int64
	return a, true, nil
}
