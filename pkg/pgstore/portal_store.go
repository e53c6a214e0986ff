package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/latchflow/core/pkg/portal"
)

// PortalStore implements portal.Store by reading the same `bundles` and
// `recipients` tables AdminStore writes, plus two assignment tables:
//
//	ALTER TABLE bundles ADD COLUMN storage_key TEXT;
//	ALTER TABLE bundles ADD COLUMN checksum TEXT;
//	ALTER TABLE bundles ADD COLUMN size BIGINT;
//
//	CREATE TABLE bundle_assignments (bundle_id TEXT NOT NULL, recipient_id TEXT NOT NULL);
//	CREATE TABLE bundle_tags (bundle_id TEXT NOT NULL, tag TEXT NOT NULL);
//	CREATE TABLE bundle_objects (bundle_id TEXT NOT NULL, path TEXT NOT NULL, size BIGINT NOT NULL);
//
// A bundle is "assigned" to a recipient when bundle_assignments names them
// directly, or bundle_tags intersects the recipient's tag set.
type PortalStore struct{ db *DB }

// NewPortalStore constructs a portal.Store over db.
func NewPortalStore(db *DB) *PortalStore { return &PortalStore{db: db} }

var _ portal.Store = (*PortalStore)(nil)

func (s *PortalStore) RecipientProfile(ctx context.Context, recipientID string) (name, email string, err error) {
	var n sql.NullString
	err = s.db.conn.QueryRowContext(ctx, `SELECT name, email FROM recipients WHERE id = $1`, recipientID).Scan(&n, &email)
	if err != nil {
		return "", "", fmt.Errorf("pgstore: recipient profile: %w", err)
	}
	return n.String, email, nil
}

func (s *PortalStore) AssignedBundles(ctx context.Context, recipientID string, tags []string) ([]portal.Bundle, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT DISTINCT b.id, b.name, b.description, b.updated_at
		FROM bundles b
		LEFT JOIN bundle_assignments a ON a.bundle_id = b.id AND a.recipient_id = $1
		LEFT JOIN bundle_tags t ON t.bundle_id = b.id AND t.tag = ANY($2)
		WHERE a.bundle_id IS NOT NULL OR t.bundle_id IS NOT NULL
		ORDER BY b.id
	`, recipientID, pq.StringArray(tags))
	if err != nil {
		return nil, fmt.Errorf("pgstore: assigned bundles: %w", err)
	}
	defer rows.Close()

	var out []portal.Bundle
	for rows.Next() {
		var b portal.Bundle
		var desc sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &desc, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan assigned bundle: %w", err)
		}
		b.Description = desc.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PortalStore) IsBundleAssigned(ctx context.Context, bundleID, recipientID string, tags []string) (bool, error) {
	var exists bool
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bundle_assignments WHERE bundle_id = $1 AND recipient_id = $2
			UNION
			SELECT 1 FROM bundle_tags WHERE bundle_id = $1 AND tag = ANY($3))
	`, bundleID, recipientID, pq.StringArray(tags)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: check bundle assignment: %w", err)
	}
	return exists, nil
}

func (s *PortalStore) BundleObjects(ctx context.Context, bundleID string) ([]portal.BundleObject, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT path, size FROM bundle_objects WHERE bundle_id = $1 ORDER BY path
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: bundle objects: %w", err)
	}
	defer rows.Close()

	var out []portal.BundleObject
	for rows.Next() {
		var o portal.BundleObject
		if err := rows.Scan(&o.Path, &o.Size); err != nil {
			return nil, fmt.Errorf("pgstore: scan bundle object: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PortalStore) BundleArtifact(ctx context.Context, bundleID string) (portal.BundleArtifact, bool, error) {
	var a portal.BundleArtifact
	var key, checksum sql.NullString
	var size sql.NullInt64
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT storage_key, checksum, size FROM bundles WHERE id = $1
	`, bundleID).Scan(&key, &checksum, &size)
	if err == sql.ErrNoRows {
		return portal.BundleArtifact{}, false, nil
	}
	if err != nil {
		return portal.BundleArtifact{}, false, fmt.Errorf("pgstore: bundle artifact: %w", err)
	}
	if !key.Valid || key.String == "" {
		return portal.BundleArtifact{}, false, nil
	}
	a.StorageKey, a.Checksum, a.Size = key.String, checksum.String, size.Int64
	return a, true, nil
}
