package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/latchflow/core/pkg/bundle"
)

// BundleStore implements bundle.Store by joining `bundles` with a
// composition table:
//
//	ALTER TABLE bundles ADD COLUMN digest TEXT;
//
//	CREATE TABLE bundle_composition (
//	  bundle_id TEXT NOT NULL,
//	  file_id TEXT NOT NULL,
//	  content_hash TEXT,
//	  path TEXT,
//	  file_key TEXT,
//	  required BOOLEAN NOT NULL DEFAULT true,
//	  sort_order INT NOT NULL DEFAULT 0,
//	  is_enabled BOOLEAN NOT NULL DEFAULT true,
//	  storage_key TEXT
//	);
type BundleStore struct{ db *DB }

// NewBundleStore constructs a bundle.Store over db.
func NewBundleStore(db *DB) *BundleStore { return &BundleStore{db: db} }

var _ bundle.Store = (*BundleStore)(nil)

func (s *BundleStore) GetBundle(ctx context.Context, bundleID string) (storedDigest string, objects []bundle.Object, fileStorageKeys map[string]string, ok bool, err error) {
	var digest sql.NullString
	err = s.db.conn.QueryRowContext(ctx, `SELECT digest FROM bundles WHERE id = $1`, bundleID).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil, nil, false, nil
	}
	if err != nil {
		return "", nil, nil, false, fmt.Errorf("pgstore: get bundle digest: %w", err)
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT file_id, content_hash, path, file_key, required, sort_order, is_enabled, storage_key
		FROM bundle_composition WHERE bundle_id = $1 ORDER BY sort_order
	`, bundleID)
	if err != nil {
		return "", nil, nil, false, fmt.Errorf("pgstore: list bundle composition: %w", err)
	}
	defer rows.Close()

	fileStorageKeys = make(map[string]string)
	for rows.Next() {
		var o bundle.Object
		var contentHash, path, fileKey, storageKey sql.NullString
		if err := rows.Scan(&o.FileID, &contentHash, &path, &fileKey, &o.Required, &o.SortOrder, &o.IsEnabled, &storageKey); err != nil {
			return "", nil, nil, false, fmt.Errorf("pgstore: scan bundle composition row: %w", err)
		}
		o.ContentHash, o.Path, o.FileKey = contentHash.String, path.String, fileKey.String
		objects = append(objects, o)
		fileStorageKeys[o.FileID] = storageKey.String
	}
	if err := rows.Err(); err != nil {
		return "", nil, nil, false, err
	}
	return digest.String, objects, fileStorageKeys, true, nil
}

// FileToBundles resolves the distinct bundle IDs whose composition
// references any of fileIDs, the lookup pkg/scheduler.Scheduler's
// FileToBundles field needs for ScheduleForFiles.
func (s *BundleStore) FileToBundles(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT DISTINCT bundle_id FROM bundle_composition WHERE file_id = ANY($1)
	`, pq.Array(fileIDs))
	if err != nil {
		return nil, fmt.Errorf("pgstore: file to bundles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgstore: scan bundle id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *BundleStore) UpdatePointer(ctx context.Context, bundleID string, pointer bundle.Pointer) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE bundles SET storage_key = $2, checksum = $3, digest = $4 WHERE id = $1
	`, bundleID, pointer.StoragePath, pointer.Checksum, pointer.BundleDigest)
	if err != nil {
		return fmt.Errorf("pgstore: update bundle pointer: %w", err)
	}
	return nil
}
