package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/latchflow/core/pkg/bundle"
)

// BundleStore implements bundle.Store, the SQLite-dialect twin of
// pgstore.BundleStore.
type BundleStore struct{ db *DB }

func NewBundleStore(db *DB) *BundleStore { return &BundleStore{db: db} }

var _ bundle.Store = (*BundleStore)(nil)

func (s *BundleStore) GetBundle(ctx context.Context, bundleID string) (storedDigest string, objects []bundle.Object, fileStorageKeys map[string]string, ok bool, err error) {
	var digest sql.NullString
	err = s.db.conn.QueryRowContext(ctx, `SELECT digest FROM bundles WHERE id = ?`, bundleID).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil, nil, false, nil
	}
	if err != nil {
		return "", nil, nil, false, fmt.Errorf("litestore: get bundle digest: %w", err)
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT file_id, content_hash, path, file_key, required, sort_order, is_enabled, storage_key
		FROM bundle_composition WHERE bundle_id = ? ORDER BY sort_order
	`, bundleID)
	if err != nil {
		return "", nil, nil, false, fmt.Errorf("litestore: list bundle composition: %w", err)
	}
	defer rows.Close()

	fileStorageKeys = make(map[string]string)
	for rows.Next() {
		var o bundle.Object
		var contentHash, path, fileKey, storageKey sql.NullString
		if err := rows.Scan(&o.FileID, &contentHash, &path, &fileKey, &o.Required, &o.SortOrder, &o.IsEnabled, &storageKey); err != nil {
			return "", nil, nil, false, fmt.Errorf("litestore: scan bundle composition row: %w", err)
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

func (s *BundleStore) UpdatePointer(ctx context.Context, bundleID string, pointer bundle.Pointer) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE bundles SET storage_key = ?, checksum = ?, digest = ? WHERE id = ?
	`, pointer.StoragePath, pointer.Checksum, pointer.BundleDigest, bundleID)
	if err != nil {
		return fmt.Errorf("litestore: update bundle pointer: %w", err)
	}
	return nil
}

// FileToBundles mirrors pgstore.BundleStore.FileToBundles for
// pkg/scheduler.Scheduler's FileToBundles hook.
func (s *BundleStore) FileToBundles(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(fileIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(fileIDs))
	for i, id := range fileIDs {
		args[i] = id
	}

	rows, err := s.db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT bundle_id FROM bundle_composition WHERE file_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("litestore: file to bundles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("litestore: scan bundle id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
