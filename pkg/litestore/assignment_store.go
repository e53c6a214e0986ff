package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/latchflow/core/pkg/assignment"
)

// AssignmentStore implements assignment.Record over the bundle_assignments
// table BundleStore/PortalStore already share, the SQLite-dialect twin of
// pgstore.AssignmentStore.
type AssignmentStore struct{ db *DB }

// NewAssignmentStore constructs an assignment.Record over db.
func NewAssignmentStore(db *DB) *AssignmentStore { return &AssignmentStore{db: db} }

var _ assignment.Record = (*AssignmentStore)(nil)

func (s *AssignmentStore) LoadAssignment(ctx context.Context, recipientID, bundleID string) (assignment.Summary, bool, bool, error) {
	var summary assignment.Summary
	var maxDownloads sql.NullInt64
	var cooldown sql.NullInt64
	var lastDownload sql.NullString
	var verified, verificationRequired bool

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT a.max_downloads, a.downloads_used, a.cooldown_seconds, a.last_download_at,
		       a.verified, b.verification_required
		FROM bundle_assignments a
		JOIN bundles b ON b.id = a.bundle_id
		WHERE a.bundle_id = ? AND a.recipient_id = ?
	`, bundleID, recipientID).Scan(&maxDownloads, &summary.DownloadsUsed, &cooldown, &lastDownload, &verified, &verificationRequired)
	if err == sql.ErrNoRows {
		return assignment.Summary{}, false, false, fmt.Errorf("litestore: assignment not found")
	}
	if err != nil {
		return assignment.Summary{}, false, false, fmt.Errorf("litestore: load assignment: %w", err)
	}

	if maxDownloads.Valid {
		n := int(maxDownloads.Int64)
		summary.MaxDownloads = &n
	}
	if cooldown.Valid {
		n := int(cooldown.Int64)
		summary.CooldownSeconds = &n
	}
	t, err := parseNullTime(lastDownload)
	if err != nil {
		return assignment.Summary{}, false, false, fmt.Errorf("litestore: parse last download: %w", err)
	}
	summary.LastDownloadAt = t
	return summary, verified, verificationRequired, nil
}

func (s *AssignmentStore) HasStoragePointer(ctx context.Context, bundleID string) (bool, error) {
	var key sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `SELECT storage_key FROM bundles WHERE id = ?`, bundleID).Scan(&key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("litestore: has storage pointer: %w", err)
	}
	return key.Valid && key.String != "", nil
}

func (s *AssignmentStore) RecordDownload(ctx context.Context, recipientID, bundleID string, at time.Time) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("litestore: record download begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE bundle_assignments SET downloads_used = downloads_used + 1, last_download_at = ?
		WHERE bundle_id = ? AND recipient_id = ?
	`, timeStr(at), bundleID, recipientID); err != nil {
		return fmt.Errorf("litestore: bump download counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO download_events (bundle_id, recipient_id, occurred_at) VALUES (?, ?, ?)
	`, bundleID, recipientID, timeStr(at)); err != nil {
		return fmt.Errorf("litestore: insert download event: %w", err)
	}

	return tx.Commit()
}
