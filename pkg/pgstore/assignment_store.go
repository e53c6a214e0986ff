package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/latchflow/core/pkg/assignment"
)

// AssignmentStore implements assignment.Record over the bundle_assignments
// table PortalStore already owns, widened with the download-entitlement
// columns, plus a per-bundle verification flag and an append-only download
// log:
//
//	ALTER TABLE bundle_assignments ADD COLUMN max_downloads INT;
//	ALTER TABLE bundle_assignments ADD COLUMN downloads_used INT NOT NULL DEFAULT 0;
//	ALTER TABLE bundle_assignments ADD COLUMN cooldown_seconds INT;
//	ALTER TABLE bundle_assignments ADD COLUMN last_download_at TIMESTAMPTZ;
//	ALTER TABLE bundle_assignments ADD COLUMN verified BOOLEAN NOT NULL DEFAULT false;
//	ALTER TABLE bundles ADD COLUMN verification_required BOOLEAN NOT NULL DEFAULT false;
//
//	CREATE TABLE download_events (
//	  bundle_id TEXT NOT NULL, recipient_id TEXT NOT NULL, occurred_at TIMESTAMPTZ NOT NULL
//	);
type AssignmentStore struct{ db *DB }

// NewAssignmentStore constructs an assignment.Record over db.
func NewAssignmentStore(db *DB) *AssignmentStore { return &AssignmentStore{db: db} }

var _ assignment.Record = (*AssignmentStore)(nil)

func (s *AssignmentStore) LoadAssignment(ctx context.Context, recipientID, bundleID string) (assignment.Summary, bool, bool, error) {
	var summary assignment.Summary
	var maxDownloads sql.NullInt64
	var cooldown sql.NullInt64
	var lastDownload sql.NullTime
	var verified, verificationRequired bool

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT a.max_downloads, a.downloads_used, a.cooldown_seconds, a.last_download_at,
		       a.verified, b.verification_required
		FROM bundle_assignments a
		JOIN bundles b ON b.id = a.bundle_id
		WHERE a.bundle_id = $1 AND a.recipient_id = $2
	`, bundleID, recipientID).Scan(&maxDownloads, &summary.DownloadsUsed, &cooldown, &lastDownload, &verified, &verificationRequired)
	if err == sql.ErrNoRows {
		return assignment.Summary{}, false, false, fmt.Errorf("pgstore: assignment not found")
	}
	if err != nil {
		return assignment.Summary{}, false, false, fmt.Errorf("pgstore: load assignment: %w", err)
	}

	if maxDownloads.Valid {
		n := int(maxDownloads.Int64)
		summary.MaxDownloads = &n
	}
	if cooldown.Valid {
		n := int(cooldown.Int64)
		summary.CooldownSeconds = &n
	}
	if lastDownload.Valid {
		t := lastDownload.Time
		summary.LastDownloadAt = &t
	}
	return summary, verified, verificationRequired, nil
}

func (s *AssignmentStore) HasStoragePointer(ctx context.Context, bundleID string) (bool, error) {
	var key sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `SELECT storage_key FROM bundles WHERE id = $1`, bundleID).Scan(&key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgstore: has storage pointer: %w", err)
	}
	return key.Valid && key.String != "", nil
}

func (s *AssignmentStore) RecordDownload(ctx context.Context, recipientID, bundleID string, at time.Time) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: record download begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE bundle_assignments SET downloads_used = downloads_used + 1, last_download_at = $3
		WHERE bundle_id = $1 AND recipient_id = $2
	`, bundleID, recipientID, at); err != nil {
		return fmt.Errorf("pgstore: bump download counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO download_events (bundle_id, recipient_id, occurred_at) VALUES ($1, $2, $3)
	`, bundleID, recipientID, at); err != nil {
		return fmt.Errorf("pgstore: insert download event: %w", err)
	}

	return tx.Commit()
}
