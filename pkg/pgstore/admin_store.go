package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/latchflow/core/pkg/admin"
)

// AdminStore implements admin.Store over `bundles` and `recipients` tables:
//
//	CREATE TABLE bundles (
//	  id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT, updated_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE recipients (
//	  id TEXT PRIMARY KEY, email TEXT NOT NULL, name TEXT, tags TEXT[]
//	);
//
//	CREATE TABLE bundle_references (bundle_id TEXT NOT NULL);
//
// bundle_references is a generic referenced-by marker: any pipeline or
// assignment row that points at a bundle inserts one row here, and
// BundleIsReferenced is just an EXISTS check against it — the 409
// IN_USE contract doesn't care which kind of reference blocked the delete.
type AdminStore struct{ db *DB }

// NewAdminStore constructs an admin.Store over db.
func NewAdminStore(db *DB) *AdminStore { return &AdminStore{db: db} }

var _ admin.Store = (*AdminStore)(nil)

func (s *AdminStore) ListBundles(ctx context.Context) ([]admin.Bundle, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id, name, description, updated_at FROM bundles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list bundles: %w", err)
	}
	defer rows.Close()

	var out []admin.Bundle
	for rows.Next() {
		var b admin.Bundle
		var desc sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &desc, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan bundle: %w", err)
		}
		b.Description = desc.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *AdminStore) GetBundle(ctx context.Context, id string) (*admin.Bundle, error) {
	var b admin.Bundle
	var desc sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `SELECT id, name, description, updated_at FROM bundles WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &desc, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get bundle: %w", err)
	}
	b.Description = desc.String
	return &b, nil
}

func (s *AdminStore) CreateBundle(ctx context.Context, b admin.Bundle) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO bundles (id, name, description, updated_at) VALUES ($1, $2, $3, $4)
	`, b.ID, b.Name, b.Description, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create bundle: %w", err)
	}
	return nil
}

func (s *AdminStore) UpdateBundle(ctx context.Context, b admin.Bundle) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE bundles SET name = $2, description = $3, updated_at = $4 WHERE id = $1
	`, b.ID, b.Name, b.Description, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: update bundle: %w", err)
	}
	return nil
}

func (s *AdminStore) DeleteBundle(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM bundles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete bundle: %w", err)
	}
	return nil
}

func (s *AdminStore) BundleIsReferenced(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bundle_references WHERE bundle_id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: check bundle references: %w", err)
	}
	return exists, nil
}

func (s *AdminStore) ListRecipients(ctx context.Context) ([]admin.Recipient, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id, email, name, tags FROM recipients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list recipients: %w", err)
	}
	defer rows.Close()

	var out []admin.Recipient
	for rows.Next() {
		var r admin.Recipient
		var name sql.NullString
		var tags pq.StringArray
		if err := rows.Scan(&r.ID, &r.Email, &name, &tags); err != nil {
			return nil, fmt.Errorf("pgstore: scan recipient: %w", err)
		}
		r.Name = name.String
		r.Tags = []string(tags)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *AdminStore) CreateRecipient(ctx context.Context, r admin.Recipient) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO recipients (id, email, name, tags) VALUES ($1, $2, $3, $4)
	`, r.ID, r.Email, r.Name, pq.StringArray(r.Tags))
	if err != nil {
		return fmt.Errorf("pgstore: create recipient: %w", err)
	}
	return nil
}
