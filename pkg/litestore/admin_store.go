package litestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/latchflow/core/pkg/admin"
)

// AdminStore implements admin.Store over the bundles/recipients tables,
// the SQLite-dialect twin of pgstore.AdminStore.
type AdminStore struct{ db *DB }

func NewAdminStore(db *DB) *AdminStore { return &AdminStore{db: db} }

var _ admin.Store = (*AdminStore)(nil)

func (s *AdminStore) ListBundles(ctx context.Context) ([]admin.Bundle, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id, name, description, updated_at FROM bundles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("litestore: list bundles: %w", err)
	}
	defer rows.Close()

	var out []admin.Bundle
	for rows.Next() {
		var b admin.Bundle
		var desc sql.NullString
		var updatedAt string
		if err := rows.Scan(&b.ID, &b.Name, &desc, &updatedAt); err != nil {
			return nil, fmt.Errorf("litestore: scan bundle: %w", err)
		}
		b.Description = desc.String
		if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *AdminStore) GetBundle(ctx context.Context, id string) (*admin.Bundle, error) {
	var b admin.Bundle
	var desc sql.NullString
	var updatedAt string
	err := s.db.conn.QueryRowContext(ctx, `SELECT id, name, description, updated_at FROM bundles WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &desc, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("litestore: get bundle: %w", err)
	}
	b.Description = desc.String
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *AdminStore) CreateBundle(ctx context.Context, b admin.Bundle) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO bundles (id, name, description, updated_at) VALUES (?, ?, ?, ?)
	`, b.ID, b.Name, b.Description, timeStr(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("litestore: create bundle: %w", err)
	}
	return nil
}

func (s *AdminStore) UpdateBundle(ctx context.Context, b admin.Bundle) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE bundles SET name = ?, description = ?, updated_at = ? WHERE id = ?
	`, b.Name, b.Description, timeStr(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("litestore: update bundle: %w", err)
	}
	return nil
}

func (s *AdminStore) DeleteBundle(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM bundles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("litestore: delete bundle: %w", err)
	}
	return nil
}

func (s *AdminStore) BundleIsReferenced(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bundle_references WHERE bundle_id = ?)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("litestore: check bundle references: %w", err)
	}
	return exists, nil
}

func (s *AdminStore) ListRecipients(ctx context.Context) ([]admin.Recipient, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id, email, name, tags FROM recipients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("litestore: list recipients: %w", err)
	}
	defer rows.Close()

	var out []admin.Recipient
	for rows.Next() {
		var r admin.Recipient
		var name, tags sql.NullString
		if err := rows.Scan(&r.ID, &r.Email, &name, &tags); err != nil {
			return nil, fmt.Errorf("litestore: scan recipient: %w", err)
		}
		r.Name = name.String
		r.Tags = splitTags(tags.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *AdminStore) CreateRecipient(ctx context.Context, r admin.Recipient) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO recipients (id, email, name, tags) VALUES (?, ?, ?, ?)
	`, r.ID, r.Email, r.Name, joinTags(r.Tags))
	if err != nil {
		return fmt.Errorf("litestore: create recipient: %w", err)
	}
	return nil
}
