package pgstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/latchflow/core/pkg/changelog"
)

// ChangelogStore implements changelog.Store over a changelog_entries table:
//
//	CREATE TABLE changelog_entries (
//	  entity_type TEXT NOT NULL,
//	  entity_id TEXT NOT NULL,
//	  version INT NOT NULL,
//	  is_snapshot BOOLEAN NOT NULL,
//	  state_json JSONB,
//	  diff_json JSONB,
//	  hash TEXT NOT NULL,
//	  actor_json JSONB NOT NULL,
//	  change_note TEXT,
//	  changed_path TEXT,
//	  change_kind TEXT,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (entity_type, entity_id, version)
//	);
type ChangelogStore struct{ db *DB }

// NewChangelogStore constructs a changelog.Store over db.
func NewChangelogStore(db *DB) *ChangelogStore { return &ChangelogStore{db: db} }

var _ changelog.Store = (*ChangelogStore)(nil)

func (s *ChangelogStore) HighestVersion(entityType, entityID string) (int, error) {
	var version sql.NullInt64
	err := s.db.conn.QueryRow(`
		SELECT MAX(version) FROM changelog_entries WHERE entity_type = $1 AND entity_id = $2
	`, entityType, entityID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("pgstore: highest version: %w", err)
	}
	return int(version.Int64), nil
}

func (s *ChangelogStore) AppendEntry(entry *changelog.Entry) error {
	diff, err := json.Marshal(entry.Diff)
	if err != nil {
		return fmt.Errorf("pgstore: marshal diff: %w", err)
	}
	actor, err := json.Marshal(entry.Actor)
	if err != nil {
		return fmt.Errorf("pgstore: marshal actor: %w", err)
	}
	_, err = s.db.conn.Exec(`
		INSERT INTO changelog_entries
			(entity_type, entity_id, version, is_snapshot, state_json, diff_json, hash, actor_json, change_note, changed_path, change_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, entry.EntityType, entry.EntityID, entry.Version, entry.IsSnapshot, entry.State, diff, entry.Hash, actor,
		entry.ChangeNote, entry.ChangedPath, entry.ChangeKind, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: append entry: %w", err)
	}
	return nil
}

func (s *ChangelogStore) ListUpTo(entityType, entityID string, maxVersion int) ([]*changelog.Entry, error) {
	rows, err := s.db.conn.Query(`
		SELECT version, is_snapshot, state_json, diff_json, hash, actor_json, change_note, changed_path, change_kind, created_at
		FROM changelog_entries
		WHERE entity_type = $1 AND entity_id = $2 AND version <= $3
		ORDER BY version ASC
	`, entityType, entityID, maxVersion)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list up to: %w", err)
	}
	defer rows.Close()

	var out []*changelog.Entry
	for rows.Next() {
		e := &changelog.Entry{EntityType: entityType, EntityID: entityID}
		var diff, actor []byte
		if err := rows.Scan(&e.Version, &e.IsSnapshot, &e.State, &diff, &e.Hash, &actor,
			&e.ChangeNote, &e.ChangedPath, &e.ChangeKind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan entry: %w", err)
		}
		if len(diff) > 0 {
			if err := json.Unmarshal(diff, &e.Diff); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal diff: %w", err)
			}
		}
		if err := json.Unmarshal(actor, &e.Actor); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal actor: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
