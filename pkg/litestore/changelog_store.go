package litestore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/latchflow/core/pkg/changelog"
)

// ChangelogStore implements changelog.Store against the changelog_entries
// table litestore's schema creates, the SQLite-dialect twin of
// pgstore.ChangelogStore.
type ChangelogStore struct{ db *DB }

func NewChangelogStore(db *DB) *ChangelogStore { return &ChangelogStore{db: db} }

var _ changelog.Store = (*ChangelogStore)(nil)

func (s *ChangelogStore) HighestVersion(entityType, entityID string) (int, error) {
	var v sql.NullInt64
	err := s.db.conn.QueryRow(`
		SELECT MAX(version) FROM changelog_entries WHERE entity_type = ? AND entity_id = ?
	`, entityType, entityID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("litestore: highest version: %w", err)
	}
	return int(v.Int64), nil
}

func (s *ChangelogStore) AppendEntry(entry *changelog.Entry) error {
	diffJSON, err := json.Marshal(entry.Diff)
	if err != nil {
		return fmt.Errorf("litestore: marshal diff: %w", err)
	}
	actorJSON, err := json.Marshal(entry.Actor)
	if err != nil {
		return fmt.Errorf("litestore: marshal actor: %w", err)
	}
	_, err = s.db.conn.Exec(`
		INSERT INTO changelog_entries
			(entity_type, entity_id, version, is_snapshot, state_json, diff_json, hash, actor_json, change_note, changed_path, change_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.EntityType, entry.EntityID, entry.Version, entry.IsSnapshot, string(entry.State), string(diffJSON),
		entry.Hash, string(actorJSON), entry.ChangeNote, entry.ChangedPath, entry.ChangeKind, timeStr(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("litestore: append entry: %w", err)
	}
	return nil
}

func (s *ChangelogStore) ListUpTo(entityType, entityID string, maxVersion int) ([]*changelog.Entry, error) {
	rows, err := s.db.conn.Query(`
		SELECT version, is_snapshot, state_json, diff_json, hash, actor_json, change_note, changed_path, change_kind, created_at
		FROM changelog_entries WHERE entity_type = ? AND entity_id = ? AND version <= ? ORDER BY version ASC
	`, entityType, entityID, maxVersion)
	if err != nil {
		return nil, fmt.Errorf("litestore: list up to: %w", err)
	}
	defer rows.Close()

	var out []*changelog.Entry
	for rows.Next() {
		e := &changelog.Entry{EntityType: entityType, EntityID: entityID}
		var diffJSON, actorJSON, createdAt string
		if err := rows.Scan(&e.Version, &e.IsSnapshot, &e.State, &diffJSON, &e.Hash, &actorJSON,
			&e.ChangeNote, &e.ChangedPath, &e.ChangeKind, &createdAt); err != nil {
			return nil, fmt.Errorf("litestore: scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(diffJSON), &e.Diff); err != nil {
			return nil, fmt.Errorf("litestore: decode diff: %w", err)
		}
		if err := json.Unmarshal([]byte(actorJSON), &e.Actor); err != nil {
			return nil, fmt.Errorf("litestore: decode actor: %w", err)
		}
		e.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("litestore: parse created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
