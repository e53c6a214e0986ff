package pgstore

import (
	"context"
	"fmt"

	"github.com/latchflow/core/pkg/trigger"
)

// TriggerStore implements trigger.Store over:
//
//	CREATE TABLE trigger_events (
//	  id TEXT PRIMARY KEY, trigger_definition_id TEXT NOT NULL,
//	  context_json JSONB, created_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE trigger_action_mappings (
//	  trigger_definition_id TEXT NOT NULL, action_definition_id TEXT NOT NULL,
//	  sort_order INT NOT NULL DEFAULT 0, enabled BOOLEAN NOT NULL DEFAULT true
//	);
type TriggerStore struct{ db *DB }

// NewTriggerStore constructs a trigger.Store over db.
func NewTriggerStore(db *DB) *TriggerStore { return &TriggerStore{db: db} }

var _ trigger.Store = (*TriggerStore)(nil)

func (s *TriggerStore) InsertEvent(ctx context.Context, event trigger.Event) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO trigger_events (id, trigger_definition_id, context_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, event.ID, event.TriggerDefinitionID, event.Context, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: insert trigger event: %w", err)
	}
	return nil
}

func (s *TriggerStore) EnabledMappings(ctx context.Context, triggerDefinitionID string) ([]trigger.Mapping, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT action_definition_id, sort_order FROM trigger_action_mappings
		WHERE trigger_definition_id = $1 AND enabled = true
		ORDER BY sort_order
	`, triggerDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: enabled mappings: %w", err)
	}
	defer rows.Close()

	var out []trigger.Mapping
	for rows.Next() {
		var m trigger.Mapping
		if err := rows.Scan(&m.ActionDefinitionID, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("pgstore: scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
