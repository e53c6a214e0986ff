package litestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/latchflow/core/pkg/action"
	"github.com/latchflow/core/pkg/trigger"
)

// TriggerStore implements trigger.Store, the SQLite-dialect twin of
// pgstore.TriggerStore.
type TriggerStore struct{ db *DB }

func NewTriggerStore(db *DB) *TriggerStore { return &TriggerStore{db: db} }

var _ trigger.Store = (*TriggerStore)(nil)

func (s *TriggerStore) InsertEvent(ctx context.Context, event trigger.Event) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO trigger_events (id, trigger_definition_id, context_json, created_at) VALUES (?, ?, ?, ?)
	`, event.ID, event.TriggerDefinitionID, string(event.Context), timeStr(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("litestore: insert trigger event: %w", err)
	}
	return nil
}

func (s *TriggerStore) EnabledMappings(ctx context.Context, triggerDefinitionID string) ([]trigger.Mapping, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT action_definition_id, sort_order FROM trigger_action_mappings
		WHERE trigger_definition_id = ? AND enabled = 1
		ORDER BY sort_order
	`, triggerDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("litestore: enabled mappings: %w", err)
	}
	defer rows.Close()

	var out []trigger.Mapping
	for rows.Next() {
		var m trigger.Mapping
		if err := rows.Scan(&m.ActionDefinitionID, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("litestore: scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActionStore implements action.Store, the SQLite-dialect twin of
// pgstore.ActionStore.
type ActionStore struct{ db *DB }

func NewActionStore(db *DB) *ActionStore { return &ActionStore{db: db} }

var _ action.Store = (*ActionStore)(nil)

func (s *ActionStore) GetDefinition(ctx context.Context, actionDefinitionID string) (action.Definition, error) {
	var d action.Definition
	d.ID = actionDefinitionID
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT capability_id, config_json FROM action_definitions WHERE id = ?
	`, actionDefinitionID).Scan(&d.CapabilityID, &d.Config)
	if err != nil {
		return action.Definition{}, fmt.Errorf("litestore: get action definition: %w", err)
	}
	return d, nil
}

func (s *ActionStore) RecordInvocation(ctx context.Context, inv action.Invocation) error {
	var errText sql.NullString
	if inv.Error != "" {
		errText = sql.NullString{String: inv.Error, Valid: true}
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO action_invocations (action_definition_id, trigger_event_id, status, started_at, finished_at, output_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, inv.ActionDefinitionID, inv.TriggerEventID, string(inv.Status), timeStr(inv.StartedAt), timeStr(inv.FinishedAt), inv.Output, errText)
	if err != nil {
		return fmt.Errorf("litestore: record invocation: %w", err)
	}
	return nil
}
