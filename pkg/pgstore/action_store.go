package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/latchflow/core/pkg/action"
)

// ActionStore implements action.Store over:
//
//	CREATE TABLE action_definitions (
//	  id TEXT PRIMARY KEY, capability_id TEXT NOT NULL, config_json JSONB
//	);
//
//	CREATE TABLE action_invocations (
//	  action_definition_id TEXT NOT NULL, trigger_event_id TEXT NOT NULL,
//	  status TEXT NOT NULL, started_at TIMESTAMPTZ NOT NULL, finished_at TIMESTAMPTZ NOT NULL,
//	  output_json JSONB, error TEXT
//	);
type ActionStore struct{ db *DB }

// NewActionStore constructs an action.Store over db.
func NewActionStore(db *DB) *ActionStore { return &ActionStore{db: db} }

var _ action.Store = (*ActionStore)(nil)

func (s *ActionStore) GetDefinition(ctx context.Context, actionDefinitionID string) (action.Definition, error) {
	var d action.Definition
	d.ID = actionDefinitionID
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT capability_id, config_json FROM action_definitions WHERE id = $1
	`, actionDefinitionID).Scan(&d.CapabilityID, &d.Config)
	if err != nil {
		return action.Definition{}, fmt.Errorf("pgstore: get action definition: %w", err)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ActionDefinitionID, inv.TriggerEventID, string(inv.Status), inv.StartedAt, inv.FinishedAt, inv.Output, errText)
	if err != nil {
		return fmt.Errorf("pgstore: record invocation: %w", err)
	}
	return nil
}
