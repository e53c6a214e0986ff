package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresQueue is a durable single-process driver backed by an
// action_outbox table. A deployment expecting true multi-process FIFO
// should prefer the Redis driver or an external collaborator; this driver's
// ConsumeActions polls.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresQueue constructs a driver over db. The caller is responsible
// for migrating the action_outbox table:
//
//	CREATE TABLE action_outbox (
//	  id TEXT PRIMARY KEY,
//	  message_json JSONB NOT NULL,
//	  scheduled_at TIMESTAMPTZ NOT NULL,
//	  status TEXT NOT NULL DEFAULT 'PENDING'
//	);
func NewPostgresQueue(db *sql.DB, pollInterval time.Duration) *PostgresQueue {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &PostgresQueue{db: db, pollInterval: pollInterval}
}

// EnqueueAction inserts msg as a PENDING row.
func (q *PostgresQueue) EnqueueAction(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO action_outbox (id, message_json, scheduled_at, status)
		VALUES ($1, $2, $3, 'PENDING')
		ON CONFLICT (id) DO NOTHING
	`, uuid.NewString(), payload, time.Now())
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// ConsumeActions polls for PENDING rows in scheduled_at order, claims the
// oldest, invokes handler, and marks it DONE on success (a handler error
// leaves the row PENDING for a later poll, preserving at-least-once
// delivery).
func (q *PostgresQueue) ConsumeActions(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := q.drainOnce(ctx, handler); err != nil {
				return err
			}
		}
	}
}

func (q *PostgresQueue) drainOnce(ctx context.Context, handler Handler) error {
	for {
		id, msg, ok, err := q.claimOldest(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := handler(ctx, msg); err != nil {
			// leave the row PENDING and stop draining until the next poll
			return nil
		}
		if _, err := q.db.ExecContext(ctx, `UPDATE action_outbox SET status = 'DONE' WHERE id = $1`, id); err != nil {
			return fmt.Errorf("queue: mark done %s: %w", id, err)
		}
	}
}

func (q *PostgresQueue) claimOldest(ctx context.Context) (id string, msg Message, ok bool, err error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, message_json FROM action_outbox
		WHERE status = 'PENDING'
		ORDER BY scheduled_at ASC
		LIMIT 1
	`)
	var payload []byte
	if err := row.Scan(&id, &payload); err != nil {
		if err == sql.ErrNoRows {
			return "", Message{}, false, nil
		}
		return "", Message{}, false, fmt.Errorf("queue: claim oldest: %w", err)
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", Message{}, false, fmt.Errorf("queue: corrupt message %s: %w", id, err)
	}
	return id, msg, true, nil
}

// Stop is a no-op for PostgresQueue; ConsumeActions returns when ctx is
// canceled.
func (q *PostgresQueue) Stop(ctx context.Context) error { return nil }
