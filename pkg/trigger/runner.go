// Package trigger implements Latchflow's trigger runner:
// recording a TriggerEvent and fanning out to enabled mapped actions via
// the work queue.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/core/pkg/queue"
)

// Event is TriggerEvent.
type Event struct {
	ID                  string
	TriggerDefinitionID string
	Context             json.RawMessage
	CreatedAt           time.Time
}

// Mapping is an enabled trigger→action edge, ordered by SortOrder.
type Mapping struct {
	ActionDefinitionID string
	SortOrder          int
}

// Store is the persistence boundary: event insertion and enabled-mapping
// resolution. An external collaborator implements it.
type Store interface {
	InsertEvent(ctx context.Context, event Event) error
	EnabledMappings(ctx context.Context, triggerDefinitionID string) ([]Mapping, error)
}

// Runner implements fireTriggerOnce. Idempotency: none at this level —
// duplicate calls intentionally produce duplicate events.
type Runner struct {
	store Store
	queue queue.Queue
	now   func() time.Time
}

// New constructs a Runner over store and queue.
func New(store Store, q queue.Queue) *Runner {
	return &Runner{store: store, queue: q, now: time.Now}
}

// FireOnce inserts a TriggerEvent for triggerDefinitionID, then enqueues one
// action message per enabled mapping, in sortOrder order.
func (r *Runner) FireOnce(ctx context.Context, triggerDefinitionID string, triggerContext json.RawMessage) (Event, error) {
	event := Event{
		ID:                  uuid.NewString(),
		TriggerDefinitionID: triggerDefinitionID,
		Context:             triggerContext,
		CreatedAt:           r.now(),
	}

	if err := r.store.InsertEvent(ctx, event); err != nil {
		return Event{}, fmt.Errorf("trigger: insert event: %w", err)
	}

	mappings, err := r.store.EnabledMappings(ctx, triggerDefinitionID)
	if err != nil {
		return Event{}, fmt.Errorf("trigger: resolve mappings: %w", err)
	}
	sort.SliceStable(mappings, func(i, j int) bool { return mappings[i].SortOrder < mappings[j].SortOrder })

	for _, m := range mappings {
		msg := queue.Message{
			ActionDefinitionID: m.ActionDefinitionID,
			TriggerEventID:     event.ID,
			Context:            triggerContext,
		}
		if err := r.queue.EnqueueAction(ctx, msg); err != nil {
			return event, fmt.Errorf("trigger: enqueue action %s: %w", m.ActionDefinitionID, err)
		}
	}

	return event, nil
}
