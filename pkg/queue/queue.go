// Package queue implements Latchflow's abstract at-least-once
// action-message queue: enqueue/consume/stop plus an
// in-memory reference driver and a Postgres-backed outbox-style driver for
// durable single-process deployments, and an optional Redis-list driver for
// multi-process fan-out.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is the unit of work a trigger fan-out enqueues and an action
// consumer dequeues.
type Message struct {
	ActionDefinitionID string          `json:"actionDefinitionId"`
	TriggerEventID     string          `json:"triggerEventId,omitempty"`
	ManualInvokerID    string          `json:"manualInvokerId,omitempty"`
	Context            json.RawMessage `json:"context,omitempty"`
}

// Handler processes a dequeued Message. What a driver does with a returned
// error is driver-specific: PostgresQueue leaves the message pending for a
// later poll, while InMemoryQueue and RedisQueue drop it.
type Handler func(ctx context.Context, msg Message) error

// Queue is the minimal work-queue interface: enqueue, a single
// registered consumer handler, and a stop signal. FIFO within a single-
// process driver; a durable/distributed driver must preserve FIFO per
// partition.
type Queue interface {
	EnqueueAction(ctx context.Context, msg Message) error
	ConsumeActions(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// ErrStopped is returned by EnqueueAction/ConsumeActions once Stop has been
// called.
var ErrStopped = fmt.Errorf("queue: stopped")
