// Package action implements Latchflow's action consumer:
// draining the work queue, resolving the capability factory from the
// plug-in registry, invoking it, and recording an ActionInvocation.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/latchflow/core/pkg/plugins"
	"github.com/latchflow/core/pkg/queue"
)

// Status is an ActionInvocation's terminal status.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusRetry   Status = "RETRY"
)

// Invocation is ActionInvocation.
type Invocation struct {
	ActionDefinitionID string
	TriggerEventID     string
	Status             Status
	StartedAt          time.Time
	FinishedAt         time.Time
	Output             json.RawMessage
	Error              string
}

// Definition is the stored configuration for an action definition: which
// capability backs it and its materialized (optionally decrypted) config.
type Definition struct {
	ID           string
	CapabilityID string
	Config       json.RawMessage
}

// Store resolves action definitions and records invocations.
type Store interface {
	GetDefinition(ctx context.Context, actionDefinitionID string) (Definition, error)
	RecordInvocation(ctx context.Context, inv Invocation) error
}

// Metrics holds the OTel instruments the consumer emits on success: an
// invocation counter and a duration histogram.
type Metrics struct {
	Invocations metric.Int64Counter
	Duration    metric.Float64Histogram
}

// ConfigDecrypter reverses at-rest encryption of an action definition's
// stored config. Implemented by kms.Manager; nil means configs are stored
// in the clear.
type ConfigDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Consumer drains a queue.Queue, resolving and invoking the registered
// action factory for each message.
type Consumer struct {
	store    Store
	registry *plugins.Registry
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time

	// Decrypter, when set, materializes encrypted definition configs
	// before they reach the capability factory.
	Decrypter ConfigDecrypter
}

// New constructs a Consumer. metrics may be nil to disable instrumentation.
func New(store Store, registry *plugins.Registry, metrics *Metrics, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{store: store, registry: registry, metrics: metrics, log: log, now: time.Now}
}

// Handler returns a queue.Handler bound to this consumer, for registration
// with queue.Queue.ConsumeActions. A Retry result reschedules the same
// message via requeue after DelayMs; a handler-level error records FAILED
// without crashing the process.
func (c *Consumer) Handler(requeue func(ctx context.Context, msg queue.Message, delay time.Duration) error) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		return c.handle(ctx, msg, requeue)
	}
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message, requeue func(context.Context, queue.Message, time.Duration) error) error {
	started := c.now()

	def, err := c.store.GetDefinition(ctx, msg.ActionDefinitionID)
	if err != nil {
		c.recordFailure(ctx, msg, started, fmt.Errorf("action: load definition: %w", err))
		return nil
	}

	factory, capability, err := c.registry.GetActionFactoryByID(def.CapabilityID)
	if err != nil {
		c.recordFailure(ctx, msg, started, fmt.Errorf("action: resolve capability %s: %w", def.CapabilityID, err))
		return nil
	}

	config := def.Config
	if c.Decrypter != nil && len(config) > 0 && !json.Valid(config) {
		plain, err := c.Decrypter.Decrypt(string(config))
		if err != nil {
			c.recordFailure(ctx, msg, started, fmt.Errorf("action: decrypt config: %w", err))
			return nil
		}
		config = json.RawMessage(plain)
	}
	if err := plugins.ValidateCapabilityConfig(capability, config); err != nil {
		c.recordFailure(ctx, msg, started, fmt.Errorf("action: config rejected: %w", err))
		return nil
	}

	runtime, err := factory(ctx, config)
	if err != nil {
		c.recordFailure(ctx, msg, started, fmt.Errorf("action: construct runtime: %w", err))
		return nil
	}

	result, err := runtime.Execute(ctx, msg.Context)
	finished := c.now()

	if err != nil {
		c.record(ctx, Invocation{
			ActionDefinitionID: msg.ActionDefinitionID,
			TriggerEventID:     msg.TriggerEventID,
			Status:             StatusFailed,
			StartedAt:          started,
			FinishedAt:         finished,
			Error:              err.Error(),
		})
		return nil
	}

	if result.Retry != nil {
		c.record(ctx, Invocation{
			ActionDefinitionID: msg.ActionDefinitionID,
			TriggerEventID:     msg.TriggerEventID,
			Status:             StatusRetry,
			StartedAt:          started,
			FinishedAt:         finished,
			Error:              result.Retry.Reason,
		})
		if requeue != nil {
			delay := time.Duration(result.Retry.DelayMs) * time.Millisecond
			if err := requeue(ctx, msg, delay); err != nil {
				c.log.Error("action: requeue retry failed", "actionDefinitionId", msg.ActionDefinitionID, "error", err)
			}
		}
		return nil
	}

	c.record(ctx, Invocation{
		ActionDefinitionID: msg.ActionDefinitionID,
		TriggerEventID:     msg.TriggerEventID,
		Status:             StatusSuccess,
		StartedAt:          started,
		FinishedAt:         finished,
		Output:             result.Output,
	})

	if c.metrics != nil && c.metrics.Invocations != nil && c.metrics.Duration != nil {
		attrs := attribute.NewSet(attribute.String("action_definition_id", msg.ActionDefinitionID),
			attribute.String("capability_id", def.CapabilityID),
			attribute.String("status", string(StatusSuccess)))
		c.metrics.Invocations.Add(ctx, 1, metric.WithAttributeSet(attrs))
		c.metrics.Duration.Record(ctx, float64(finished.Sub(started).Microseconds())/1000.0, metric.WithAttributeSet(attrs))
	}

	return nil
}

func (c *Consumer) recordFailure(ctx context.Context, msg queue.Message, started time.Time, err error) {
	c.log.Error("action: invocation failed before execute", "actionDefinitionId", msg.ActionDefinitionID, "error", err)
	c.record(ctx, Invocation{
		ActionDefinitionID: msg.ActionDefinitionID,
		TriggerEventID:     msg.TriggerEventID,
		Status:             StatusFailed,
		StartedAt:          started,
		FinishedAt:         c.now(),
		Error:              err.Error(),
	})
}

func (c *Consumer) record(ctx context.Context, inv Invocation) {
	if err := c.store.RecordInvocation(ctx, inv); err != nil {
		c.log.Error("action: record invocation failed", "actionDefinitionId", inv.ActionDefinitionID, "error", err)
	}
}
