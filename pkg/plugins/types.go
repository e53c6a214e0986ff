// Package plugins implements Latchflow's plug-in capability registry and
// directory hot-reload.
package plugins

import (
	"context"
	"encoding/json"
)

// Kind distinguishes the two capability shapes a plug-in may register.
type Kind string

const (
	KindTrigger Kind = "TRIGGER"
	KindAction  Kind = "ACTION"
)

// Capability describes a single trigger or action a plug-in exposes.
type Capability struct {
	Kind         Kind            `json:"kind" yaml:"kind"`
	Key          string          `json:"key" yaml:"key"`
	DisplayName  string          `json:"displayName" yaml:"displayName"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty" yaml:"configSchema,omitempty"`
}

// TriggerRuntime is produced by a TriggerFactory for an active trigger
// definition.
type TriggerRuntime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ConfigChanger is optionally implemented by a TriggerRuntime that can
// rebind to new config without a full stop/start.
type ConfigChanger interface {
	OnConfigChange(ctx context.Context, config json.RawMessage) error
}

// Disposer is optionally implemented by either runtime kind for
// plug-in-directed teardown beyond Stop/Execute.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// ActionResult is returned by an ActionRuntime's Execute.
type ActionResult struct {
	Output json.RawMessage
	Retry  *RetryRequest
}

// RetryRequest asks the action consumer to reschedule the same message.
type RetryRequest struct {
	DelayMs int64
	Reason  string
}

// ActionRuntime executes a single action invocation.
type ActionRuntime interface {
	Execute(ctx context.Context, input json.RawMessage) (ActionResult, error)
}

// TriggerFactory constructs a TriggerRuntime bound to a trigger
// definition's stored config.
type TriggerFactory func(ctx context.Context, config json.RawMessage) (TriggerRuntime, error)

// ActionFactory constructs an ActionRuntime bound to an action definition's
// stored config.
type ActionFactory func(ctx context.Context, config json.RawMessage) (ActionRuntime, error)

// Provider is an extension descriptor: a third-party service bound to a
// system-config key, validated against a schema before becoming active.
// Only the interface shape lives here; concrete provider backends are
// external.
type Provider struct {
	Key          string
	ConfigSchema json.RawMessage
	// Guard, if set, is a CEL expression gating whether the provider is
	// considered bound, evaluated against system config. Fail-closed on
	// evaluation error.
	Guard string
}

// Plugin is the exported shape a plug-in module provides: a name, a
// capability list, optional trigger/action factories keyed by capability
// key, optional providers, and lifecycle hooks.
type Plugin struct {
	Name         string
	Capabilities []Capability
	Triggers     map[string]TriggerFactory
	Actions      map[string]ActionFactory
	Providers    []Provider
	Register     func(ctx context.Context) error
	Dispose      func(ctx context.Context) error
}

// Manifest is the on-disk plugin.yaml descriptor a plug-in directory
// carries: its name, the core API version it targets, and its declared
// capabilities.
type Manifest struct {
	Name                string       `yaml:"name"`
	LatchflowAPIVersion string       `yaml:"latchflowApiVersion"`
	Capabilities        []Capability `yaml:"capabilities"`
}
