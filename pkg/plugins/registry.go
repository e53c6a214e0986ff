package plugins

import (
	"context"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a capability id has no registered factory.
var ErrNotFound = fmt.Errorf("plugins: capability not found")

type triggerEntry struct {
	pluginName   string
	pluginID     string
	capabilityID string
	capability   Capability
	factory      TriggerFactory
	runtime      TriggerRuntime
}

type actionEntry struct {
	pluginName   string
	pluginID     string
	capabilityID string
	capability   Capability
	factory      ActionFactory
}

// Registry holds every active trigger/action factory, indexed by capability
// id.
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]*triggerEntry
	actions  map[string]*actionEntry
	// byPlugin indexes capability ids by owning plug-in name, for
	// RemovePlugin's teardown sweep.
	byPlugin map[string][]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]*triggerEntry),
		actions:  make(map[string]*actionEntry),
		byPlugin: make(map[string][]string),
	}
}

// RegisterTriggerArgs mirrors registerTrigger signature.
type RegisterTriggerArgs struct {
	PluginName   string
	PluginID     string
	CapabilityID string
	Capability   Capability
	Factory      TriggerFactory
}

// RegisterTrigger indexes a trigger factory by capability id.
func (r *Registry) RegisterTrigger(args RegisterTriggerArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[args.CapabilityID] = &triggerEntry{
		pluginName:   args.PluginName,
		pluginID:     args.PluginID,
		capabilityID: args.CapabilityID,
		capability:   args.Capability,
		factory:      args.Factory,
	}
	r.byPlugin[args.PluginName] = append(r.byPlugin[args.PluginName], args.CapabilityID)
}

// RegisterActionArgs mirrors registerAction signature.
type RegisterActionArgs struct {
	PluginName   string
	PluginID     string
	CapabilityID string
	Capability   Capability
	Factory      ActionFactory
}

// RegisterAction indexes an action factory by capability id.
func (r *Registry) RegisterAction(args RegisterActionArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[args.CapabilityID] = &actionEntry{
		pluginName:   args.PluginName,
		pluginID:     args.PluginID,
		capabilityID: args.CapabilityID,
		capability:   args.Capability,
		factory:      args.Factory,
	}
	r.byPlugin[args.PluginName] = append(r.byPlugin[args.PluginName], args.CapabilityID)
}

// GetTriggerFactoryByID resolves a registered trigger factory.
func (r *Registry) GetTriggerFactoryByID(capabilityID string) (TriggerFactory, Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.triggers[capabilityID]
	if !ok {
		return nil, Capability{}, ErrNotFound
	}
	return e.factory, e.capability, nil
}

// GetActionFactoryByID resolves a registered action factory.
func (r *Registry) GetActionFactoryByID(capabilityID string) (ActionFactory, Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[capabilityID]
	if !ok {
		return nil, Capability{}, ErrNotFound
	}
	return e.factory, e.capability, nil
}

// SetTriggerRuntime records the live runtime instance for a capability id,
// so RemovePlugin can stop it during teardown.
func (r *Registry) SetTriggerRuntime(capabilityID string, rt TriggerRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.triggers[capabilityID]; ok {
		e.runtime = rt
	}
}

// RemovePlugin tears down every running trigger runtime owned by
// pluginName, then removes its capability entries.
func (r *Registry) RemovePlugin(ctx context.Context, pluginName string) error {
	r.mu.Lock()
	capIDs := r.byPlugin[pluginName]
	var runtimes []TriggerRuntime
	for _, id := range capIDs {
		if e, ok := r.triggers[id]; ok {
			if e.runtime != nil {
				runtimes = append(runtimes, e.runtime)
			}
			delete(r.triggers, id)
		}
		delete(r.actions, id)
	}
	delete(r.byPlugin, pluginName)
	r.mu.Unlock()

	var firstErr error
	for _, rt := range runtimes {
		if err := rt.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("plugins: stop trigger runtime for %s: %w", pluginName, err)
		}
		if d, ok := rt.(Disposer); ok {
			if err := d.Dispose(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("plugins: dispose trigger runtime for %s: %w", pluginName, err)
			}
		}
	}
	return firstErr
}

// CapabilitiesForPlugin lists the capability ids currently owned by
// pluginName.
func (r *Registry) CapabilitiesForPlugin(pluginName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byPlugin[pluginName]))
	copy(out, r.byPlugin[pluginName])
	return out
}
