package plugins

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTriggerRuntime struct {
	stopped  bool
	disposed bool
}

func (f *fakeTriggerRuntime) Start(ctx context.Context) error { return nil }
func (f *fakeTriggerRuntime) Stop(ctx context.Context) error  { f.stopped = true; return nil }
func (f *fakeTriggerRuntime) Dispose(ctx context.Context) error {
	f.disposed = true
	return nil
}

func TestRegisterAndGetTriggerFactory(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RegisterTrigger(RegisterTriggerArgs{
		PluginName:   "webhook",
		CapabilityID: "webhook:incoming",
		Capability:   Capability{Kind: KindTrigger, Key: "incoming"},
		Factory: func(ctx context.Context, config json.RawMessage) (TriggerRuntime, error) {
			called = true
			return &fakeTriggerRuntime{}, nil
		},
	})

	factory, cap, err := r.GetTriggerFactoryByID("webhook:incoming")
	require.NoError(t, err)
	require.Equal(t, "incoming", cap.Key)
	_, _ = factory(context.Background(), nil)
	require.True(t, called)
}

func TestGetUnknownCapabilityReturnsErrNotFound(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.GetActionFactoryByID("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemovePluginStopsAndDisposesRuntimes(t *testing.T) {
	r := NewRegistry()
	r.RegisterTrigger(RegisterTriggerArgs{
		PluginName:   "webhook",
		CapabilityID: "webhook:incoming",
		Capability:   Capability{Kind: KindTrigger, Key: "incoming"},
		Factory: func(ctx context.Context, config json.RawMessage) (TriggerRuntime, error) {
			return &fakeTriggerRuntime{}, nil
		},
	})
	rt := &fakeTriggerRuntime{}
	r.SetTriggerRuntime("webhook:incoming", rt)

	err := r.RemovePlugin(context.Background(), "webhook")
	require.NoError(t, err)
	require.True(t, rt.stopped)
	require.True(t, rt.disposed)

	_, _, err = r.GetTriggerFactoryByID("webhook:incoming")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCapabilitiesForPluginReflectsRegistrations(t *testing.T) {
	r := NewRegistry()
	r.RegisterAction(RegisterActionArgs{
		PluginName:   "email",
		CapabilityID: "email:send",
		Capability:   Capability{Kind: KindAction, Key: "send"},
		Factory: func(ctx context.Context, config json.RawMessage) (ActionRuntime, error) {
			return nil, nil
		},
	})
	ids := r.CapabilitiesForPlugin("email")
	require.Equal(t, []string{"email:send"}, ids)
}
