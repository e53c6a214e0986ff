package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/core/pkg/plugins"
	"github.com/latchflow/core/pkg/queue"
)

var errExecuteFailed = errors.New("execute failed")

type memStore struct {
	defs        map[string]Definition
	invocations []Invocation
}

func (m *memStore) GetDefinition(ctx context.Context, id string) (Definition, error) {
	d, ok := m.defs[id]
	if !ok {
		return Definition{}, plugins.ErrNotFound
	}
	return d, nil
}

func (m *memStore) RecordInvocation(ctx context.Context, inv Invocation) error {
	m.invocations = append(m.invocations, inv)
	return nil
}

type fakeRuntime struct {
	result plugins.ActionResult
	err    error
}

func (f *fakeRuntime) Execute(ctx context.Context, input json.RawMessage) (plugins.ActionResult, error) {
	return f.result, f.err
}

func TestHandlerRecordsSuccess(t *testing.T) {
	registry := plugins.NewRegistry()
	registry.RegisterAction(plugins.RegisterActionArgs{
		PluginName:   "email",
		CapabilityID: "email:send",
		Capability:   plugins.Capability{Key: "send"},
		Factory: func(ctx context.Context, config json.RawMessage) (plugins.ActionRuntime, error) {
			return &fakeRuntime{result: plugins.ActionResult{Output: json.RawMessage(`{"ok":true}`)}}, nil
		},
	})
	store := &memStore{defs: map[string]Definition{"act-1": {ID: "act-1", CapabilityID: "email:send"}}}
	consumer := New(store, registry, nil, nil)

	handler := consumer.Handler(nil)
	err := handler(context.Background(), queue.Message{ActionDefinitionID: "act-1"})
	require.NoError(t, err)
	require.Len(t, store.invocations, 1)
	require.Equal(t, StatusSuccess, store.invocations[0].Status)
}

func TestHandlerRecordsFailedOnExecuteError(t *testing.T) {
	registry := plugins.NewRegistry()
	registry.RegisterAction(plugins.RegisterActionArgs{
		PluginName:   "email",
		CapabilityID: "email:send",
		Capability:   plugins.Capability{Key: "send"},
		Factory: func(ctx context.Context, config json.RawMessage) (plugins.ActionRuntime, error) {
			return &fakeRuntime{err: errExecuteFailed}, nil
		},
	})
	store := &memStore{defs: map[string]Definition{"act-1": {ID: "act-1", CapabilityID: "email:send"}}}
	consumer := New(store, registry, nil, nil)

	handler := consumer.Handler(nil)
	err := handler(context.Background(), queue.Message{ActionDefinitionID: "act-1"})
	require.NoError(t, err)
	require.Len(t, store.invocations, 1)
	require.Equal(t, StatusFailed, store.invocations[0].Status)
	require.Contains(t, store.invocations[0].Error, "execute failed")
}

func TestHandlerRecordsFailedWhenDefinitionMissing(t *testing.T) {
	registry := plugins.NewRegistry()
	store := &memStore{defs: map[string]Definition{}}
	consumer := New(store, registry, nil, nil)

	handler := consumer.Handler(nil)
	err := handler(context.Background(), queue.Message{ActionDefinitionID: "missing"})
	require.NoError(t, err)
	require.Len(t, store.invocations, 1)
	require.Equal(t, StatusFailed, store.invocations[0].Status)
}

func TestHandlerRetryRequeuesAfterDelay(t *testing.T) {
	registry := plugins.NewRegistry()
	registry.RegisterAction(plugins.RegisterActionArgs{
		PluginName:   "email",
		CapabilityID: "email:send",
		Capability:   plugins.Capability{Key: "send"},
		Factory: func(ctx context.Context, config json.RawMessage) (plugins.ActionRuntime, error) {
			return &fakeRuntime{result: plugins.ActionResult{Retry: &plugins.RetryRequest{DelayMs: 10, Reason: "rate limited"}}}, nil
		},
	})
	store := &memStore{defs: map[string]Definition{"act-1": {ID: "act-1", CapabilityID: "email:send"}}}
	consumer := New(store, registry, nil, nil)

	var requeuedDelay time.Duration
	var requeuedMsg queue.Message
	handler := consumer.Handler(func(ctx context.Context, msg queue.Message, delay time.Duration) error {
		requeuedDelay = delay
		requeuedMsg = msg
		return nil
	})

	err := handler(context.Background(), queue.Message{ActionDefinitionID: "act-1"})
	require.NoError(t, err)
	require.Equal(t, StatusRetry, store.invocations[0].Status)
	require.Equal(t, 10*time.Millisecond, requeuedDelay)
	require.Equal(t, "act-1", requeuedMsg.ActionDefinitionID)
}
