package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherLoadsNewPluginDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "echo"), 0755))

	var loads int32
	loader := func(ctx context.Context, pluginDir string) (*Plugin, error) {
		atomic.AddInt32(&loads, 1)
		return &Plugin{
			Name:         filepath.Base(pluginDir),
			Capabilities: []Capability{{Kind: KindAction, Key: "noop"}},
			Actions: map[string]ActionFactory{
				"noop": func(ctx context.Context, config json.RawMessage) (ActionRuntime, error) { return nil, nil },
			},
		}, nil
	}

	registry := NewRegistry()
	w := NewWatcher(dir, registry, loader, 10*time.Millisecond, 20*time.Millisecond, nil)
	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool {
		_, _, err := registry.GetActionFactoryByID("echo:noop")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.GreaterOrEqual(t, atomic.LoadInt32(&loads), int32(1))
}

func TestWatcherRemovesVanishedPlugin(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "echo")
	require.NoError(t, os.Mkdir(pluginDir, 0755))

	loader := func(ctx context.Context, d string) (*Plugin, error) {
		return &Plugin{
			Name:         "echo",
			Capabilities: []Capability{{Kind: KindAction, Key: "noop"}},
			Actions: map[string]ActionFactory{
				"noop": func(ctx context.Context, config json.RawMessage) (ActionRuntime, error) { return nil, nil },
			},
		}, nil
	}

	registry := NewRegistry()
	w := NewWatcher(dir, registry, loader, 10*time.Millisecond, 20*time.Millisecond, nil)
	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool {
		_, _, err := registry.GetActionFactoryByID("echo:noop")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, os.RemoveAll(pluginDir))

	require.Eventually(t, func() bool {
		_, _, err := registry.GetActionFactoryByID("echo:noop")
		return err == ErrNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestManifestAPIVersionCheck(t *testing.T) {
	m := Manifest{Name: "webhook", LatchflowAPIVersion: ">= 2.0.0"}
	err := CheckAPIVersion(m)
	require.Error(t, err)

	m2 := Manifest{Name: "webhook", LatchflowAPIVersion: ">= 1.0.0"}
	require.NoError(t, CheckAPIVersion(m2))
}

func TestValidateCapabilityConfigRejectsBadConfig(t *testing.T) {
	cap := Capability{
		Key: "send",
		ConfigSchema: []byte(`{
			"type": "object",
			"required": ["to"],
			"properties": {"to": {"type": "string"}}
		}`),
	}
	err := ValidateCapabilityConfig(cap, []byte(`{}`))
	require.Error(t, err)

	err = ValidateCapabilityConfig(cap, []byte(`{"to":"a@b.com"}`))
	require.NoError(t, err)
}

func TestEvaluateProviderGuard(t *testing.T) {
	p := Provider{Key: "smtp", Guard: `env == "production"`}
	bound, err := EvaluateProviderGuard(p, map[string]interface{}{"env": "production"})
	require.NoError(t, err)
	require.True(t, bound)

	bound, err = EvaluateProviderGuard(p, map[string]interface{}{"env": "development"})
	require.NoError(t, err)
	require.False(t, bound)
}

func TestEvaluateProviderGuardNoGuardAlwaysBound(t *testing.T) {
	p := Provider{Key: "smtp"}
	bound, err := EvaluateProviderGuard(p, nil)
	require.NoError(t, err)
	require.True(t, bound)
}
