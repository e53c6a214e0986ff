package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultLoaderConfig bounds the sandbox a WASM-backed action capability
// runs under.
type DefaultLoaderConfig struct {
	WASMMemoryLimitBytes int64
	WASMTimeout          time.Duration
}

// NewDefaultLoader returns a Watcher Loader that reads a plug-in directory's
// plugin.yaml, checks its latchflowApiVersion constraint, and wires a
// capability's runtime from what it finds on disk: a "<key>.wasm" file
// backs the capability with a wazero-sandboxed WASMActionRuntime, and the
// reserved key "webhook:post" (no on-disk module) backs it with the
// built-in webhook action factory. A capability matching neither has no
// factory registered and is listed but inert, rather than failing the
// whole plug-in load.
func NewDefaultLoader(cfg DefaultLoaderConfig) Loader {
	if cfg.WASMTimeout <= 0 {
		cfg.WASMTimeout = 30 * time.Second
	}
	return func(ctx context.Context, dir string) (*Plugin, error) {
		manifest, err := LoadManifest(filepath.Join(dir, "plugin.yaml"))
		if err != nil {
			return nil, err
		}
		if err := CheckAPIVersion(manifest); err != nil {
			return nil, err
		}

		plugin := &Plugin{
			Name:         manifest.Name,
			Capabilities: manifest.Capabilities,
			Triggers:     make(map[string]TriggerFactory),
			Actions:      make(map[string]ActionFactory),
		}

		for _, cap := range manifest.Capabilities {
			if cap.Kind != KindAction {
				continue
			}
			wasmPath := filepath.Join(dir, cap.Key+".wasm")
			if data, err := os.ReadFile(wasmPath); err == nil {
				plugin.Actions[cap.Key] = wasmActionFactory(data, cfg)
				continue
			}
			if cap.Key == "webhook:post" {
				plugin.Actions[cap.Key] = NewWebhookActionFactory()
			}
		}

		return plugin, nil
	}
}

// wasmActionFactory closes over a module's source bytes and compiles a
// fresh WASMActionRuntime on each factory call (once per action
// definition); the definition's config is not used.
func wasmActionFactory(wasmBytes []byte, cfg DefaultLoaderConfig) ActionFactory {
	return func(ctx context.Context, config json.RawMessage) (ActionRuntime, error) {
		rt, err := NewWASMActionRuntime(ctx, wasmBytes, cfg.WASMMemoryLimitBytes, cfg.WASMTimeout)
		if err != nil {
			return nil, fmt.Errorf("plugins: build wasm action runtime: %w", err)
		}
		return rt, nil
	}
}
