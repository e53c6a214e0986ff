package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASMActionRuntime backs an action capability with a compiled .wasm
// module run through wazero instead of an in-process Go factory, isolating
// third-party action code from the host process.
type WASMActionRuntime struct {
	runtime   wazero.Runtime
	module    wazero.CompiledModule
	timeout   time.Duration
	closeOnce func(context.Context) error
}

// NewWASMActionRuntime compiles wasmBytes under a deny-by-default WASI
// configuration (no filesystem mounts, no network, no ambient env, a
// memory page ceiling) and returns a runtime ready to Execute invocations.
func NewWASMActionRuntime(ctx context.Context, wasmBytes []byte, memoryLimitBytes int64, timeout time.Duration) (*WASMActionRuntime, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if memoryLimitBytes > 0 {
		pages := uint32(memoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("plugins: instantiate wasi: %w", err)
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("plugins: compile wasm module: %w", err)
	}

	return &WASMActionRuntime{
		runtime: r,
		module:  compiled,
		timeout: timeout,
	}, nil
}

// Execute runs the compiled module once, feeding input as JSON on stdin and
// parsing stdout as the action's output payload. Deny-by-default: no
// filesystem, network, or ambient env is wired into the module config.
func (w *WASMActionRuntime) Execute(ctx context.Context, input json.RawMessage) (ActionResult, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("latchflow-action").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := w.runtime.InstantiateModule(ctx, w.module, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return ActionResult{}, fmt.Errorf("plugins: wasm action timed out: %w", ctx.Err())
		}
		return ActionResult{}, fmt.Errorf("plugins: instantiate wasm action: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return ActionResult{}, fmt.Errorf("plugins: wasm action stderr: %s", stderr.String())
	}

	return ActionResult{Output: json.RawMessage(stdout.Bytes())}, nil
}

// Close releases the wazero runtime and its compiled module.
func (w *WASMActionRuntime) Close(ctx context.Context) error {
	if err := w.module.Close(ctx); err != nil {
		return fmt.Errorf("plugins: close wasm module: %w", err)
	}
	if err := w.runtime.Close(ctx); err != nil {
		return fmt.Errorf("plugins: close wasm runtime: %w", err)
	}
	return nil
}
