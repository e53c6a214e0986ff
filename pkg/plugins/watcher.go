package plugins

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultReloadDebounce is the per-plug-in debounce window for
// coalescing rapid directory changes into one reload.
const DefaultReloadDebounce = 150 * time.Millisecond

// DefaultPollInterval is how often the watcher re-scans the plug-ins
// directory for new/changed/removed subdirectories. Polling keeps the
// watcher portable across platforms and network mounts where filesystem
// notification is unreliable.
const DefaultPollInterval = 1 * time.Second

// Loader loads (or reloads) a single plug-in directory into a *Plugin. An
// external collaborator resolves the actual Go plug-in/module loading
// mechanism (in-process registration, exec'd subprocess, or a wazero-hosted
// WASM module); the watcher only owns directory change detection and
// debounce/single-flight sequencing.
type Loader func(ctx context.Context, dir string) (*Plugin, error)

// Watcher polls a plug-ins directory, debounces per-plug-in changes, and
// drives Registry.RemovePlugin + re-registration on (re)load.
type Watcher struct {
	dir      string
	registry *Registry
	load     Loader
	debounce time.Duration
	poll     time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	known     map[string]time.Time // plugin name -> last seen mtime
	pending   map[string]*time.Timer
	reloading map[string]bool // single-flight guard

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher constructs a Watcher over dir. debounce/poll <=0 use defaults.
func NewWatcher(dir string, registry *Registry, load Loader, debounce, poll time.Duration, log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:       dir,
		registry:  registry,
		load:      load,
		debounce:  debounce,
		poll:      poll,
		log:       log,
		known:     make(map[string]time.Time),
		pending:   make(map[string]*time.Timer),
		reloading: make(map[string]bool),
	}
}

// Start begins polling in a background goroutine. Calling Start twice is a
// programmer error.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.scan(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and all pending per-plug-in debounce timers,
// then waits for the poll loop to exit. A reload whose timer has already
// fired is not waited for.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()
	if w.done != nil {
		<-w.done
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("plugins: read plugins dir", "dir", w.dir, "error", err)
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		seen[name] = true

		info, err := e.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime()

		w.mu.Lock()
		last, known := w.known[name]
		changed := !known || mtime.After(last)
		if changed {
			w.known[name] = mtime
		}
		w.mu.Unlock()

		if changed {
			w.debounceReload(ctx, name)
		}
	}

	w.mu.Lock()
	var removed []string
	for name := range w.known {
		if !seen[name] {
			removed = append(removed, name)
		}
	}
	for _, name := range removed {
		delete(w.known, name)
	}
	w.mu.Unlock()

	for _, name := range removed {
		if err := w.registry.RemovePlugin(ctx, name); err != nil {
			w.log.Error("plugins: remove vanished plugin", "plugin", name, "error", err)
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context, name string) {
	w.mu.Lock()
	if t, ok := w.pending[name]; ok {
		t.Stop()
	}
	w.pending[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, name)
		w.mu.Unlock()
		w.reload(ctx, name)
	})
	w.mu.Unlock()
}

// reload is single-flighted per plug-in name: a reload already in progress
// for name absorbs the signal that triggered this call rather than racing
// it.
func (w *Watcher) reload(ctx context.Context, name string) {
	w.mu.Lock()
	if w.reloading[name] {
		w.mu.Unlock()
		return
	}
	w.reloading[name] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.reloading, name)
		w.mu.Unlock()
	}()

	dir := filepath.Join(w.dir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := w.registry.RemovePlugin(ctx, name); err != nil {
			w.log.Error("plugins: remove missing plugin", "plugin", name, "error", err)
		}
		return
	}

	if err := w.registry.RemovePlugin(ctx, name); err != nil {
		w.log.Error("plugins: teardown before reload", "plugin", name, "error", err)
	}

	plugin, err := w.load(ctx, dir)
	if err != nil {
		w.log.Error("plugins: load plugin", "plugin", name, "dir", dir, "error", err)
		return
	}

	registerPlugin(ctx, w.registry, plugin)
}

// registerPlugin wires a loaded *Plugin's capabilities into registry,
// matching factories to capability keys and calling the plug-in's
// Register hook, if any.
func registerPlugin(ctx context.Context, registry *Registry, plugin *Plugin) {
	for _, cap := range plugin.Capabilities {
		capID := plugin.Name + ":" + cap.Key
		switch cap.Kind {
		case KindTrigger:
			if factory, ok := plugin.Triggers[cap.Key]; ok {
				registry.RegisterTrigger(RegisterTriggerArgs{
					PluginName:   plugin.Name,
					PluginID:     plugin.Name,
					CapabilityID: capID,
					Capability:   cap,
					Factory:      factory,
				})
			}
		case KindAction:
			if factory, ok := plugin.Actions[cap.Key]; ok {
				registry.RegisterAction(RegisterActionArgs{
					PluginName:   plugin.Name,
					PluginID:     plugin.Name,
					CapabilityID: capID,
					Capability:   cap,
					Factory:      factory,
				})
			}
		}
	}
	if plugin.Register != nil {
		if err := plugin.Register(ctx); err != nil {
			slog.Error("plugins: plugin register hook failed", "plugin", plugin.Name, "error", err)
		}
	}
}
