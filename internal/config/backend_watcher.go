package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/compass-investigate/compass/internal/logging"
)

var watcherLog = logging.GetLogger("config.watcher")

// KindDiff summarizes how one backend kind's enabled instance set
// changed between two loads of the registry file, identified by
// instance name.
type KindDiff struct {
	Kind    BackendKind
	Added   []string
	Removed []string
}

// Changed reports whether this kind's enabled instance set differs
// between the two loads the diff was computed from.
func (d KindDiff) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// ReloadCallback is invoked after a successful reload with one KindDiff
// per backend kind (metric, log, trace) that actually changed. A file
// write that leaves every kind's enabled instance set identical (a
// comment edit, a reordering, a touch from an editor's save) produces
// no diffs and never reaches the callback, so a caller holding three
// expensive per-kind clients only rebuilds the ones whose kind moved.
type ReloadCallback func(registry *BackendRegistryFile, diffs []KindDiff) error

// BackendWatcherConfig configures a BackendRegistryWatcher.
type BackendWatcherConfig struct {
	// FilePath is the backend registry YAML file to watch.
	FilePath string

	// DebounceMillis coalesces multiple file-change events within this
	// window into one reload. Default: 500ms.
	DebounceMillis int
}

// BackendRegistryWatcher watches a backend registry file for changes
// and triggers reload callbacks with debouncing and per-kind change
// detection, so an editor's save-then-fsync sequence doesn't trigger a
// reload storm, and a change scoped to one backend kind doesn't force a
// caller to rebuild clients for the other two.
type BackendRegistryWatcher struct {
	config   BackendWatcherConfig
	callback ReloadCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	mu       sync.Mutex

	debounceTimer *time.Timer

	snapshotMu sync.Mutex
	snapshot   map[BackendKind]map[string]struct{}
}

// NewBackendRegistryWatcher creates a watcher for the given registry
// file. callback fires once per reload that changes at least one kind's
// enabled instance set, including the initial load.
func NewBackendRegistryWatcher(cfg BackendWatcherConfig, callback ReloadCallback) (*BackendRegistryWatcher, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if cfg.DebounceMillis == 0 {
		cfg.DebounceMillis = 500
	}

	return &BackendRegistryWatcher{
		config:   cfg,
		callback: callback,
		stopped:  make(chan struct{}),
		snapshot: make(map[BackendKind]map[string]struct{}),
	}, nil
}

// Start loads the initial registry, invokes the callback with every
// enabled instance reported as added, then watches for file changes in
// the background. Blocks only for the initial load.
func (w *BackendRegistryWatcher) Start(ctx context.Context) error {
	initial, err := LoadBackendRegistry(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial backend registry: %w", err)
	}
	diffs := w.applySnapshot(initial)
	if err := w.callback(initial, diffs); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}

	watcherLog.InfoWithFields("loaded initial backend registry",
		logging.Field("path", w.config.FilePath), logging.Field("kinds_populated", len(diffs)))

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.watchLoop(watchCtx)
	return nil
}

func (w *BackendRegistryWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		watcherLog.ErrorWithErr("failed to create file watcher", err)
		return
	}
	defer fsw.Close()

	// Watch the parent directory rather than the file itself: an atomic
	// temp-file-then-rename write replaces the file's inode, which a
	// watch on the file alone would lose.
	target := filepath.Clean(w.config.FilePath)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		watcherLog.ErrorWithFields("failed to watch backend registry file", logging.Field("path", w.config.FilePath), logging.Field("error", err.Error()))
		return
	}

	watcherLog.InfoWithFields("watching backend registry for changes",
		logging.Field("path", w.config.FilePath), logging.Field("debounce_ms", w.config.DebounceMillis))

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.handleFileChange(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			watcherLog.ErrorWithErr("watcher error", err)
		}
	}
}

func (w *BackendRegistryWatcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() { w.reload(ctx) },
	)
}

func (w *BackendRegistryWatcher) reload(ctx context.Context) {
	registry, err := LoadBackendRegistry(w.config.FilePath)
	if err != nil {
		watcherLog.ErrorWithErr("failed to reload backend registry, keeping previous", err)
		return
	}

	diffs := w.applySnapshot(registry)
	if len(diffs) == 0 {
		watcherLog.Info("backend registry file changed but no kind's enabled instances changed, skipping reload callback")
		return
	}

	if err := w.callback(registry, diffs); err != nil {
		watcherLog.ErrorWithErr("backend registry reload callback failed", err)
		return
	}
	for _, d := range diffs {
		watcherLog.InfoWithFields("backend registry kind reloaded",
			logging.Field("kind", string(d.Kind)), logging.Field("added", d.Added), logging.Field("removed", d.Removed))
	}
}

// applySnapshot diffs registry's enabled instances, per kind, against
// the watcher's last-known snapshot, replaces the snapshot, and returns
// a KindDiff for every kind that actually changed. Kinds with no
// enabled instances in either snapshot are omitted entirely.
func (w *BackendRegistryWatcher) applySnapshot(registry *BackendRegistryFile) []KindDiff {
	w.snapshotMu.Lock()
	defer w.snapshotMu.Unlock()

	next := make(map[BackendKind]map[string]struct{})
	for _, kind := range []BackendKind{BackendKindMetric, BackendKindLog, BackendKindTrace} {
		names := make(map[string]struct{})
		for _, inst := range registry.EnabledByKind(kind) {
			names[inst.Name] = struct{}{}
		}
		next[kind] = names
	}

	var diffs []KindDiff
	for _, kind := range []BackendKind{BackendKindMetric, BackendKindLog, BackendKindTrace} {
		prev := w.snapshot[kind]
		cur := next[kind]

		var added, removed []string
		for name := range cur {
			if _, ok := prev[name]; !ok {
				added = append(added, name)
			}
		}
		for name := range prev {
			if _, ok := cur[name]; !ok {
				removed = append(removed, name)
			}
		}
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		diffs = append(diffs, KindDiff{Kind: kind, Added: added, Removed: removed})
	}

	w.snapshot = next
	return diffs
}

// Stop cancels the watch loop and waits up to 5 seconds for it to stop.
func (w *BackendRegistryWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for backend registry watcher to stop")
	}
}
