package workspace

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cxxtract/internal/logging"
)

// Watcher invalidates caches when a registered manifest changes on disk.
// Only the long-running sync-worker command uses it; one-shot CLI queries
// reload manifests per invocation anyway.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(manifestPath string)
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	once    sync.Once
}

// NewWatcher starts a watcher that calls onChange with the manifest path
// after a short debounce. Editors tend to write-then-rename, so events for
// one save arrive in bursts.
func NewWatcher(onChange func(manifestPath string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fs,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers one manifest path. The parent directory is watched so
// rename-based saves are still observed.
func (w *Watcher) Watch(manifestPath string) error {
	return w.fs.Add(filepath.Dir(manifestPath))
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(filepath.ToSlash(ev.Name))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWorkspace).Warn("manifest watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		logging.Get(logging.CategoryWorkspace).Info("manifest changed: %s", path)
		w.onChange(path)
	})
}

// Close stops the watcher and cancels pending debounce timers.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.pending {
			t.Stop()
		}
		w.pending = make(map[string]*time.Timer)
		w.mu.Unlock()
		err = w.fs.Close()
	})
	return err
}
