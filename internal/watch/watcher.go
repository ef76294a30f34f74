// Package watch reloads open notebooks when their files change on disk.
package watch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// Stats counts what the watcher has seen.
type Stats struct {
	Events        int
	Reloads       int
	SkippedOwn    int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// NotebookWatcher follows the files of registered documents. Changes are
// debounced, compared against the last known content and applied with
// Document.Reload.
type NotebookWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	docs        map[string]*notebook.Document
	hashes      map[string][sha256.Size]byte
	dirs        map[string]bool
	debounceMap map[string]time.Time
	debounceDur time.Duration
	onReload    func(*notebook.Document)
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a watcher applying changes debounce after the last event.
func New(debounce time.Duration) (*NotebookWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &NotebookWatcher{
		watcher:     w,
		docs:        make(map[string]*notebook.Document),
		hashes:      make(map[string][sha256.Size]byte),
		dirs:        make(map[string]bool),
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// OnReload registers fn, called on the watcher goroutine after a document
// was reloaded.
func (w *NotebookWatcher) OnReload(fn func(*notebook.Document)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Add follows doc. The containing directory is watched so editors that
// replace files by rename are seen too.
func (w *NotebookWatcher) Add(doc *notebook.Document) error {
	path, err := filepath.Abs(doc.Path())
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
		logging.Watch("watching directory %s", dir)
	}
	w.docs[path] = doc
	if data, err := os.ReadFile(path); err == nil {
		w.hashes[path] = sha256.Sum256(data)
	}
	return nil
}

// Save writes doc through the watcher. Its content is recorded as known
// first, so the events caused by the write do not trigger a reload.
func (w *NotebookWatcher) Save(doc *notebook.Document) error {
	path, err := filepath.Abs(doc.Path())
	if err != nil {
		return err
	}
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	w.mu.Lock()
	w.hashes[path] = sha256.Sum256(data)
	w.mu.Unlock()
	return doc.Save()
}

// Stats returns a snapshot of the counters.
func (w *NotebookWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Start begins processing events until ctx is done or Stop is called.
func (w *NotebookWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop ends processing and releases the underlying watcher.
func (w *NotebookWatcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("watcher stopped")
}

func (w *NotebookWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.debounceDur / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *NotebookWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.docs[path]; !ok {
		return
	}
	logging.WatchDebug("%s event for %s", event.Op, path)
	w.stats.Events++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = time.Now()
	w.debounceMap[path] = time.Now()
}

func (w *NotebookWatcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var due []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			due = append(due, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		w.reload(path)
	}
}

func (w *NotebookWatcher) reload(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.WatchDebug("%s is gone, keeping the open document", path)
			return
		}
		logging.Get(logging.CategoryWatch).Error("failed to read %s: %v", path, err)
		w.countError()
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	doc := w.docs[path]
	if w.hashes[path] == sum {
		w.stats.SkippedOwn++
		w.mu.Unlock()
		logging.WatchDebug("%s unchanged, skipping reload", path)
		return
	}
	fn := w.onReload
	w.mu.Unlock()

	if err := doc.Reload(data); err != nil {
		logging.Get(logging.CategoryWatch).Warn("ignoring unreadable change to %s: %v", path, err)
		w.countError()
		return
	}

	w.mu.Lock()
	w.hashes[path] = sum
	w.stats.Reloads++
	w.mu.Unlock()
	logging.Watch("reloaded %s", path)

	if fn != nil {
		fn(doc)
	}
}

func (w *NotebookWatcher) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
