package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeintel/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a project directory for filesystem changes and emits
// debounced paths on Events, so an incremental ingest run can react to
// edits instead of rescanning the whole tree on a timer.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	root        string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	Events      chan string
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a Watcher rooted at root. Start must be called to
// begin watching.
func NewWatcher(root string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     w,
		root:        root,
		debounceMap: make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		Events:      make(chan string, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching root and every subdirectory, non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if addErr := w.watcher.Add(path); addErr != nil {
				logging.Get(logging.CategoryLedger).Warn("watch add failed for %s: %v", path, addErr)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
	close(w.Events)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

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
			logging.Get(logging.CategoryLedger).Error("watch error: %v", err)
		case <-debounceTicker.C:
			w.flushDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if addErr := w.watcher.Add(event.Name); addErr != nil {
				logging.Get(logging.CategoryLedger).Warn("watch add failed for new dir %s: %v", event.Name, addErr)
			}
		}
		return
	}

	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		select {
		case w.Events <- path:
		default:
			logging.Get(logging.CategoryLedger).Warn("watch event channel full, dropping %s", path)
		}
	}
}
