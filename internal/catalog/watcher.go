package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a Catalog when its file changes. The parent directory is
// watched so editors that replace the file on save are picked up too.
type Watcher struct {
	catalog     *Catalog
	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	onReload    func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for c. onReload, if set, runs after every
// successful reload.
func NewWatcher(c *Catalog, onReload func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		catalog:     c,
		watcher:     w,
		debounceDur: 250 * time.Millisecond, // Debounce rapid saves
		onReload:    onReload,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dir := filepath.Dir(w.catalog.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.running = true
	w.catalog.log.Info("watching", zap.String("dir", dir))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.catalog.log.Error("closing watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.catalog.Path())
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(w.debounceDur)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.catalog.log.Warn("watch error", zap.Error(err))
		case <-pending:
			pending = nil
			if err := w.catalog.Reload(); err != nil {
				w.catalog.log.Warn("reload failed, keeping previous targets", zap.Error(err))
				continue
			}
			if w.onReload != nil {
				w.onReload()
			}
		}
	}
}
