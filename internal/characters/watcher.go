package characters

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must be quiet before it is loaded.
const DefaultDebounce = 200 * time.Millisecond

// Watcher registers character files as they appear or change in a directory.
type Watcher struct {
	dir      string
	reg      Registrar
	logger   *zap.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, reg Registrar, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	if reg == nil {
		return nil, fmt.Errorf("characters watcher: registrar is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		reg:      reg,
		logger:   logger.Named("characters"),
		debounce: DefaultDebounce,
		watcher:  fw,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start creates dir if needed, registers the files already in it and then
// watches for new or rewritten files in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("creating characters dir: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	if _, err := Sync(ctx, w.dir, w.reg, w.logger); err != nil {
		w.logger.Warn("initial character sync failed", zap.Error(err))
	}
	w.logger.Info("watching characters dir", zap.String("dir", w.dir))

	w.running = true
	go w.run(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

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
			if !Supported(event.Name) || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("characters watcher error", zap.Error(err))

		case <-tick.C:
			w.flush(ctx)
		}
	}
}

// flush registers files that have been quiet for the debounce period.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		c, err := Load(path)
		if err != nil {
			// A later write event retries a file that was saved mid-edit.
			w.logger.Warn("skipping character file", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, err := w.reg.RegisterCharacter(ctx, c); err != nil {
			w.logger.Error("registering character failed",
				zap.String("path", path),
				zap.String("daemon.pubkey", c.Pubkey),
				zap.Error(err),
			)
			continue
		}
		w.logger.Info("registered character",
			zap.String("path", path),
			zap.String("daemon.pubkey", c.Pubkey),
			zap.String("name", c.Name),
		)
	}
}
