package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher keeps the catalog at path current. A reload that fails to parse or
// validate is logged and the previous catalog stays in effect.
type Watcher struct {
	path     string
	checker  Checker
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	current  atomic.Pointer[Catalog]
	reloads  atomic.Int64
	failures atomic.Int64

	// OnReload, if set, is called after every successful reload.
	OnReload func(*Catalog)
}

// NewWatcher loads the catalog once and prepares a file watch on it.
// The initial load must succeed.
func NewWatcher(path string, chk Checker, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := LoadFile(path, chk)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	// Watch the directory so atomic rename-into-place saves are seen.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		checker:  chk,
		debounce: DefaultDebounce,
		logger:   logger.With("component", "catalog-watcher"),
		fsw:      fsw,
	}
	w.current.Store(c)
	return w, nil
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Current returns the catalog in effect.
func (w *Watcher) Current() *Catalog {
	return w.current.Load()
}

// Reloads returns the number of successful and failed reloads.
func (w *Watcher) Reloads() (ok, failed int64) {
	return w.reloads.Load(), w.failures.Load()
}

// Run processes file events until ctx is done. It closes the underlying watch on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)

		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	c, err := LoadFile(w.path, w.checker)
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("catalog reload rejected, keeping previous", "path", w.path, "error", err)
		return
	}
	w.current.Store(c)
	w.reloads.Add(1)
	w.logger.Info("catalog reloaded", "path", w.path, "post_actions", len(c.PostActions))
	if w.OnReload != nil {
		w.OnReload(c)
	}
}
