// Package ledgerwatch watches a local update-file directory and notifies
// the ledger when new content-addressed files land, so a long-running
// process does not need to wait for the next explicit
// NotifyUpdatesImported call from its own ingestion loop. This is
// optional wiring around the ledger's own transactional core, not part
// of its correctness story.
package ledgerwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OnFilesArrived is called with the base names of files that appeared in
// the watched directory since the last notification.
type OnFilesArrived func(names []string)

// Watcher monitors a directory for newly-created files using fsnotify,
// falling back to polling if fsnotify is unavailable in the environment
// (e.g. some containerized or networked filesystems).
type Watcher struct {
	dir          string
	onArrived    OnFilesArrived
	logger       *slog.Logger
	pollInterval time.Duration

	fsw         *fsnotify.Watcher
	pollingMode bool

	mu    sync.Mutex
	known map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher over dir. Call Start to begin watching and Stop
// to shut it down.
func New(dir string, logger *slog.Logger, onArrived OnFilesArrived) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		dir:          dir,
		onArrived:    onArrived,
		logger:       logger,
		pollInterval: 5 * time.Second,
		known:        make(map[string]struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			w.known[e.Name()] = struct{}{}
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, falling back to polling", "dir", dir, "error", err, "interval", w.pollInterval)
		w.pollingMode = true
		return w, nil
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		logger.Warn("fsnotify could not watch directory, falling back to polling", "dir", dir, "error", err, "interval", w.pollInterval)
		w.pollingMode = true
		return w, nil
	}
	w.fsw = fsw
	return w, nil
}

// Start begins watching in the background.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	if w.pollingMode {
		go w.pollLoop(ctx)
	} else {
		go w.eventLoop(ctx)
	}
}

// Stop halts watching and releases resources.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.checkForNewFile(filepath.Base(ev.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("ledgerwatch fsnotify error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("ledgerwatch poll failed", "dir", w.dir, "error", err)
		return
	}
	var arrived []string
	w.mu.Lock()
	for _, e := range entries {
		name := e.Name()
		if _, ok := w.known[name]; !ok {
			w.known[name] = struct{}{}
			arrived = append(arrived, name)
		}
	}
	w.mu.Unlock()
	if len(arrived) > 0 && w.onArrived != nil {
		w.onArrived(arrived)
	}
}

func (w *Watcher) checkForNewFile(name string) {
	w.mu.Lock()
	_, known := w.known[name]
	if !known {
		w.known[name] = struct{}{}
	}
	w.mu.Unlock()
	if !known && w.onArrived != nil {
		w.onArrived([]string{name})
	}
}
