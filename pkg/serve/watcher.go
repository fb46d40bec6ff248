package serve

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ArchiveWatcher triggers a rebuild when markdown files under the archive
// tree change. Bursts of events within the debounce window cause one rebuild.
type ArchiveWatcher struct {
	root     string
	debounce time.Duration
	rebuild  func(ctx context.Context)
	log      *logrus.Entry

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending time.Time // zero when nothing is queued
}

// NewArchiveWatcher creates a watcher over root. A zero debounce uses 500ms.
func NewArchiveWatcher(root string, debounce time.Duration, rebuild func(ctx context.Context), log *logrus.Entry) (*ArchiveWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ArchiveWatcher{
		root:     root,
		debounce: debounce,
		rebuild:  rebuild,
		log:      log.WithField("component", "archive_watcher"),
		watcher:  fsWatcher,
	}, nil
}

// Start adds every directory under root and processes events until ctx is done.
func (w *ArchiveWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.log.Infof("Watching %s for digest changes", w.root)
	go w.processEvents(ctx)
	go w.processDebounced(ctx)
	return nil
}

// Stop closes the underlying watcher.
func (w *ArchiveWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *ArchiveWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isMarkdown(event.Name) {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						w.addNewDir(event.Name)
					}
				}
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.WithField("file", event.Name).Debug("Digest changed")
			w.markPending()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("Watcher error: %v", err)
		}
	}
}

// addNewDir watches a directory created after Start along with anything
// nested in it. Files written before the watch was added produce no events,
// so markdown already present queues a rebuild.
func (w *ArchiveWatcher) addNewDir(dir string) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		if isMarkdown(path) {
			found = true
		}
		return nil
	})
	if err != nil {
		w.log.WithError(err).WithField("dir", dir).Warn("Failed to watch new archive directory")
	}
	if found {
		w.log.WithField("dir", dir).Debug("Digest appeared in new directory")
		w.markPending()
	}
}

func (w *ArchiveWatcher) markPending() {
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

func (w *ArchiveWatcher) processDebounced(ctx context.Context) {
	tick := min(w.debounce/5, 100*time.Millisecond)
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if ready {
				w.log.Info("Archive changed, rebuilding site")
				w.rebuild(ctx)
			}
		}
	}
}
