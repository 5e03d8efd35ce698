package tools

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 100 * time.Millisecond

// GroupsWatcher reloads the catalog when the groups file changes.
type GroupsWatcher struct {
	watcher *fsnotify.Watcher
	catalog *Catalog
	path    string
	logger  zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	timer    *time.Timer
}

// NewGroupsWatcher creates a watcher for path. The parent directory is watched
// so that editors replacing the file atomically are still observed.
func NewGroupsWatcher(catalog *Catalog, path string, logger zerolog.Logger) (*GroupsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &GroupsWatcher{
		watcher: w,
		catalog: catalog,
		path:    filepath.Clean(path),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *GroupsWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.run()
	return nil
}

func (w *GroupsWatcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("tool groups watcher error")
		}
	}
}

func (w *GroupsWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.Reload)
}

// Reload re-reads the groups file. A broken file keeps the previous groups.
func (w *GroupsWatcher) Reload() {
	groups, err := LoadGroupsFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("tool groups reload failed, keeping previous groups")
		return
	}
	w.catalog.Replace(groups)
	w.logger.Info().Str("path", w.path).Int("groups", len(groups)).Msg("tool groups reloaded")
}

// Stop stops the watcher. It is safe to call more than once.
func (w *GroupsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
	})
}
