// Package watch provides file watching for provisioning inputs
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stagehand/stagehand/pkg/interfaces"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/utils"
)

const defaultSettling = 300 * time.Millisecond

// Watcher watches provisioning inputs with fsnotify and delivers
// settled batches of changes. A batch flushes once no new event has
// arrived for the settling delay.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  logger.Logger

	mu         sync.Mutex
	settling   time.Duration
	exclusions *utils.ExclusionMatcher
	files      map[string]bool
	dirs       []string
	pending    map[string]string
	flush      *time.Timer
	callback   interfaces.FileChangeCallback
	closed     bool
}

// New creates a new input watcher
func New(log logger.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	exclusions, err := utils.NewExclusionMatcher(utils.DefaultExclusions())
	if err != nil {
		return nil, fmt.Errorf("failed to compile default exclusions: %w", err)
	}

	return &Watcher{
		watcher:    fsWatcher,
		logger:     log,
		settling:   defaultSettling,
		exclusions: exclusions,
		files:      make(map[string]bool),
		pending:    make(map[string]string),
	}, nil
}

// SetSettlingDelay sets the delay for event settling
func (w *Watcher) SetSettlingDelay(delay time.Duration) {
	w.mu.Lock()
	w.settling = delay
	w.mu.Unlock()
}

// SetExclusions replaces the exclusion matcher. Call before Add so the
// initial directory walk honors the new patterns.
func (w *Watcher) SetExclusions(m *utils.ExclusionMatcher) {
	w.mu.Lock()
	w.exclusions = m
	w.mu.Unlock()
}

// excluded reports whether path matches the current exclusions
func (w *Watcher) excluded(path string) bool {
	w.mu.Lock()
	m := w.exclusions
	w.mu.Unlock()
	return m.IsExcluded(path)
}

// Add watches a provisioning input. A directory is watched recursively;
// a file is tracked through its parent directory so editor
// write-and-rename saves are still seen.
func (w *Watcher) Add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", path, err)
	}

	if info.IsDir() {
		if err := w.addDirectory(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.mu.Lock()
		w.dirs = append(w.dirs, path)
		w.mu.Unlock()
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.mu.Lock()
	w.files[path] = true
	w.mu.Unlock()
	return nil
}

// Start begins delivering settled change batches to callback. It does
// not block; the watcher stops when ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context, callback interfaces.FileChangeCallback) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("watcher is closed")
	}
	w.callback = callback
	w.mu.Unlock()

	go w.processEvents(ctx)
	return nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.flush != nil {
		w.flush.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// addDirectory adds a directory tree to the watcher
func (w *Watcher) addDirectory(dir string) error {
	if w.excluded(dir) {
		return nil
	}

	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(dir, entry.Name())
		if w.excluded(subdir) {
			continue
		}
		if err := w.addDirectory(subdir); err != nil {
			if w.logger != nil {
				w.logger.Warn(fmt.Sprintf("Failed to watch subdirectory %s: %v", subdir, err))
			}
		}
	}

	return nil
}

// processEvents consumes fsnotify events until the context ends
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !w.relevant(event.Name) {
				continue
			}

			// New directories under a watched tree join the watch
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addDirectory(event.Name); err != nil && w.logger != nil {
						w.logger.Warn(fmt.Sprintf("Failed to watch new directory %s: %v", event.Name, err))
					}
					continue
				}
			}

			w.record(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
			}
		}
	}
}

// record buffers an event and postpones the batch flush. Every new
// event restarts the settling clock.
func (w *Watcher) record(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.pending[event.Name] = opString(event.Op)

	if w.flush != nil {
		w.flush.Stop()
	}
	w.flush = time.AfterFunc(w.settling, w.deliver)
}

// deliver flushes the pending batch to the callback
func (w *Watcher) deliver() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	changes := make([]interfaces.FileChange, 0, len(w.pending))
	for path, op := range w.pending {
		changes = append(changes, interfaces.FileChange{Path: path, Op: op})
	}
	w.pending = make(map[string]string)
	callback := w.callback
	w.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})

	if callback != nil {
		callback(changes)
	}
}

// relevant reports whether an event path is one of the watched inputs
func (w *Watcher) relevant(path string) bool {
	if w.excluded(path) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] {
		return true
	}

	for _, dir := range w.dirs {
		if strings.HasPrefix(path, dir+string(filepath.Separator)) || path == dir {
			return true
		}
	}

	return false
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return "create"
	case op&fsnotify.Write == fsnotify.Write:
		return "write"
	case op&fsnotify.Remove == fsnotify.Remove:
		return "remove"
	case op&fsnotify.Rename == fsnotify.Rename:
		return "rename"
	case op&fsnotify.Chmod == fsnotify.Chmod:
		return "chmod"
	default:
		return "write"
	}
}
