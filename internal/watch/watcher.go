// Package watch reports experiment roots whose files changed, so they can be
// rescanned.
package watch

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a root must be quiet before it is reported.
const DefaultDebounce = 2 * time.Second

// Watcher monitors experiment roots, recursively, with fsnotify. A burst of
// events under one root is reported once on Changes after the root has been
// quiet for the debounce interval.
type Watcher struct {
	Changes <-chan string // Read-only external channel of changed roots

	changes  chan string
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      logrus.FieldLogger

	mu    sync.Mutex
	roots []string
}

// New creates a watcher with the given debounce interval.
func New(debounce time.Duration, log logrus.FieldLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ch := make(chan string, 16)
	return &Watcher{
		Changes:  ch,
		changes:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: debounce,
		log:      log.WithField("action", "watch"),
	}, nil
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	root = filepath.Clean(root)
	w.mu.Lock()
	for _, r := range w.roots {
		if r == root {
			w.mu.Unlock()
			return nil
		}
	}
	w.mu.Unlock()

	if err := w.addTree(root); err != nil {
		return err
	}
	w.mu.Lock()
	w.roots = append(w.roots, root)
	w.mu.Unlock()
	return nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.WithField("path", path).WithError(err).Warn("cannot watch directory")
		}
		return nil
	})
}

// Start begins delivering changes.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop closes the watcher and the Changes channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

// rootOf returns the watched root containing path, preferring the deepest.
func (w *Watcher) rootOf(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	best := ""
	for _, r := range w.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			if len(r) > len(best) {
				best = r
			}
		}
	}
	return best, best != ""
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: track last event time per root.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				// Drain pending on close without blocking a reader that
				// has already gone away.
				for root := range pending {
					select {
					case w.changes <- root:
					default:
					}
				}
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			root, ok := w.rootOf(event.Name)
			if !ok {
				continue
			}
			// New subdirectories need their own watch.
			if event.Has(fsnotify.Create) {
				_ = w.addTree(event.Name)
			}
			pending[root] = time.Now()

		case <-ticker.C:
			now := time.Now()
			for root, t := range pending {
				if now.Sub(t) >= w.debounce && w.emit(root) {
					delete(pending, root)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

// emit reports root unless Changes is full, in which case the root stays
// pending for the next tick. The loop never blocks on a slow reader.
func (w *Watcher) emit(root string) bool {
	select {
	case w.changes <- root:
		return true
	default:
		return false
	}
}
