package plasmite

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sandover/plasmite-go/pkg/log"
)

// PoolEventType distinguishes watcher notifications.
type PoolEventType int

const (
	// PoolCreated fires when a new pool file appears in the directory.
	PoolCreated PoolEventType = iota
	// PoolRemoved fires when a pool file is deleted or renamed away.
	PoolRemoved
)

// PoolEvent describes one change in a watched pool directory.
type PoolEvent struct {
	Type PoolEventType
	Name string
	Path string
}

// PoolWatcher reports pools appearing in and disappearing from a pool
// directory. It watches the directory itself, not individual files, so
// pools created after the watcher starts are still seen.
type PoolWatcher struct {
	watcher *fsnotify.Watcher
	events  chan PoolEvent
	logger  log.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// WatchPools starts watching dir for *.plasmite files. Pass a nil
// logger to keep the watcher silent.
func WatchPools(dir string, logger log.Logger) (*PoolWatcher, error) {
	if dir == "" {
		return nil, InvalidArgumentError("watch dir is required")
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &PoolWatcher{
		watcher: fsWatcher,
		events:  make(chan PoolEvent, 16),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Events delivers pool changes. The channel closes when the watcher is
// closed or fails.
func (w *PoolWatcher) Events() <-chan PoolEvent {
	return w.events
}

// Close stops the watcher. Safe to call more than once.
func (w *PoolWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *PoolWatcher) loop() {
	defer close(w.done)
	defer close(w.events)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".plasmite") {
				continue
			}
			poolName := strings.TrimSuffix(name, ".plasmite")
			switch {
			case event.Op&fsnotify.Create != 0:
				w.emit(PoolEvent{Type: PoolCreated, Name: poolName, Path: event.Name})
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.emit(PoolEvent{Type: PoolRemoved, Name: poolName, Path: event.Name})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("pool watcher error", log.F("error", err))
		}
	}
}

func (w *PoolWatcher) emit(event PoolEvent) {
	select {
	case w.events <- event:
	default:
		// A stalled consumer drops the oldest notification rather
		// than blocking the watcher goroutine.
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- event:
		default:
		}
	}
}
