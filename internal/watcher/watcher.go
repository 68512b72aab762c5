package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mfranzen/videoforge/pkg/log"
)

type EventKind int

const (
	Update EventKind = iota
	Remove
)

// Event is one coalesced filesystem change. Raw notifications for a path are
// debounced: the event fires only after the path has been quiet for the
// configured delay, so a file copied in chunks indexes once.
type Event struct {
	Kind EventKind
	Path string
}

type Watcher struct {
	delay  time.Duration
	fs     *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent

	done      chan struct{}
	closeOnce sync.Once
}

type pendingEvent struct {
	timer *time.Timer
	kind  EventKind
}

// New starts watching the given roots recursively. A root that cannot be
// watched is logged and skipped; the remaining roots keep working.
func New(delay time.Duration, roots ...string) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		delay:   delay,
		fs:      fs,
		events:  make(chan Event, 64),
		pending: make(map[string]*pendingEvent),
		done:    make(chan struct{}),
	}

	watched := 0
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			log.Warn("Skipping unwatchable root %s: %v", root, err)
			continue
		}
		watched++
	}
	log.Info("Watching %d of %d library roots", watched, len(roots))

	go w.loop()
	return w, nil
}

// Events delivers coalesced Update/Remove events. Closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()

		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingEvent)
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			if addErr := w.fs.Add(path); addErr != nil {
				log.Warn("Failed to watch directory %s: %v", path, addErr)
			}
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleRaw(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Error("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleRaw(event fsnotify.Event) {
	if strings.Contains(event.Name, "/.") {
		return
	}

	// New directories join the recursive watch immediately.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				log.Warn("Failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	kind := Update
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		kind = Remove
	}
	w.debounce(event.Name, kind)
}

// debounce resets the per-path timer on every raw event; the latest kind wins.
func (w *Watcher) debounce(path string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.kind = kind
		p.timer.Reset(w.delay)
		return
	}

	p := &pendingEvent{kind: kind}
	p.timer = time.AfterFunc(w.delay, func() { w.fire(path) })
	w.pending[path] = p
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	select {
	case w.events <- Event{Kind: p.kind, Path: path}:
	case <-w.done:
	}
}
