package policy

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/perpquant/mind-persona/internal/logger"
)

const debounceInterval = 100 * time.Millisecond

// EventType defines the type of watcher event.
type EventType int

const (
	EventLoaded EventType = iota
	EventReloaded
	EventError
)

// Event reports a policy load or a reload failure.
type Event struct {
	Error error
	Type  EventType
}

// Watcher serves the current policy and swaps it when the file changes.
// A file that fails to parse leaves the previous policy active.
type Watcher struct {
	current       atomic.Pointer[Policy]
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
	path          string
	mu            sync.Mutex
	closeOnce     sync.Once
}

// NewWatcher loads the policy at path and starts watching its directory.
// An empty path or a missing directory serves the built-in policy without
// watching.
func NewWatcher(path string) (*Watcher, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:      path,
		eventChan: make(chan Event, 16),
		stopChan:  make(chan struct{}),
	}
	w.current.Store(p)

	if path != "" {
		if err := w.startWatcher(); err != nil {
			logger.Warn("policy hot reload disabled", "path", path, "error", err)
		}
	}

	w.sendEvent(Event{Type: EventLoaded})
	return w, nil
}

// Static returns a watcher that always serves p.
func Static(p *Policy) *Watcher {
	w := &Watcher{
		eventChan: make(chan Event, 1),
		stopChan:  make(chan struct{}),
	}
	w.current.Store(p)
	return w
}

// Current returns the active policy.
func (w *Watcher) Current() *Policy {
	return w.current.Load()
}

// Fallback implements the governor's fallback provider.
func (w *Watcher) Fallback(model string) (string, bool) {
	return w.Current().Fallback(model)
}

// Cost implements the governor's pricer.
func (w *Watcher) Cost(model string, promptTokens, candidateTokens int) float64 {
	return w.Current().Cost(model, promptTokens, candidateTokens)
}

// Events returns the event channel.
func (w *Watcher) Events() <-chan Event {
	return w.eventChan
}

// Reload re-reads the policy file.
func (w *Watcher) Reload() error {
	p, err := Load(w.path)
	if err != nil {
		return err
	}
	w.current.Store(p)
	return nil
}

func (w *Watcher) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}
	w.watcher = watcher

	go w.watchLoop()
	return nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.debounceTimer = time.AfterFunc(debounceInterval, w.handleFileChange)
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendEvent(Event{Type: EventError, Error: err})

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleFileChange() {
	if err := w.Reload(); err != nil {
		logger.Warn("policy reload failed, keeping previous policy", "path", w.path, "error", err)
		w.sendEvent(Event{Type: EventError, Error: err})
		return
	}
	logger.Info("policy reloaded", "path", w.path)
	w.sendEvent(Event{Type: EventReloaded})
}

// sendEvent sends an event to the event channel non-blocking.
func (w *Watcher) sendEvent(event Event) {
	select {
	case w.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-w.eventChan:
		default:
		}
		select {
		case w.eventChan <- event:
		default:
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopChan)

		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()

		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}
