package device

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HotplugKind tells whether a device node appeared or went away.
type HotplugKind int

const (
	Added HotplugKind = iota
	Removed
)

func (k HotplugKind) String() string {
	if k == Removed {
		return "removed"
	}
	return "added"
}

// Hotplug is a device add or remove notification.
type Hotplug struct {
	Kind HotplugKind
	Path string
}

// DefaultSettle is how long a new node is left alone before it is opened;
// udev applies permissions shortly after the node appears.
const DefaultSettle = 100 * time.Millisecond

// Monitor watches an input directory with inotify. It does no work while
// nothing changes.
type Monitor struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	events  chan Hotplug
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewMonitor starts watching dir.
func NewMonitor(dir string, settle time.Duration, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Monitor{
		dir:     dir,
		settle:  settle,
		watcher: watcher,
		events:  make(chan Hotplug, 16),
		logger:  logger.With("component", "hotplug"),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Events delivers hotplug notifications to the control loop.
func (m *Monitor) Events() <-chan Hotplug { return m.events }

// Run processes inotify events until ctx is done or the watcher is closed.
func (m *Monitor) Run(ctx context.Context) {
	defer m.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(ctx, ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching.
func (m *Monitor) Close() error {
	return m.watcher.Close()
}

func (m *Monitor) handle(ctx context.Context, ev fsnotify.Event) {
	if !strings.HasPrefix(filepath.Base(ev.Name), "event") {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		m.cancel(ev.Name)
		m.deliver(ctx, Hotplug{Kind: Removed, Path: ev.Name})
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Chmod):
		// A permission change after creation is a second chance to open a
		// node that was not yet readable.
		m.schedule(ctx, ev.Name)
	}
}

func (m *Monitor) schedule(ctx context.Context, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.pending[path]; ok {
		t.Reset(m.settle)
		return
	}
	m.pending[path] = time.AfterFunc(m.settle, func() {
		m.mu.Lock()
		delete(m.pending, path)
		m.mu.Unlock()
		m.deliver(ctx, Hotplug{Kind: Added, Path: path})
	})
}

func (m *Monitor) cancel(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.pending[path]; ok {
		t.Stop()
		delete(m.pending, path)
	}
}

func (m *Monitor) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, t := range m.pending {
		t.Stop()
		delete(m.pending, path)
	}
}

func (m *Monitor) deliver(ctx context.Context, h Hotplug) {
	m.logger.Debug("hotplug", "kind", h.Kind, "path", h.Path)
	select {
	case m.events <- h:
	case <-ctx.Done():
	}
}
