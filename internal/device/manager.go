package device

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"keymapd/internal/keys"
	"keymapd/internal/state"
)

const eventBuffer = 256

// Manager owns the grabbed devices and their reader goroutines. Add, Remove
// and CloseAll are called from the control loop only; readers hand events
// back through a single channel.
type Manager struct {
	open   Opener
	filter Filter
	logger *slog.Logger
	now    func() time.Time

	events chan keys.Event
	lost   chan string

	mu      sync.Mutex
	devices map[string]*handle
}

type handle struct {
	src    Source
	info   Info
	kbType state.KeyboardType
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewManager returns a manager that opens devices with open.
func NewManager(open Opener, filter Filter, logger *slog.Logger) *Manager {
	if open == nil {
		open = Open
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		open:    open,
		filter:  filter,
		logger:  logger.With("component", "device"),
		now:     time.Now,
		events:  make(chan keys.Event, eventBuffer),
		lost:    make(chan string, 8),
		devices: make(map[string]*handle),
	}
}

// Events is the merged, per-device ordered key event stream.
func (m *Manager) Events() <-chan keys.Event { return m.events }

// Lost delivers the path of a device whose reader failed, typically because
// it was unplugged.
func (m *Manager) Lost() <-chan string { return m.lost }

// SetFilter replaces the device filter for later Add calls.
func (m *Manager) SetFilter(f Filter) {
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
}

// OpenAll adds every accepted device under dir. Devices that fail to open or
// grab are logged and skipped; ErrNoKeyboards is returned if none remain.
func (m *Manager) OpenAll(dir string) ([]Info, error) {
	paths, err := ListPaths(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var opened []Info
	for _, path := range paths {
		info, err := m.Add(path)
		if err != nil {
			if !errors.Is(err, ErrNotKeyboard) {
				m.logger.Warn("skip device", "path", path, "error", err)
			}
			continue
		}
		opened = append(opened, info)
	}
	if len(opened) == 0 {
		return nil, ErrNoKeyboards
	}
	return opened, nil
}

// Add opens, filters and grabs one device and starts its reader. Adding a
// device that is already open is a no-op.
func (m *Manager) Add(path string) (Info, error) {
	m.mu.Lock()
	if h, ok := m.devices[path]; ok {
		m.mu.Unlock()
		return h.info, nil
	}
	filter := m.filter
	m.mu.Unlock()

	src, err := m.open(path)
	if err != nil {
		return Info{}, err
	}
	info := src.Info()
	if ok, reason := filter.Accept(info); !ok {
		src.Close()
		m.logger.Debug("device filtered", "path", path, "name", info.Name, "reason", reason)
		return info, fmt.Errorf("%w: %s (%s)", ErrNotKeyboard, info.Name, reason)
	}
	if err := src.Grab(); err != nil {
		src.Close()
		return info, fmt.Errorf("grab %s: %w", path, err)
	}

	h := &handle{
		src:    src,
		info:   info,
		kbType: DetectKeyboardType(info),
		done:   make(chan struct{}),
	}
	stale := newStaleFilter(m.now())

	m.mu.Lock()
	m.devices[path] = h
	m.mu.Unlock()

	h.wg.Add(1)
	go m.read(h, stale)

	m.logger.Info("device grabbed", "path", path, "name", info.Name, "keyboard_type", h.kbType)
	return info, nil
}

// Remove ungrabs and closes a device. It reports whether the device was
// open.
func (m *Manager) Remove(path string) bool {
	m.mu.Lock()
	h, ok := m.devices[path]
	delete(m.devices, path)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.release(h)
	m.logger.Info("device released", "path", path, "name", h.info.Name)
	return true
}

// CloseAll ungrabs and closes every device.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.devices))
	for _, h := range m.devices {
		handles = append(handles, h)
	}
	clear(m.devices)
	m.mu.Unlock()
	for _, h := range handles {
		m.release(h)
	}
}

func (m *Manager) release(h *handle) {
	close(h.done)
	if err := h.src.Ungrab(); err != nil {
		m.logger.Debug("ungrab", "path", h.info.Path, "error", err)
	}
	if err := h.src.Close(); err != nil {
		m.logger.Debug("close", "path", h.info.Path, "error", err)
	}
	h.wg.Wait()
}

// Devices lists the open devices ordered by path.
func (m *Manager) Devices() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.devices))
	for _, h := range m.devices {
		out = append(out, h.info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

// Lookup returns the info and detected keyboard type of an open device.
func (m *Manager) Lookup(path string) (Info, state.KeyboardType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.devices[path]
	if !ok {
		return Info{}, state.Unknown, false
	}
	return h.info, h.kbType, true
}

// Locks reads the lock LEDs of any open device.
func (m *Manager) Locks() (numLock, capsLock bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.devices {
		num, caps, err := h.src.Locks()
		if err == nil {
			return num, caps, true
		}
	}
	return false, false, false
}

func (m *Manager) read(h *handle, stale *staleFilter) {
	defer h.wg.Done()
	for {
		raw, err := h.src.Read()
		if err != nil {
			select {
			case <-h.done:
			default:
				m.logger.Warn("device read failed", "path", h.info.Path, "error", err)
				select {
				case m.lost <- h.info.Path:
				case <-h.done:
				}
			}
			return
		}
		if raw.Type != evKey {
			continue
		}
		code, value := keys.Code(raw.Code), keys.Value(raw.Value)
		if !stale.accept(code, value, raw.Time) {
			m.logger.Debug("stale event dropped", "path", h.info.Path, "key", code, "value", value)
			continue
		}
		select {
		case m.events <- keys.Event{Device: h.info.Path, Code: code, Value: value, Time: raw.Time}:
		case <-h.done:
			return
		}
	}
}
