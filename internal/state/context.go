// Package state holds the runtime context every condition is evaluated
// against: the focused window, the keyboard type, lock-key state and the named
// boolean settings.
//
// A Context is owned by the control loop. Writers other than the loop (the
// control socket, status queries) go through the loop; the lock only makes
// snapshots safe to take from any goroutine.
package state

import (
	"log/slog"
	"maps"
	"sync"
)

// SettingsSink persists setting changes. Implemented by the sqlite store's
// persister.
type SettingsSink interface {
	SaveSetting(name string, value bool) error
	DeleteSetting(name string) error
}

// Context is the mutable runtime context. It satisfies condition.Facts.
type Context struct {
	mu sync.RWMutex

	windowClass string
	windowName  string
	deviceName  string

	detected KeyboardType
	override *KeyboardType

	numLock  bool
	capsLock bool

	settings map[string]bool
	// defaults is the configured baseline; changed names the flags set at
	// runtime, which survive a reload.
	defaults map[string]bool
	changed  map[string]bool
	sink     SettingsSink
	logger   *slog.Logger
}

// New creates a context seeded with initial setting values.
func New(initial map[string]bool) *Context {
	c := &Context{
		settings: make(map[string]bool, len(initial)),
		defaults: make(map[string]bool, len(initial)),
		changed:  make(map[string]bool),
		logger:   slog.Default().With("component", "state"),
	}
	maps.Copy(c.settings, initial)
	maps.Copy(c.defaults, initial)
	return c
}

// SetSink attaches a persistence sink; later SetSetting calls write through.
func (c *Context) SetSink(sink SettingsSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// UpdateWindow records the focused window. It reports whether anything
// changed.
func (c *Context) UpdateWindow(class, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.windowClass == class && c.windowName == name {
		return false
	}
	c.windowClass, c.windowName = class, name
	return true
}

// SetDevice records the name of the device whose event is being processed.
func (c *Context) SetDevice(name string) {
	c.mu.Lock()
	c.deviceName = name
	c.mu.Unlock()
}

// SetLockState records the num lock and caps lock state.
func (c *Context) SetLockState(numLock, capsLock bool) {
	c.mu.Lock()
	c.numLock, c.capsLock = numLock, capsLock
	c.mu.Unlock()
}

// SetDetectedKeyboardType records the type detected from the input device.
func (c *Context) SetDetectedKeyboardType(k KeyboardType) {
	c.mu.Lock()
	c.detected = k
	c.mu.Unlock()
}

// OverrideKeyboardType forces the keyboard type; nil clears the override.
func (c *Context) OverrideKeyboardType(k *KeyboardType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k == nil {
		c.override = nil
		return
	}
	v := *k
	c.override = &v
}

// EffectiveKeyboardType returns the override if set, else the detected type.
func (c *Context) EffectiveKeyboardType() KeyboardType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.override != nil {
		return *c.override
	}
	return c.detected
}

// GetSetting returns a named setting; unset names are false.
func (c *Context) GetSetting(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings[name]
}

// SetSetting changes a named setting. The new value is visible to the next
// evaluation immediately; persistence failures are logged, not returned.
func (c *Context) SetSetting(name string, value bool) {
	c.mu.Lock()
	c.settings[name] = value
	c.changed[name] = true
	sink := c.sink
	c.mu.Unlock()

	c.logger.Debug("setting changed", "name", name, "value", value)
	if sink == nil {
		return
	}
	if err := sink.SaveSetting(name, value); err != nil {
		c.logger.Warn("persist setting", "name", name, "error", err)
	}
}

// RestoreSettings applies previously persisted values. They count as
// runtime changes but are not written back.
func (c *Context) RestoreSettings(saved map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, v := range saved {
		c.settings[name] = v
		c.changed[name] = true
	}
}

// ResetSetting drops a runtime change so the configured default applies
// again, and forgets the persisted value. It returns the value now in effect.
func (c *Context) ResetSetting(name string) bool {
	c.mu.Lock()
	delete(c.changed, name)
	v, ok := c.defaults[name]
	if ok {
		c.settings[name] = v
	} else {
		delete(c.settings, name)
	}
	sink := c.sink
	c.mu.Unlock()

	c.logger.Debug("setting reset", "name", name, "value", v)
	if sink != nil {
		if err := sink.DeleteSetting(name); err != nil {
			c.logger.Warn("forget setting", "name", name, "error", err)
		}
	}
	return v
}

// ReplaceSettings installs a new baseline after a configuration reload.
// When keep is true, flags changed at runtime keep their values; every other
// flag takes the new default, and flags the new baseline drops are unset.
func (c *Context) ReplaceSettings(defaults map[string]bool, keep bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = maps.Clone(defaults)
	if c.defaults == nil {
		c.defaults = make(map[string]bool)
	}
	next := maps.Clone(c.defaults)
	if keep {
		for name := range c.changed {
			next[name] = c.settings[name]
		}
	} else {
		clear(c.changed)
	}
	c.settings = next
}

// condition.Facts

func (c *Context) WindowClass() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowClass
}

func (c *Context) WindowName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowName
}

func (c *Context) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceName
}

func (c *Context) KeyboardType() string {
	return c.EffectiveKeyboardType().String()
}

func (c *Context) NumLock() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.numLock
}

func (c *Context) CapsLock() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capsLock
}

func (c *Context) Setting(name string) bool {
	return c.GetSetting(name)
}

// Snapshot is a copy of the context for status reports and diagnostics.
type Snapshot struct {
	WindowClass  string          `json:"window_class"`
	WindowName   string          `json:"window_name"`
	DeviceName   string          `json:"device_name,omitempty"`
	KeyboardType string          `json:"keyboard_type"`
	Overridden   bool            `json:"keyboard_type_overridden"`
	NumLock      bool            `json:"numlock"`
	CapsLock     bool            `json:"capslock"`
	Settings     map[string]bool `json:"settings"`
}

// Snapshot copies the current context.
func (c *Context) Snapshot() Snapshot {
	kb := c.EffectiveKeyboardType()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		WindowClass:  c.windowClass,
		WindowName:   c.windowName,
		DeviceName:   c.deviceName,
		KeyboardType: kb.String(),
		Overridden:   c.override != nil,
		NumLock:      c.numLock,
		CapsLock:     c.capsLock,
		Settings:     maps.Clone(c.settings),
	}
}
