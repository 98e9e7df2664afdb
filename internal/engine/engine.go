// Package engine runs the daemon's control loop. Every mutation of the key
// state, the runtime context and the device set happens on the goroutine
// running Engine.Run; device readers, the hotplug monitor, the window
// tracker and control clients only send to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keymapd/internal/action"
	"keymapd/internal/device"
	"keymapd/internal/keys"
	"keymapd/internal/keystate"
	"keymapd/internal/mapping"
	"keymapd/internal/output"
	"keymapd/internal/state"
	"keymapd/internal/window"
)

var (
	// ErrEjected is returned by Run after the emergency eject key was pressed.
	ErrEjected = errors.New("emergency eject")
	// ErrStopped is returned by control calls once Run has returned.
	ErrStopped = errors.New("engine stopped")
)

// DefaultSuspendTimeout is the double-tap window of the suspend key.
const DefaultSuspendTimeout = time.Second

// Config is the part of the configuration the engine applies. It can be
// replaced at runtime with Reload.
type Config struct {
	Rules *mapping.Rules

	// SuspendKey toggles suspension when tapped twice within SuspendTimeout.
	// Zero disables it, as for the other special keys.
	SuspendKey     keys.Code
	SuspendTimeout time.Duration
	DiagnosticsKey keys.Code
	EjectKey       keys.Code

	Filter       device.Filter
	Delays       output.Delays
	KeyboardType *state.KeyboardType

	// Settings is the baseline of the settings flags. On Reload values
	// changed at runtime are kept; nil leaves the flags alone.
	Settings map[string]bool
}

// Devices is the device set the engine reads from. *device.Manager
// implements it.
type Devices interface {
	Events() <-chan keys.Event
	Lost() <-chan string
	OpenAll(dir string) ([]device.Info, error)
	Add(path string) (device.Info, error)
	Remove(path string) bool
	Lookup(path string) (device.Info, state.KeyboardType, bool)
	Locks() (numLock, capsLock bool, ok bool)
	Devices() []device.Info
	SetFilter(f device.Filter)
	CloseAll()
}

// Options wires an engine.
type Options struct {
	Config  Config
	Devices Devices
	// InputDir is opened by Run; empty means the devices were added by the
	// caller.
	InputDir string
	// Sink is the virtual keyboard. When it also implements Errors, Flush or
	// SetDelays (as *output.Writer does) the engine uses them.
	Sink    action.Sink
	Context *state.Context
	Hotplug <-chan device.Hotplug
	Window  <-chan window.Info
	Logger  *slog.Logger
}

type errorSource interface{ Errors() <-chan error }
type flusher interface{ Flush() }
type delaySetter interface{ SetDelays(output.Delays) }

type command struct {
	fn   func()
	done chan struct{}
}

// Engine owns the mapping pipeline and everything it touches.
type Engine struct {
	cfg      Config
	devices  Devices
	inputDir string
	sink     action.Sink
	ctx      *state.Context
	tracker  *keystate.Tracker
	exec     *action.Executor
	pipeline *mapping.Pipeline
	logger   *slog.Logger
	now      func() time.Time

	hotplug <-chan device.Hotplug
	window  <-chan window.Info
	cmds    chan command
	done    chan struct{}

	timers     timers
	suspended  bool
	suspendTap time.Time
	stop       bool
	started    time.Time
	events     uint64
}

// New builds an engine. Run must be called to start it.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg.Rules == nil {
		cfg.Rules = &mapping.Rules{}
	}
	if cfg.SuspendTimeout <= 0 {
		cfg.SuspendTimeout = DefaultSuspendTimeout
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = state.New(nil)
	}
	ctx.OverrideKeyboardType(cfg.KeyboardType)

	tracker := keystate.New()
	exec := action.NewExecutor(opts.Sink, ctx, logger)
	return &Engine{
		cfg:      cfg,
		devices:  opts.Devices,
		inputDir: opts.InputDir,
		sink:     opts.Sink,
		ctx:      ctx,
		tracker:  tracker,
		exec:     exec,
		pipeline: mapping.New(cfg.Rules, ctx, tracker, exec, logger),
		logger:   logger.With("component", "engine"),
		now:      time.Now,
		hotplug:  opts.Hotplug,
		window:   opts.Window,
		cmds:     make(chan command),
		done:     make(chan struct{}),
	}
}

// Run processes input until ctx is canceled, Shutdown is called, the eject
// key is pressed or the output fails. On return every key the engine holds
// on the virtual keyboard has been released and every device closed.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer close(e.done)
	defer e.devices.CloseAll()

	if e.inputDir != "" {
		infos, err := e.devices.OpenAll(e.inputDir)
		if err != nil {
			return err
		}
		for _, info := range infos {
			e.logger.Info("keyboard", "path", info.Path, "name", info.Name)
		}
	}
	e.syncLocks()
	e.started = e.now()

	var sinkErrs <-chan error
	if s, ok := e.sink.(errorSource); ok {
		sinkErrs = s.Errors()
	}

	defer func() {
		if rerr := e.releaseAll(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for !e.stop {
		e.arm(wake)

		var err error
		select {
		case <-ctx.Done():
			e.logger.Info("stopping", "reason", ctx.Err())
			return nil
		case ev := <-e.devices.Events():
			err = e.handleEvent(ev)
		case path := <-e.devices.Lost():
			err = e.removeDevice(path)
		case h, ok := <-e.hotplug:
			if !ok {
				e.hotplug = nil
				continue
			}
			err = e.handleHotplug(h)
		case w, ok := <-e.window:
			if !ok {
				e.window = nil
				continue
			}
			if e.ctx.UpdateWindow(w.Class, w.Name) {
				e.logger.Debug("window changed", "class", w.Class, "name", w.Name)
			}
		case c := <-e.cmds:
			c.fn()
			close(c.done)
		case werr := <-sinkErrs:
			err = fmt.Errorf("virtual keyboard: %w", werr)
		case <-wake.C:
			err = e.fireTimers(e.now())
		}
		if err != nil {
			return err
		}
	}
	e.logger.Info("stopping", "reason", "shutdown requested")
	return nil
}

// arm sets the wakeup for the earliest of the sequence timers and the
// multipurpose deadline.
func (e *Engine) arm(wake *time.Timer) {
	next, ok := e.timers.next()
	if d, pok := e.pipeline.Deadline(); pok && (!ok || d.Before(next)) {
		next, ok = d, true
	}
	if !ok {
		wake.Stop()
		return
	}
	wake.Reset(max(next.Sub(e.now()), 0))
}

func (e *Engine) fireTimers(now time.Time) error {
	if err := e.pipeline.Timeout(now); err != nil {
		return err
	}
	for {
		t, ok := e.timers.due(now)
		if !ok {
			return nil
		}
		pending, err := e.exec.Resume(t.pending)
		if err != nil {
			return err
		}
		e.schedule(now, pending)
	}
}

func (e *Engine) schedule(now time.Time, p *action.Pending) {
	if p == nil {
		return
	}
	e.logger.Debug("sequence paused", "wait", p.Wait, "remaining", p.Remaining())
	e.timers.schedule(now.Add(p.Wait), p)
}

func (e *Engine) handleEvent(ev keys.Event) error {
	e.events++
	if e.cfg.EjectKey != 0 && ev.Code == e.cfg.EjectKey && ev.Value == keys.Press {
		return e.eject()
	}

	if e.tracker.Update(ev) {
		num, caps := e.tracker.Locks()
		e.ctx.SetLockState(num, caps)
	}
	if info, kt, ok := e.devices.Lookup(ev.Device); ok {
		e.ctx.SetDevice(info.Name)
		e.ctx.SetDetectedKeyboardType(kt)
	}

	if err := e.suspendTapped(ev); err != nil {
		return err
	}
	if e.suspended {
		return e.passThrough(ev)
	}
	if e.cfg.DiagnosticsKey != 0 && ev.Code == e.cfg.DiagnosticsKey && ev.Value == keys.Press {
		e.diagnostics()
	}

	pending, err := e.pipeline.Handle(ev)
	if err != nil {
		return err
	}
	e.schedule(e.now(), pending)
	return nil
}

// suspendTapped counts suspend key taps. Any other key press in between
// starts the count over.
func (e *Engine) suspendTapped(ev keys.Event) error {
	if e.cfg.SuspendKey == 0 || ev.Value != keys.Press {
		return nil
	}
	if ev.Code != e.cfg.SuspendKey {
		e.suspendTap = time.Time{}
		return nil
	}
	if !e.suspendTap.IsZero() && ev.Time.Sub(e.suspendTap) <= e.cfg.SuspendTimeout {
		e.suspendTap = time.Time{}
		return e.setSuspended(!e.suspended)
	}
	e.suspendTap = ev.Time
	return nil
}

func (e *Engine) setSuspended(on bool) error {
	if on == e.suspended {
		return nil
	}
	e.suspended = on
	e.timers.clear()
	e.pipeline.Reset()
	if on {
		e.logger.Info("remapping suspended")
	} else {
		e.logger.Info("remapping resumed")
	}
	return e.exec.ReleaseAll()
}

func (e *Engine) passThrough(ev keys.Event) error {
	switch ev.Value {
	case keys.Press:
		return e.exec.Press(ev.Code)
	case keys.Repeat:
		return e.exec.Repeat(ev.Code)
	default:
		return e.exec.Release(ev.Code)
	}
}

func (e *Engine) eject() error {
	e.logger.Warn("emergency eject")
	if err := e.releaseAll(); err != nil {
		return errors.Join(ErrEjected, err)
	}
	e.devices.CloseAll()
	return ErrEjected
}

// releaseAll drops pending work and lifts every key on the virtual keyboard.
func (e *Engine) releaseAll() error {
	e.timers.clear()
	e.pipeline.Reset()
	err := e.exec.ReleaseAll()
	if f, ok := e.sink.(flusher); ok {
		f.Flush()
	}
	return err
}

func (e *Engine) diagnostics() {
	snap := e.ctx.Snapshot()
	e.logger.Info("diagnostics",
		"suspended", e.suspended,
		"window_class", snap.WindowClass,
		"window_name", snap.WindowName,
		"device", snap.DeviceName,
		"keyboard_type", snap.KeyboardType,
		"numlock", snap.NumLock,
		"capslock", snap.CapsLock,
		"settings", snap.Settings,
		"held", codeNames(e.tracker.Held()),
		"asserted", codeNames(e.exec.Asserted()),
		"pending_sequences", e.timers.len(),
		"devices", len(e.devices.Devices()))
}

func (e *Engine) handleHotplug(h device.Hotplug) error {
	switch h.Kind {
	case device.Added:
		info, err := e.devices.Add(h.Path)
		switch {
		case errors.Is(err, device.ErrNotKeyboard):
			return nil
		case err != nil:
			e.logger.Warn("hotplug add failed", "path", h.Path, "error", err)
			return nil
		}
		e.logger.Info("keyboard added", "path", h.Path, "name", info.Name)
		e.syncLocks()
		return nil
	default:
		return e.removeDevice(h.Path)
	}
}

// removeDevice closes a device and releases the keys it was holding, so
// nothing stays stuck on the virtual keyboard.
func (e *Engine) removeDevice(path string) error {
	if !e.devices.Remove(path) {
		return nil
	}
	e.logger.Info("keyboard removed", "path", path)
	now := e.now()
	for _, code := range e.tracker.HeldBy(path) {
		ev := keys.Event{Device: path, Code: code, Value: keys.Release, Time: now}
		e.tracker.Update(ev)
		if e.suspended {
			if err := e.passThrough(ev); err != nil {
				return err
			}
			continue
		}
		// A tap the user never finished is not typed.
		if e.pipeline.Cancel(code) {
			continue
		}
		pending, err := e.pipeline.Handle(ev)
		if err != nil {
			return err
		}
		e.schedule(now, pending)
	}
	return nil
}

func (e *Engine) syncLocks() {
	num, caps, ok := e.devices.Locks()
	if !ok {
		return
	}
	e.tracker.SetLocks(num, caps)
	e.ctx.SetLockState(num, caps)
}

func codeNames(codes []keys.Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.String()
	}
	return out
}
