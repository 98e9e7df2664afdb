// Package output writes synthesized key events to the virtual keyboard.
//
// Writes happen on a dedicated goroutine so configured pre/post key delays
// never stall the control loop.
package output

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/holoplot/go-evdev"

	"keymapd/internal/keys"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("output closed")

// queueSize bounds how far emission may lag behind the control loop.
const queueSize = 4096

// Device is the subset of *evdev.InputDevice the writer needs.
type Device interface {
	WriteOne(*evdev.InputEvent) error
	Close() error
}

// Delays are inserted around every press and release.
type Delays struct {
	Pre  time.Duration
	Post time.Duration
}

// transition is a queue item: a key event, a flush marker or a delay change.
type transition struct {
	code   keys.Code
	value  keys.Value
	flush  chan struct{}
	delays *Delays
}

// Writer is an asynchronous action.Sink over a Device.
type Writer struct {
	dev    Device
	delays Delays
	logger *slog.Logger

	queue  chan transition
	errc   chan error
	failed atomic.Pointer[error]

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}

	sleep func(time.Duration)
}

// NewWriter starts a writer goroutine for dev.
func NewWriter(dev Device, delays Delays, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		dev:    dev,
		delays: delays,
		logger: logger.With("component", "output"),
		queue:  make(chan transition, queueSize),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
		sleep:  time.Sleep,
	}
	go w.loop()
	return w
}

// Send queues one key transition.
func (w *Writer) Send(code keys.Code, value keys.Value) error {
	if err := w.failed.Load(); err != nil {
		return *err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	w.queue <- transition{code: code, value: value}
	return nil
}

// SetDelays changes the delays for transitions queued afterwards.
func (w *Writer) SetDelays(d Delays) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	w.queue <- transition{delays: &d}
}

// Flush blocks until every transition queued so far has been written.
func (w *Writer) Flush() {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return
	}
	ch := make(chan struct{})
	w.queue <- transition{flush: ch}
	w.mu.RUnlock()
	select {
	case <-ch:
	case <-w.done:
	}
}

// Errors delivers the first write failure. Output failures are fatal.
func (w *Writer) Errors() <-chan error {
	return w.errc
}

// Close drains queued transitions and closes the device.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
		<-w.done
		err = w.dev.Close()
	})
	return err
}

func (w *Writer) loop() {
	defer close(w.done)
	for t := range w.queue {
		if t.flush != nil {
			close(t.flush)
			continue
		}
		if t.delays != nil {
			w.delays = *t.delays
			continue
		}
		if w.failed.Load() != nil {
			continue
		}
		if err := w.write(t); err != nil {
			w.logger.Error("write to virtual keyboard", "key", t.code, "error", err)
			w.failed.Store(&err)
			w.errc <- err
		}
	}
}

func (w *Writer) write(t transition) error {
	delayed := t.value != keys.Repeat
	if delayed && w.delays.Pre > 0 {
		w.sleep(w.delays.Pre)
	}
	now := syscall.NsecToTimeval(time.Now().UnixNano())
	if err := w.dev.WriteOne(&evdev.InputEvent{
		Time:  now,
		Type:  evdev.EV_KEY,
		Code:  evdev.EvCode(t.code),
		Value: int32(t.value),
	}); err != nil {
		return err
	}
	if err := w.dev.WriteOne(&evdev.InputEvent{
		Time: now,
		Type: evdev.EV_SYN,
		Code: evdev.SYN_REPORT,
	}); err != nil {
		return err
	}
	if delayed && w.delays.Post > 0 {
		w.sleep(w.delays.Post)
	}
	return nil
}
