package output

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/keys"
)

type fakeDevice struct {
	mu     sync.Mutex
	events []evdev.InputEvent
	fail   error
	closed bool
}

func (d *fakeDevice) WriteOne(ev *evdev.InputEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.events = append(d.events, *ev)
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) snapshot() []evdev.InputEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]evdev.InputEvent(nil), d.events...)
}

func TestWriterEmitsKeyAndSync(t *testing.T) {
	dev := &fakeDevice{}
	w := NewWriter(dev, Delays{}, nil)
	require.NoError(t, w.Send(keys.A, keys.Press))
	require.NoError(t, w.Send(keys.A, keys.Release))
	w.Flush()

	got := dev.snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, evdev.EvType(evdev.EV_KEY), got[0].Type)
	assert.Equal(t, evdev.EvCode(keys.A), got[0].Code)
	assert.Equal(t, int32(1), got[0].Value)
	assert.Equal(t, evdev.EvType(evdev.EV_SYN), got[1].Type)
	assert.Equal(t, int32(0), got[2].Value)

	require.NoError(t, w.Close())
	assert.True(t, dev.closed)
	assert.ErrorIs(t, w.Send(keys.A, keys.Press), ErrClosed)
}

func TestWriterDelays(t *testing.T) {
	dev := &fakeDevice{}
	w := NewWriter(dev, Delays{Pre: 3 * time.Millisecond, Post: 5 * time.Millisecond}, nil)

	var mu sync.Mutex
	var slept []time.Duration
	w.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	require.NoError(t, w.Send(keys.A, keys.Press))
	require.NoError(t, w.Send(keys.A, keys.Repeat))
	w.SetDelays(Delays{Post: time.Millisecond})
	require.NoError(t, w.Send(keys.A, keys.Release))
	w.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{3 * time.Millisecond, 5 * time.Millisecond, time.Millisecond}, slept)
	require.NoError(t, w.Close())
}

func TestWriterFailureIsSticky(t *testing.T) {
	boom := errors.New("no such device")
	dev := &fakeDevice{fail: boom}
	w := NewWriter(dev, Delays{}, nil)
	require.NoError(t, w.Send(keys.A, keys.Press))

	select {
	case err := <-w.Errors():
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("write error not reported")
	}
	assert.ErrorIs(t, w.Send(keys.A, keys.Release), boom)
	require.NoError(t, w.Close())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Send(keys.LeftShift, keys.Press))
	require.NoError(t, r.Send(keys.A, keys.Repeat))
	assert.Equal(t, []string{"+LEFT_SHIFT", "*A"}, r.Strings())
	r.Reset()
	assert.Empty(t, r.Transitions())

	r.Err = errors.New("x")
	assert.Error(t, r.Send(keys.A, keys.Press))
}
