package engine

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/action"
	"keymapd/internal/device"
	"keymapd/internal/keys"
	"keymapd/internal/mapping"
	"keymapd/internal/output"
	"keymapd/internal/state"
	"keymapd/internal/window"
)

const kbdPath = "/dev/input/event3"

type fakeDevices struct {
	mu      sync.Mutex
	events  chan keys.Event
	lost    chan string
	known   map[string]device.Info
	open    map[string]device.Info
	filter  device.Filter
	closed  int
	numLock bool
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		events: make(chan keys.Event, 64),
		lost:   make(chan string, 4),
		known: map[string]device.Info{
			kbdPath: {Path: kbdPath, Name: "AT Translated Set 2 keyboard"},
		},
		open: make(map[string]device.Info),
	}
}

func (f *fakeDevices) Events() <-chan keys.Event { return f.events }
func (f *fakeDevices) Lost() <-chan string       { return f.lost }

func (f *fakeDevices) OpenAll(string) ([]device.Info, error) {
	var out []device.Info
	for _, path := range slices.Sorted(maps.Keys(f.known)) {
		info, err := f.Add(path)
		if err == nil {
			out = append(out, info)
		}
	}
	if len(out) == 0 {
		return nil, device.ErrNoKeyboards
	}
	return out, nil
}

func (f *fakeDevices) Add(path string) (device.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.known[path]
	if !ok {
		return device.Info{}, device.ErrNotKeyboard
	}
	f.open[path] = info
	return info, nil
}

func (f *fakeDevices) Remove(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.open[path]
	delete(f.open, path)
	return ok
}

func (f *fakeDevices) Lookup(path string) (device.Info, state.KeyboardType, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.open[path]
	return info, state.Windows, ok
}

func (f *fakeDevices) Locks() (bool, bool, bool) { return f.numLock, false, true }

func (f *fakeDevices) Devices() []device.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Collect(maps.Values(f.open))
}

func (f *fakeDevices) SetFilter(filter device.Filter) {
	f.mu.Lock()
	f.filter = filter
	f.mu.Unlock()
}

func (f *fakeDevices) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	clear(f.open)
}

func (f *fakeDevices) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open) > 0
}

type harness struct {
	t   *testing.T
	e   *Engine
	dev *fakeDevices
	out *output.Recorder
	now time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		dev: newFakeDevices(),
		out: &output.Recorder{},
		now: time.Unix(1700000000, 0),
	}
	_, err := h.dev.Add(kbdPath)
	require.NoError(t, err)
	h.e = New(Options{Config: cfg, Devices: h.dev, Sink: h.out})
	h.e.now = func() time.Time { return h.now }
	return h
}

func (h *harness) send(name string, v keys.Value) error {
	ev := keys.Event{Device: kbdPath, Code: keys.MustLookup(name), Value: v, Time: h.now}
	return h.e.handleEvent(ev)
}

func (h *harness) tap(name string) {
	h.t.Helper()
	require.NoError(h.t, h.send(name, keys.Press))
	require.NoError(h.t, h.send(name, keys.Release))
}

func (h *harness) take() []string {
	out := h.out.Strings()
	h.out.Reset()
	return out
}

func mustMapping(combo string, steps ...string) mapping.Mapping {
	out, err := action.ParseList(steps)
	if err != nil {
		panic(err)
	}
	return mapping.Mapping{Combo: keys.MustParseCombo(combo), Output: out}
}

func rulesAB() *mapping.Rules {
	return &mapping.Rules{
		Keymaps: []mapping.Keymap{{Name: "ab", Mappings: []mapping.Mapping{mustMapping("a", "b")}}},
	}
}

func TestHandleEventMapsAndTracksDevice(t *testing.T) {
	h := newHarness(t, Config{Rules: rulesAB()})
	h.tap("a")
	assert.Equal(t, []string{"+B", "-B"}, h.take())

	snap := h.e.ctx.Snapshot()
	assert.Equal(t, "AT Translated Set 2 keyboard", snap.DeviceName)
	assert.Equal(t, "Windows", snap.KeyboardType)
}

func TestSuspendDoubleTap(t *testing.T) {
	h := newHarness(t, Config{Rules: rulesAB(), SuspendKey: keys.MustLookup("F12")})

	h.tap("F12")
	h.now = h.now.Add(300 * time.Millisecond)
	h.tap("F12")
	assert.True(t, h.e.suspended)
	assert.Equal(t, []string{"+F12", "-F12", "+F12", "-F12"}, h.take())

	h.tap("a")
	assert.Equal(t, []string{"+A", "-A"}, h.take(), "suspended input passes through")

	h.now = h.now.Add(2 * time.Second)
	h.tap("F12")
	h.now = h.now.Add(100 * time.Millisecond)
	h.tap("F12")
	assert.False(t, h.e.suspended)
	h.take()

	h.tap("a")
	assert.Equal(t, []string{"+B", "-B"}, h.take())
}

func TestSuspendTapsTooFarApartOrInterrupted(t *testing.T) {
	h := newHarness(t, Config{Rules: rulesAB(), SuspendKey: keys.MustLookup("F12"), SuspendTimeout: 500 * time.Millisecond})

	h.tap("F12")
	h.now = h.now.Add(600 * time.Millisecond)
	h.tap("F12")
	assert.False(t, h.e.suspended)

	h.now = h.now.Add(10 * time.Millisecond)
	h.tap("x")
	h.tap("F12")
	assert.False(t, h.e.suspended)
}

func TestSuspendReleasesHeldKeys(t *testing.T) {
	h := newHarness(t, Config{SuspendKey: keys.MustLookup("F12")})
	require.NoError(t, h.send("LeftCtrl", keys.Press))
	h.tap("F12")
	h.tap("F12")
	assert.Equal(t, []string{"+LEFT_CTRL", "+F12", "-F12", "-LEFT_CTRL", "+F12", "-F12"}, h.take())

	require.NoError(t, h.send("LeftCtrl", keys.Release))
	assert.Empty(t, h.take(), "a key released by suspension is not released twice")
}

func TestSetSuspendedCancelsPendingSequence(t *testing.T) {
	rules := &mapping.Rules{Keymaps: []mapping.Keymap{{
		Name:     "seq",
		Mappings: []mapping.Mapping{mustMapping("a", "x", "Delay(50)", "y")},
	}}}
	h := newHarness(t, Config{Rules: rules})
	h.tap("a")
	assert.Equal(t, 1, h.e.timers.len())
	require.NoError(t, h.e.setSuspended(true))
	assert.Equal(t, 0, h.e.timers.len())
}

func TestDelayResumesFromTimerQueue(t *testing.T) {
	rules := &mapping.Rules{Keymaps: []mapping.Keymap{{
		Name:     "seq",
		Mappings: []mapping.Mapping{mustMapping("a", "x", "Delay(50)", "y", "Delay(10)", "z")},
	}}}
	h := newHarness(t, Config{Rules: rules})

	require.NoError(t, h.send("a", keys.Press))
	assert.Equal(t, []string{"+X", "-X"}, h.take())

	// Input keeps flowing while the sequence waits.
	h.tap("q")
	assert.Equal(t, []string{"+Q", "-Q"}, h.take())

	require.NoError(t, h.e.fireTimers(h.now.Add(49*time.Millisecond)))
	assert.Empty(t, h.take())

	h.now = h.now.Add(50 * time.Millisecond)
	require.NoError(t, h.e.fireTimers(h.now))
	assert.Equal(t, []string{"+Y", "-Y"}, h.take())

	h.now = h.now.Add(10 * time.Millisecond)
	require.NoError(t, h.e.fireTimers(h.now))
	assert.Equal(t, []string{"+Z", "-Z"}, h.take())
	assert.Equal(t, 0, h.e.timers.len())
}

func TestMultipurposeTimeoutFromLoop(t *testing.T) {
	rules := &mapping.Rules{
		Multipurpose: []mapping.Multipurpose{{
			Name:    "enter",
			Trigger: keys.Enter,
			Tap:     keys.Enter,
			Hold:    keys.RightCtrl,
		}},
	}
	h := newHarness(t, Config{Rules: rules})
	require.NoError(t, h.send("Enter", keys.Press))
	deadline, ok := h.e.pipeline.Deadline()
	require.True(t, ok)
	assert.Equal(t, h.now.Add(mapping.DefaultMultipurposeTimeout), deadline)

	require.NoError(t, h.e.fireTimers(deadline))
	assert.Equal(t, []string{"+RIGHT_CTRL"}, h.take())

	h.now = deadline.Add(time.Millisecond)
	require.NoError(t, h.send("Enter", keys.Release))
	assert.Equal(t, []string{"-RIGHT_CTRL"}, h.take())
}

func TestEject(t *testing.T) {
	h := newHarness(t, Config{EjectKey: keys.MustLookup("F9")})
	require.NoError(t, h.send("LeftShift", keys.Press))
	err := h.send("F9", keys.Press)
	assert.ErrorIs(t, err, ErrEjected)
	assert.Equal(t, []string{"+LEFT_SHIFT", "-LEFT_SHIFT"}, h.take())
	assert.False(t, h.dev.isOpen())
}

func TestDeviceRemovalReleasesItsKeys(t *testing.T) {
	h := newHarness(t, Config{Rules: rulesAB()})
	require.NoError(t, h.send("LeftShift", keys.Press))
	require.NoError(t, h.send("q", keys.Press))
	assert.Equal(t, []string{"+LEFT_SHIFT", "+Q"}, h.take())

	require.NoError(t, h.e.removeDevice(kbdPath))
	assert.ElementsMatch(t, []string{"-LEFT_SHIFT", "-Q"}, h.take())
	assert.Empty(t, h.e.tracker.Held())
	assert.Empty(t, h.e.exec.Asserted())

	require.NoError(t, h.e.removeDevice(kbdPath))
	assert.Empty(t, h.take())
}

func enterMultipurpose() *mapping.Rules {
	return &mapping.Rules{
		Multipurpose: []mapping.Multipurpose{{
			Name:    "enter",
			Trigger: keys.Enter,
			Tap:     keys.Enter,
			Hold:    keys.RightCtrl,
		}},
	}
}

func TestDeviceRemovalDropsPendingTap(t *testing.T) {
	h := newHarness(t, Config{Rules: enterMultipurpose()})
	require.NoError(t, h.send("Enter", keys.Press))
	assert.Empty(t, h.take())

	require.NoError(t, h.e.removeDevice(kbdPath))
	assert.Empty(t, h.take())
	assert.Empty(t, h.e.tracker.Held())
	_, ok := h.e.pipeline.Deadline()
	assert.False(t, ok)
}

func TestDeviceRemovalReleasesCommittedHold(t *testing.T) {
	h := newHarness(t, Config{Rules: enterMultipurpose()})
	require.NoError(t, h.send("Enter", keys.Press))
	deadline, ok := h.e.pipeline.Deadline()
	require.True(t, ok)
	require.NoError(t, h.e.fireTimers(deadline))
	assert.Equal(t, []string{"+RIGHT_CTRL"}, h.take())

	require.NoError(t, h.e.removeDevice(kbdPath))
	assert.Equal(t, []string{"-RIGHT_CTRL"}, h.take())
	assert.Empty(t, h.e.exec.Asserted())
}

func TestDeviceRemovalAfterFiredCombo(t *testing.T) {
	h := newHarness(t, Config{Rules: rulesAB()})
	require.NoError(t, h.send("a", keys.Press))
	assert.Equal(t, []string{"+B", "-B"}, h.take())

	require.NoError(t, h.e.removeDevice(kbdPath))
	assert.Empty(t, h.take())
	assert.Empty(t, h.e.tracker.Held())
}

func TestHotplug(t *testing.T) {
	h := newHarness(t, Config{})
	h.dev.known["/dev/input/event7"] = device.Info{Path: "/dev/input/event7", Name: "USB Keyboard"}

	require.NoError(t, h.e.handleHotplug(device.Hotplug{Kind: device.Added, Path: "/dev/input/event7"}))
	_, _, ok := h.dev.Lookup("/dev/input/event7")
	assert.True(t, ok)

	require.NoError(t, h.e.handleHotplug(device.Hotplug{Kind: device.Added, Path: "/dev/input/event9"}))

	require.NoError(t, h.e.handleHotplug(device.Hotplug{Kind: device.Removed, Path: "/dev/input/event7"}))
	_, _, ok = h.dev.Lookup("/dev/input/event7")
	assert.False(t, ok)
}

func TestLockStateFollowsNumLock(t *testing.T) {
	h := newHarness(t, Config{})
	h.dev.numLock = true
	h.e.syncLocks()
	assert.True(t, h.e.ctx.NumLock())

	h.tap("NumLock")
	assert.False(t, h.e.ctx.NumLock())
}

func TestDiagnosticsKeyIsHandledNormally(t *testing.T) {
	h := newHarness(t, Config{Rules: rulesAB(), DiagnosticsKey: keys.MustLookup("a")})
	h.tap("a")
	assert.Equal(t, []string{"+B", "-B"}, h.take())
}

func runEngine(t *testing.T, e *Engine) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return cancel, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestRunAndControl(t *testing.T) {
	dev := newFakeDevices()
	out := &output.Recorder{}
	win := make(chan window.Info, 1)
	ctx := state.New(map[string]bool{"vim": true, "Enter2Cmd": true})
	e := New(Options{
		Config:   Config{Rules: rulesAB()},
		Devices:  dev,
		InputDir: "/dev/input",
		Sink:     out,
		Context:  ctx,
		Window:   win,
	})
	cancel, done := runEngine(t, e)
	defer cancel()

	bg := context.Background()
	dev.events <- keys.Event{Device: kbdPath, Code: keys.A, Value: keys.Press, Time: time.Now()}
	dev.events <- keys.Event{Device: kbdPath, Code: keys.A, Value: keys.Release, Time: time.Now()}
	waitFor(t, func() bool { return len(out.Strings()) == 2 })
	assert.Equal(t, []string{"+B", "-B"}, out.Strings())

	win <- window.Info{Class: "Firefox", Name: "Mozilla Firefox"}
	waitFor(t, func() bool {
		st, err := e.Status(bg)
		return err == nil && st.Context.WindowClass == "Firefox"
	})

	st, err := e.Status(bg)
	require.NoError(t, err)
	require.Len(t, st.Devices, 1)
	assert.Equal(t, kbdPath, st.Devices[0].Path)
	assert.Equal(t, "Windows", st.Devices[0].KeyboardType)
	assert.Equal(t, uint64(2), st.Events)
	assert.Equal(t, 1, st.Keymaps)

	v, err := e.Setting(bg, "vim")
	require.NoError(t, err)
	assert.True(t, v)
	require.NoError(t, e.SetSetting(bg, "vim", false))
	v, err = e.Setting(bg, "vim")
	require.NoError(t, err)
	assert.False(t, v)

	mac := state.Mac
	require.NoError(t, e.OverrideKeyboardType(bg, &mac))
	st, err = e.Status(bg)
	require.NoError(t, err)
	assert.Equal(t, "Mac", st.Context.KeyboardType)

	require.NoError(t, e.Reload(bg, Config{Filter: device.Filter{Only: []string{"kbd"}}}))
	assert.Equal(t, []string{"kbd"}, dev.filter.Only)

	require.NoError(t, e.Reload(bg, Config{Settings: map[string]bool{"vim": true, "fresh": true, "Enter2Cmd": false}}))
	v, err = e.Setting(bg, "vim")
	require.NoError(t, err)
	assert.False(t, v, "runtime value survives reload")
	v, err = e.Setting(bg, "fresh")
	require.NoError(t, err)
	assert.True(t, v)
	v, err = e.Setting(bg, "Enter2Cmd")
	require.NoError(t, err)
	assert.False(t, v, "edited default takes effect")

	v, err = e.ResetSetting(bg, "vim")
	require.NoError(t, err)
	assert.True(t, v)
	v, err = e.Setting(bg, "vim")
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, e.SetSuspended(bg, true))
	st, err = e.Status(bg)
	require.NoError(t, err)
	assert.True(t, st.Suspended)

	require.NoError(t, e.Shutdown(bg))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, dev.closed)

	_, err = e.Status(bg)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunReleasesKeysOnCancel(t *testing.T) {
	dev := newFakeDevices()
	out := &output.Recorder{}
	e := New(Options{Devices: dev, InputDir: "/dev/input", Sink: out})
	cancel, done := runEngine(t, e)

	dev.events <- keys.Event{Device: kbdPath, Code: keys.LeftCtrl, Value: keys.Press, Time: time.Now()}
	waitFor(t, func() bool { return len(out.Strings()) == 1 })

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"+LEFT_CTRL", "-LEFT_CTRL"}, out.Strings())
}

func TestRunNoKeyboards(t *testing.T) {
	dev := newFakeDevices()
	clear(dev.known)
	e := New(Options{Devices: dev, InputDir: "/dev/input", Sink: &output.Recorder{}})
	err := e.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrNoKeyboards)
}

type failingSink struct {
	output.Recorder
	errs chan error
}

func (s *failingSink) Errors() <-chan error { return s.errs }

func TestRunStopsOnOutputFailure(t *testing.T) {
	sink := &failingSink{errs: make(chan error, 1)}
	e := New(Options{Devices: newFakeDevices(), InputDir: "/dev/input", Sink: sink})
	cancel, done := runEngine(t, e)
	defer cancel()

	sink.errs <- errors.New("write /dev/uinput: no such device")
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "virtual keyboard")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunFiresSequenceTimers(t *testing.T) {
	rules := &mapping.Rules{Keymaps: []mapping.Keymap{{
		Name:     "seq",
		Mappings: []mapping.Mapping{mustMapping("a", "x", "Delay(20)", "y")},
	}}}
	dev := newFakeDevices()
	out := &output.Recorder{}
	e := New(Options{Config: Config{Rules: rules}, Devices: dev, InputDir: "/dev/input", Sink: out})
	cancel, done := runEngine(t, e)

	dev.events <- keys.Event{Device: kbdPath, Code: keys.A, Value: keys.Press, Time: time.Now()}
	waitFor(t, func() bool { return len(out.Strings()) == 4 })
	assert.Equal(t, []string{"+X", "-X", "+Y", "-Y"}, out.Strings())

	cancel()
	require.NoError(t, <-done)
}
