package mapping

import (
	"testing"
	"time"

	"keymapd/internal/action"
	"keymapd/internal/condition"
	"keymapd/internal/keys"
	"keymapd/internal/keystate"
	"keymapd/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ events []string }

func (r *recorder) Send(c keys.Code, v keys.Value) error {
	sign := map[keys.Value]string{keys.Press: "+", keys.Release: "-", keys.Repeat: "*"}[v]
	r.events = append(r.events, sign+c.String())
	return nil
}

func (r *recorder) take() []string {
	ev := r.events
	r.events = nil
	return ev
}

type harness struct {
	t       *testing.T
	ctx     *state.Context
	tracker *keystate.Tracker
	exec    *action.Executor
	p       *Pipeline
	out     *recorder
	now     time.Time
}

func newHarness(t *testing.T, rules *Rules) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     state.New(nil),
		tracker: keystate.New(),
		out:     &recorder{},
		now:     time.Unix(1700000000, 0),
	}
	h.exec = action.NewExecutor(h.out, h.ctx, nil)
	h.p = New(rules, h.ctx, h.tracker, h.exec, nil)
	return h
}

func (h *harness) send(name string, v keys.Value) *action.Pending {
	h.t.Helper()
	ev := keys.Event{Device: "/dev/input/event0", Code: keys.MustLookup(name), Value: v, Time: h.now}
	h.tracker.Update(ev)
	pending, err := h.p.Handle(ev)
	require.NoError(h.t, err)
	return pending
}

func (h *harness) tap(name string) {
	h.send(name, keys.Press)
	h.send(name, keys.Release)
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func mapping(combo, output string) Mapping {
	return Mapping{Combo: keys.MustParseCombo(combo), Output: action.MustParse(output)}
}

func TestPassThroughIdentity(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{mapping("Ctrl-a", "Home")}}},
	})
	for _, name := range []string{"q", "space", "f5", "left_shift", "kp1"} {
		h.send(name, keys.Press)
		h.send(name, keys.Repeat)
		h.send(name, keys.Release)
		code := keys.MustLookup(name).String()
		assert.Equal(t, []string{"+" + code, "*" + code, "-" + code}, h.out.take(), name)
	}
}

func TestModmapDefaultAndConditional(t *testing.T) {
	h := newHarness(t, &Rules{
		ModmapDefault: map[keys.Code]keys.Code{keys.CapsLock: keys.LeftCtrl},
		Modmaps: []Modmap{
			{Name: "none", Condition: condition.MustParse("false"), Map: map[keys.Code]keys.Code{keys.CapsLock: keys.Esc}},
			{Name: "term", Condition: condition.MustParse("wm_class =~ 'Term'"), Map: map[keys.Code]keys.Code{keys.CapsLock: keys.Tab}},
			{Name: "term2", Condition: condition.MustParse("wm_class =~ 'Term'"), Map: map[keys.Code]keys.Code{keys.CapsLock: keys.Enter}},
		},
	})
	h.tap("capslock")
	assert.Equal(t, []string{"+LEFT_CTRL", "-LEFT_CTRL"}, h.out.take())

	h.ctx.UpdateWindow("Terminal", "")
	h.tap("capslock")
	assert.Equal(t, []string{"+TAB", "-TAB"}, h.out.take())
}

func TestModmapReleaseUsesPressTimeMapping(t *testing.T) {
	h := newHarness(t, &Rules{
		Modmaps: []Modmap{{Name: "m", Condition: condition.MustParse("settings.on"), Map: map[keys.Code]keys.Code{keys.A: keys.Z}}},
	})
	h.ctx.SetSetting("on", true)
	h.send("a", keys.Press)
	h.ctx.SetSetting("on", false)
	h.send("a", keys.Repeat)
	h.send("a", keys.Release)
	assert.Equal(t, []string{"+Z", "*Z", "-Z"}, h.out.take())
}

func TestKeymapRoundTrip(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "mac", Mappings: []Mapping{mapping("Super-c", "Ctrl-c")}}},
	})
	h.send("left_meta", keys.Press)
	h.send("c", keys.Press)
	h.send("c", keys.Repeat)
	h.send("c", keys.Release)
	h.send("left_meta", keys.Release)
	assert.Equal(t, []string{
		"+LEFT_META",
		"-LEFT_META", "+LEFT_CTRL", "+C", "-C", "-LEFT_CTRL", "+LEFT_META",
		"-LEFT_META",
	}, h.out.take())
}

func TestKeymapPrecedence(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{
			{Name: "first", Condition: condition.MustParse("wm_class =~ 'Firefox'"), Mappings: []Mapping{mapping("Ctrl-t", "F1")}},
			{Name: "second", Mappings: []Mapping{mapping("Ctrl-t", "F2"), mapping("Ctrl-y", "F3")}},
		},
	})
	h.ctx.UpdateWindow("Firefox", "")
	h.send("left_ctrl", keys.Press)
	h.tap("t")
	h.tap("y")
	h.send("left_ctrl", keys.Release)
	assert.Equal(t, []string{
		"+LEFT_CTRL",
		"-LEFT_CTRL", "+F1", "-F1", "+LEFT_CTRL",
		"-LEFT_CTRL", "+F3", "-F3", "+LEFT_CTRL",
		"-LEFT_CTRL",
	}, h.out.take())

	h.ctx.UpdateWindow("Chromium", "")
	h.send("left_ctrl", keys.Press)
	h.tap("t")
	h.send("left_ctrl", keys.Release)
	assert.Contains(t, h.out.take(), "+F2")
}

func TestMostSpecificComboWins(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{
			mapping("Ctrl-a", "F1"),
			mapping("RCtrl-a", "F2"),
		}}},
	})
	h.send("right_ctrl", keys.Press)
	h.tap("a")
	h.send("right_ctrl", keys.Release)
	assert.Contains(t, h.out.take(), "+F2")

	h.send("left_ctrl", keys.Press)
	h.tap("a")
	h.send("left_ctrl", keys.Release)
	assert.Contains(t, h.out.take(), "+F1")
}

func TestPhysicalThenLogicalModifiers(t *testing.T) {
	// Caps Lock acts as Ctrl through modmap. Ctrl-h is still matched through
	// the logical modifier, while the physical Super-c exception is kept.
	h := newHarness(t, &Rules{
		ModmapDefault: map[keys.Code]keys.Code{keys.CapsLock: keys.LeftCtrl, keys.LeftMeta: keys.LeftCtrl},
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{
			mapping("Super-c", "F1"),
			mapping("Ctrl-h", "Backspace"),
		}}},
	})
	h.send("capslock", keys.Press)
	h.tap("h")
	h.send("capslock", keys.Release)
	assert.Contains(t, h.out.take(), "+BACKSPACE")

	h.send("left_meta", keys.Press)
	h.tap("c")
	h.send("left_meta", keys.Release)
	assert.Contains(t, h.out.take(), "+F1")
}

func TestMultipurposeTap(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose:        []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
		MultipurposeTimeout: 200 * time.Millisecond,
	})
	h.send("capslock", keys.Press)
	h.advance(50 * time.Millisecond)
	h.send("capslock", keys.Repeat)
	h.advance(100 * time.Millisecond)
	h.send("capslock", keys.Release)
	assert.Equal(t, []string{"+ESC", "-ESC"}, h.out.take())
}

func TestMultipurposeHoldByTimeout(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
	})
	h.send("capslock", keys.Press)
	deadline, ok := h.p.Deadline()
	require.True(t, ok)
	assert.Equal(t, h.now.Add(DefaultMultipurposeTimeout), deadline)

	require.NoError(t, h.p.Timeout(deadline.Add(-time.Millisecond)))
	assert.Empty(t, h.out.take())
	require.NoError(t, h.p.Timeout(deadline))
	assert.Equal(t, []string{"+LEFT_CTRL"}, h.out.take())
	_, ok = h.p.Deadline()
	assert.False(t, ok)

	h.send("capslock", keys.Repeat)
	h.send("capslock", keys.Release)
	assert.Equal(t, []string{"*LEFT_CTRL", "-LEFT_CTRL"}, h.out.take())
}

func TestMultipurposeHoldByInterposingKey(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
		Keymaps:      []Keymap{{Name: "k", Mappings: []Mapping{mapping("Ctrl-h", "Backspace")}}},
	})
	h.send("capslock", keys.Press)
	h.advance(20 * time.Millisecond)
	h.tap("h")
	h.send("capslock", keys.Release)
	assert.Equal(t, []string{
		"+LEFT_CTRL",
		"-LEFT_CTRL", "+BACKSPACE", "-BACKSPACE", "+LEFT_CTRL",
		"-LEFT_CTRL",
	}, h.out.take())
}

func TestMultipurposeEventAtDeadlineSeesTimeoutFirst(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{Name: "space", Trigger: keys.Space, Tap: keys.Space, Hold: keys.LeftShift}},
	})
	h.send("space", keys.Press)
	h.advance(DefaultMultipurposeTimeout)
	h.send("space", keys.Release)
	assert.Equal(t, []string{"+LEFT_SHIFT", "-LEFT_SHIFT"}, h.out.take())

	// Released one tick before the deadline: a tap.
	h.send("space", keys.Press)
	h.advance(DefaultMultipurposeTimeout - time.Millisecond)
	h.send("space", keys.Release)
	assert.Equal(t, []string{"+SPACE", "-SPACE"}, h.out.take())
}

func TestMultipurposeTapTimingProperty(t *testing.T) {
	timeout := 300 * time.Millisecond
	for held := time.Duration(0); held <= 2*timeout; held += 25 * time.Millisecond {
		h := newHarness(t, &Rules{
			Multipurpose:        []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
			MultipurposeTimeout: timeout,
		})
		h.send("capslock", keys.Press)
		h.advance(held)
		h.send("capslock", keys.Release)
		if held < timeout {
			assert.Equal(t, []string{"+ESC", "-ESC"}, h.out.take(), "held %v", held)
		} else {
			assert.Equal(t, []string{"+LEFT_CTRL", "-LEFT_CTRL"}, h.out.take(), "held %v", held)
		}
	}
}

func TestMultipurposeSkippedWithModifierHeld(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
	})
	h.send("left_shift", keys.Press)
	h.tap("capslock")
	h.send("left_shift", keys.Release)
	assert.Equal(t, []string{"+LEFT_SHIFT", "+CAPSLOCK", "-CAPSLOCK", "-LEFT_SHIFT"}, h.out.take())
}

func TestMultipurposeCondition(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{
			Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl,
			Condition: condition.MustParse("wm_class =~ 'Term'"),
		}},
	})
	h.tap("capslock")
	assert.Equal(t, []string{"+CAPSLOCK", "-CAPSLOCK"}, h.out.take())
}

func TestComboRepeatAndReleaseSuppressed(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{mapping("Ctrl-b", "Left")}}},
	})
	h.send("left_ctrl", keys.Press)
	h.out.take()
	h.send("b", keys.Press)
	h.send("b", keys.Repeat)
	h.send("b", keys.Repeat)
	h.send("b", keys.Release)
	assert.Equal(t, []string{"-LEFT_CTRL", "+LEFT", "-LEFT", "+LEFT_CTRL"}, h.out.take())
}

func TestEscapeNextKey(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{
			mapping("Ctrl-q", "escape_next"),
			mapping("Ctrl-w", "F1"),
		}}},
	})
	h.send("left_ctrl", keys.Press)
	h.tap("q")
	h.tap("w")
	h.tap("w")
	h.send("left_ctrl", keys.Release)
	assert.Equal(t, []string{
		"+LEFT_CTRL",
		"+W", "-W",
		"-LEFT_CTRL", "+F1", "-F1", "+LEFT_CTRL",
		"-LEFT_CTRL",
	}, h.out.take())
}

func TestEscapeNextComboBypassesModmap(t *testing.T) {
	h := newHarness(t, &Rules{
		ModmapDefault: map[keys.Code]keys.Code{keys.LeftAlt: keys.LeftCtrl},
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{
			mapping("F12", "escape_next_combo"),
			mapping("Ctrl-x", "F1"),
		}}},
	})
	h.tap("f12")
	h.send("left_alt", keys.Press)
	h.tap("x")
	h.send("left_alt", keys.Release)
	assert.Equal(t, []string{"+LEFT_ALT", "+X", "-X", "-LEFT_ALT"}, h.out.take())
}

func TestIgnoreSuppressesPassThrough(t *testing.T) {
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{mapping("Insert", "ignore")}}},
	})
	h.tap("insert")
	assert.Empty(t, h.out.take())
}

func TestSetSettingVisibleToNextEvaluation(t *testing.T) {
	toggle, err := action.ParseList([]string{"SetSetting(media=true)", "Combo(a)"})
	require.NoError(t, err)
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{
			{Name: "media", Condition: condition.MustParse("settings.media"), Mappings: []Mapping{mapping("F1", "Mute")}},
			{Name: "toggle", Mappings: []Mapping{{Combo: keys.MustParseCombo("F2"), Output: toggle}}},
		},
	})
	h.tap("f1")
	assert.Equal(t, []string{"+F1", "-F1"}, h.out.take())
	h.tap("f2")
	assert.Equal(t, []string{"+A", "-A"}, h.out.take())
	assert.True(t, condition.MustParse("settings.media").Eval(h.ctx))
	h.tap("f1")
	assert.Equal(t, []string{"+MUTE", "-MUTE"}, h.out.take())
}

func TestDelayReturnsPending(t *testing.T) {
	seq, err := action.ParseList([]string{"a", "Delay(40)", "b"})
	require.NoError(t, err)
	h := newHarness(t, &Rules{
		Keymaps: []Keymap{{Name: "k", Mappings: []Mapping{{Combo: keys.MustParseCombo("F3"), Output: seq}}}},
	})
	pending := h.send("f3", keys.Press)
	require.NotNil(t, pending)
	assert.Equal(t, 40*time.Millisecond, pending.Wait)
	assert.Equal(t, []string{"+A", "-A"}, h.out.take())

	// Unrelated input is processed while the sequence waits.
	h.tap("q")
	assert.Equal(t, []string{"+Q", "-Q"}, h.out.take())

	next, err := h.exec.Resume(pending)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, []string{"+B", "-B"}, h.out.take())
}

func TestResetClearsPendingMultipurpose(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
	})
	h.send("capslock", keys.Press)
	h.p.Reset()
	_, ok := h.p.Deadline()
	assert.False(t, ok)
}

func deadKeyRules() *Rules {
	return &Rules{
		Keymaps: []Keymap{{Name: "accents", Mappings: []Mapping{
			mapping("Ctrl-e", "U+00B4"),
			mapping("Ctrl-n", "Unicode(7e)"),
		}}},
	}
}

// arm types Ctrl+key to arm a dead key and lets go of Ctrl.
func (h *harness) arm(key string) {
	h.send("left_ctrl", keys.Press)
	h.tap(key)
	h.send("left_ctrl", keys.Release)
	assert.Equal(h.t, []string{"+LEFT_CTRL", "-LEFT_CTRL"}, h.out.take())
}

func TestDeadKeyComposesNextLetter(t *testing.T) {
	h := newHarness(t, deadKeyRules())
	h.arm("e")
	h.tap("a")
	assert.Equal(t, []string{
		"+LEFT_CTRL", "+LEFT_SHIFT", "+U", "-U", "-LEFT_SHIFT", "-LEFT_CTRL",
		"+E", "-E", "+1", "-1",
		"+ENTER", "-ENTER",
	}, h.out.take())

	// Consumed: the next letter is plain again.
	h.tap("a")
	assert.Equal(t, []string{"+A", "-A"}, h.out.take())
}

func TestDeadKeySpaceTypesAccent(t *testing.T) {
	h := newHarness(t, deadKeyRules())
	h.arm("e")
	h.tap("space")
	assert.Equal(t, []string{
		"+LEFT_CTRL", "+LEFT_SHIFT", "+U", "-U", "-LEFT_SHIFT", "-LEFT_CTRL",
		"+B", "-B", "+4", "-4",
		"+ENTER", "-ENTER",
	}, h.out.take())
}

func TestDeadKeyShiftedLetter(t *testing.T) {
	h := newHarness(t, deadKeyRules())
	h.arm("n")
	h.send("left_shift", keys.Press)
	h.tap("n")
	h.send("left_shift", keys.Release)
	assert.Equal(t, []string{
		"+LEFT_SHIFT",
		"-LEFT_SHIFT",
		"+LEFT_CTRL", "+LEFT_SHIFT", "+U", "-U", "-LEFT_SHIFT", "-LEFT_CTRL",
		"+D", "-D", "+1", "-1",
		"+ENTER", "-ENTER",
		"+LEFT_SHIFT",
		"-LEFT_SHIFT",
	}, h.out.take())
}

func TestDeadKeyDisarmed(t *testing.T) {
	h := newHarness(t, deadKeyRules())

	// A key with no accented form passes through and disarms.
	h.arm("e")
	h.tap("1")
	h.tap("a")
	assert.Equal(t, []string{"+1", "-1", "+A", "-A"}, h.out.take())

	// Expired.
	h.arm("e")
	h.advance(DefaultDeadKeyTimeout + time.Millisecond)
	h.tap("e")
	assert.Equal(t, []string{"+E", "-E"}, h.out.take())

	// A chord with another modifier is not composed.
	h.arm("e")
	h.send("left_alt", keys.Press)
	h.tap("a")
	h.send("left_alt", keys.Release)
	assert.Equal(t, []string{"+LEFT_ALT", "+A", "-A", "-LEFT_ALT"}, h.out.take())

	// Suspension resets it.
	h.arm("e")
	h.p.Reset()
	h.tap("a")
	assert.Equal(t, []string{"+A", "-A"}, h.out.take())
}

func TestCancelPendingMultipurpose(t *testing.T) {
	h := newHarness(t, &Rules{
		Multipurpose: []Multipurpose{{Name: "caps", Trigger: keys.CapsLock, Tap: keys.Esc, Hold: keys.LeftCtrl}},
	})
	h.send("capslock", keys.Press)
	assert.False(t, h.p.Cancel(keys.A))
	assert.True(t, h.p.Cancel(keys.CapsLock))
	_, ok := h.p.Deadline()
	assert.False(t, ok)
	assert.Empty(t, h.out.take())

	// A committed hold is left to the release path.
	h.send("capslock", keys.Press)
	require.NoError(t, h.p.Timeout(h.now.Add(DefaultMultipurposeTimeout)))
	assert.False(t, h.p.Cancel(keys.CapsLock))
	h.send("capslock", keys.Release)
	assert.Equal(t, []string{"+LEFT_CTRL", "-LEFT_CTRL"}, h.out.take())
}
