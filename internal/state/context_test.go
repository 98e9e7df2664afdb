package state

import (
	"errors"
	"testing"

	"keymapd/internal/condition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ condition.Facts = (*Context)(nil)

type memSink struct {
	saved   map[string]bool
	deleted []string
	err     error
}

func (m *memSink) SaveSetting(name string, value bool) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = make(map[string]bool)
	}
	m.saved[name] = value
	return nil
}

func (m *memSink) DeleteSetting(name string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.saved, name)
	m.deleted = append(m.deleted, name)
	return nil
}

func TestSettings(t *testing.T) {
	initial := map[string]bool{"Enter2Cmd": true}
	c := New(initial)

	assert.True(t, c.GetSetting("Enter2Cmd"))
	assert.False(t, c.GetSetting("missing"))

	c.SetSetting("Caps2Esc", true)
	assert.True(t, c.GetSetting("Caps2Esc"))

	// The initial map is copied, not aliased.
	initial["Enter2Cmd"] = false
	assert.True(t, c.GetSetting("Enter2Cmd"))
}

func TestSettingVisibleToConditions(t *testing.T) {
	c := New(nil)
	cond := condition.MustParse("settings.media_mode")
	assert.False(t, cond.Eval(c))
	c.SetSetting("media_mode", true)
	assert.True(t, cond.Eval(c))
}

func TestSettingSink(t *testing.T) {
	c := New(nil)
	sink := &memSink{}
	c.SetSink(sink)
	c.SetSetting("x", true)
	assert.Equal(t, map[string]bool{"x": true}, sink.saved)

	// A failing sink never blocks the in-memory change.
	c.SetSink(&memSink{err: errors.New("disk full")})
	c.SetSetting("y", true)
	assert.True(t, c.GetSetting("y"))
}

func TestReplaceSettings(t *testing.T) {
	c := New(map[string]bool{"a": true})
	c.SetSetting("b", true)

	c.ReplaceSettings(map[string]bool{"c": true}, true)
	assert.False(t, c.GetSetting("a"), "dropped default")
	assert.True(t, c.GetSetting("b"), "runtime change kept")
	assert.True(t, c.GetSetting("c"))

	c.ReplaceSettings(map[string]bool{"c": true}, false)
	assert.False(t, c.GetSetting("b"))
	assert.True(t, c.GetSetting("c"))

	c.ReplaceSettings(nil, false)
	assert.False(t, c.GetSetting("c"))
}

func TestReplaceSettingsAppliesNewDefaults(t *testing.T) {
	c := New(map[string]bool{"Enter2Cmd": true, "vim": true})
	c.SetSetting("vim", false)

	c.ReplaceSettings(map[string]bool{"Enter2Cmd": false, "vim": true}, true)
	assert.False(t, c.GetSetting("Enter2Cmd"), "edited default takes effect")
	assert.False(t, c.GetSetting("vim"), "runtime value wins")

	// A runtime change of a flag the new baseline does not name survives too.
	c.SetSetting("media", true)
	c.ReplaceSettings(map[string]bool{}, true)
	assert.True(t, c.GetSetting("media"))
	assert.False(t, c.GetSetting("Enter2Cmd"))
}

func TestRestoreAndResetSettings(t *testing.T) {
	c := New(map[string]bool{"vim": true})
	sink := &memSink{}
	c.SetSink(sink)

	c.RestoreSettings(map[string]bool{"vim": false, "extra": true})
	assert.False(t, c.GetSetting("vim"))
	assert.Empty(t, sink.saved, "restored values are not written back")

	// Restored values count as runtime changes on reload.
	c.ReplaceSettings(map[string]bool{"vim": true}, true)
	assert.False(t, c.GetSetting("vim"))
	assert.True(t, c.GetSetting("extra"))

	assert.True(t, c.ResetSetting("vim"))
	assert.True(t, c.GetSetting("vim"))
	assert.False(t, c.ResetSetting("extra"))
	assert.False(t, c.GetSetting("extra"))
	assert.Equal(t, []string{"vim", "extra"}, sink.deleted)

	// Reset flags follow the next baseline again.
	c.ReplaceSettings(map[string]bool{"vim": false}, true)
	assert.False(t, c.GetSetting("vim"))
}

func TestKeyboardTypeOverride(t *testing.T) {
	c := New(nil)
	assert.Equal(t, "Unknown", c.KeyboardType())

	c.SetDetectedKeyboardType(Mac)
	assert.Equal(t, Mac, c.EffectiveKeyboardType())

	ibm := IBM
	c.OverrideKeyboardType(&ibm)
	ibm = Windows
	assert.Equal(t, IBM, c.EffectiveKeyboardType())
	assert.True(t, c.Snapshot().Overridden)

	c.OverrideKeyboardType(nil)
	assert.Equal(t, Mac, c.EffectiveKeyboardType())
}

func TestWindowAndLocks(t *testing.T) {
	c := New(nil)
	assert.True(t, c.UpdateWindow("Firefox", "Mozilla Firefox"))
	assert.False(t, c.UpdateWindow("Firefox", "Mozilla Firefox"))
	c.SetLockState(true, false)
	c.SetDevice("kbd")

	snap := c.Snapshot()
	assert.Equal(t, "Firefox", snap.WindowClass)
	assert.Equal(t, "Mozilla Firefox", snap.WindowName)
	assert.Equal(t, "kbd", snap.DeviceName)
	assert.True(t, snap.NumLock)
	assert.False(t, snap.CapsLock)
}

func TestParseKeyboardType(t *testing.T) {
	tests := map[string]KeyboardType{
		"mac":        Mac,
		"Apple":      Mac,
		"WINDOWS":    Windows,
		"chromebook": Chromebook,
		"IBM":        IBM,
		"":           Unknown,
	}
	for in, want := range tests {
		got, err := ParseKeyboardType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKeyboardType("typewriter")
	assert.Error(t, err)

	var k KeyboardType
	require.NoError(t, k.UnmarshalText([]byte("chromeos")))
	assert.Equal(t, Chromebook, k)
	b, _ := k.MarshalText()
	assert.Equal(t, "Chromebook", string(b))
}
