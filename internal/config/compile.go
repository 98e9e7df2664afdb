package config

import (
	"fmt"
	"sort"
	"time"

	"keymapd/internal/action"
	"keymapd/internal/condition"
	"keymapd/internal/device"
	"keymapd/internal/engine"
	"keymapd/internal/keys"
	"keymapd/internal/logging"
	"keymapd/internal/mapping"
	"keymapd/internal/output"
	"keymapd/internal/state"
	"keymapd/internal/window"
)

// Compiled is a configuration turned into the values the daemon runs with.
type Compiled struct {
	Engine   engine.Config
	Provider string
	Window   window.TrackerConfig
	Settings map[string]bool
	// Files lists the files the configuration was composed from.
	Files []string
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Compile resolves key names, combos, conditions and outputs. Every defect
// is reported; the result is only returned when there are none.
func (c *Config) Compile() (*Compiled, error) {
	var errs ValidationErrors
	fail := func(field string, err error) {
		errs = append(errs, ValidationError{Field: field, Message: err.Error()})
	}
	lookup := func(field, name string) keys.Code {
		code, err := keys.Lookup(name)
		if err != nil {
			fail(field, err)
		}
		return code
	}
	optionalKey := func(field, name string) keys.Code {
		if name == "" {
			return 0
		}
		return lookup(field, name)
	}
	cond := func(field, src string) *condition.Condition {
		if src == "" {
			return nil
		}
		parsed, err := condition.Parse(src)
		if err != nil {
			fail(field, err)
		}
		return parsed
	}

	rules := &mapping.Rules{
		ModmapDefault:       make(map[keys.Code]keys.Code, len(c.Modmap.Default)),
		MultipurposeTimeout: millis(c.Timeouts.Multipurpose),
		DeadKeyTimeout:      millis(c.Timeouts.DeadKey),
	}

	for _, from := range sortedKeys(c.Modmap.Default) {
		field := "modmap.default." + from
		rules.ModmapDefault[lookup(field, from)] = lookup(field, c.Modmap.Default[from])
	}

	for i, m := range c.Modmap.Conditionals {
		field := fmt.Sprintf("modmap.conditionals[%d]", i)
		mm := mapping.Modmap{
			Name:      orDefault(m.Name, field),
			Condition: cond(field+".condition", m.Condition),
			Map:       make(map[keys.Code]keys.Code, len(m.Mappings)),
		}
		for _, from := range sortedKeys(m.Mappings) {
			f := field + ".mappings." + from
			mm.Map[lookup(f, from)] = lookup(f, m.Mappings[from])
		}
		rules.Modmaps = append(rules.Modmaps, mm)
	}

	for i, m := range c.Multipurpose {
		field := fmt.Sprintf("multipurpose[%d]", i)
		rules.Multipurpose = append(rules.Multipurpose, mapping.Multipurpose{
			Name:      orDefault(m.Name, field),
			Trigger:   lookup(field+".trigger", m.Trigger),
			Tap:       lookup(field+".tap", m.Tap),
			Hold:      lookup(field+".hold", m.Hold),
			Condition: cond(field+".condition", m.Condition),
		})
	}

	for i, k := range c.Keymaps {
		field := fmt.Sprintf("keymap[%d]", i)
		km := mapping.Keymap{
			Name:      orDefault(k.Name, field),
			Condition: cond(field+".condition", k.Condition),
		}
		for _, combo := range sortedKeys(k.Mappings) {
			f := field + ".mappings." + combo
			in, err := keys.ParseCombo(combo)
			if err != nil {
				fail(f, err)
				continue
			}
			out, err := action.ParseList(k.Mappings[combo])
			if err != nil {
				fail(f, err)
				continue
			}
			km.Mappings = append(km.Mappings, mapping.Mapping{Combo: in, Output: out})
		}
		rules.Keymaps = append(rules.Keymaps, km)
	}

	compiled := &Compiled{
		Engine: engine.Config{
			Rules:          rules,
			SuspendKey:     optionalKey("general.suspend_key", c.General.SuspendKey),
			SuspendTimeout: millis(c.Timeouts.Suspend),
			DiagnosticsKey: optionalKey("general.diagnostics_key", c.General.DiagnosticsKey),
			EjectKey:       optionalKey("general.emergency_eject_key", c.General.EmergencyEjectKey),
			Filter:         device.Filter{Only: append([]string(nil), c.Devices.Only...)},
			Delays: output.Delays{
				Pre:  millis(c.Delays.KeyPreDelayMs),
				Post: millis(c.Delays.KeyPostDelayMs),
			},
		},
		Provider: c.Window.Provider,
		Window: window.TrackerConfig{
			PollTimeout:    millis(c.Window.PollTimeoutMs),
			UpdateInterval: millis(c.Window.UpdateIntervalMs),
			IdleSleep:      millis(c.Window.IdleSleepMs),
		},
		Settings: make(map[string]bool, len(c.Settings)),
	}
	for name, v := range c.Settings {
		compiled.Settings[name] = v
	}
	compiled.Engine.Settings = compiled.Settings
	if c.Keyboard.OverrideType != "" {
		kt, err := state.ParseKeyboardType(c.Keyboard.OverrideType)
		if err != nil {
			fail("keyboard.override_type", err)
		} else {
			compiled.Engine.KeyboardType = &kt
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return compiled, nil
}

// LoggerConfig converts the [logging] section.
func (l LoggingConfig) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = l.Output
	if l.FilePath != "" {
		cfg.FilePath = l.FilePath
	}
	cfg.MaxSize = int64(l.MaxSizeMB)
	cfg.MaxBackups = l.MaxBackups
	cfg.MaxAge = l.MaxAgeDays
	cfg.Compress = l.Compress
	return cfg, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
