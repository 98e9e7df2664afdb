// Package config loads the keymapd configuration: a main file plus config.d
// fragments in TOML, YAML or JSON, checked against an embedded JSON schema,
// range-validated and compiled into the rule set the engine runs.
package config

import (
	"encoding/json"
	"errors"
	"maps"
	"os"
	"slices"
	"strings"
)

// Config holds the complete daemon configuration as written by the user.
type Config struct {
	General      GeneralConfig        `toml:"general" json:"general" yaml:"general"`
	Modmap       ModmapConfig         `toml:"modmap" json:"modmap" yaml:"modmap"`
	Multipurpose []MultipurposeConfig `toml:"multipurpose,omitempty" json:"multipurpose,omitempty" yaml:"multipurpose,omitempty"`
	Keymaps      []KeymapConfig       `toml:"keymap,omitempty" json:"keymap,omitempty" yaml:"keymap,omitempty"`
	Timeouts     TimeoutsConfig       `toml:"timeouts" json:"timeouts" yaml:"timeouts"`
	Devices      DevicesConfig        `toml:"devices" json:"devices" yaml:"devices"`
	Delays       DelaysConfig         `toml:"delays" json:"delays" yaml:"delays"`
	Window       WindowConfig         `toml:"window" json:"window" yaml:"window"`
	Keyboard     KeyboardConfig       `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// Settings are the initial values of the named flags conditions read as
	// settings.<name>.
	Settings map[string]bool `toml:"settings,omitempty" json:"settings,omitempty" yaml:"settings,omitempty"`

	Persistence PersistenceConfig `toml:"persistence" json:"persistence" yaml:"persistence"`
	Control     ControlConfig     `toml:"control" json:"control" yaml:"control"`
	Logging     LoggingConfig     `toml:"logging" json:"logging" yaml:"logging"`
}

// GeneralConfig names the special keys. Empty disables a key.
type GeneralConfig struct {
	// SuspendKey toggles remapping when tapped twice within timeouts.suspend.
	SuspendKey string `toml:"suspend_key,omitempty" json:"suspend_key,omitempty" yaml:"suspend_key,omitempty"`

	// DiagnosticsKey logs the runtime context when pressed.
	DiagnosticsKey string `toml:"diagnostics_key,omitempty" json:"diagnostics_key,omitempty" yaml:"diagnostics_key,omitempty"`

	// EmergencyEjectKey releases every device and stops the daemon.
	EmergencyEjectKey string `toml:"emergency_eject_key,omitempty" json:"emergency_eject_key,omitempty" yaml:"emergency_eject_key,omitempty"`
}

// ModmapConfig holds key substitutions.
type ModmapConfig struct {
	Default      map[string]string   `toml:"default,omitempty" json:"default,omitempty" yaml:"default,omitempty"`
	Conditionals []ConditionalModmap `toml:"conditionals,omitempty" json:"conditionals,omitempty" yaml:"conditionals,omitempty"`
}

// ConditionalModmap applies Mappings while Condition holds.
type ConditionalModmap struct {
	Name      string            `toml:"name,omitempty" json:"name,omitempty" yaml:"name,omitempty"`
	Condition string            `toml:"condition" json:"condition" yaml:"condition"`
	Mappings  map[string]string `toml:"mappings" json:"mappings" yaml:"mappings"`
}

// MultipurposeConfig makes Trigger type Tap when tapped and act as Hold
// when held.
type MultipurposeConfig struct {
	Name      string `toml:"name,omitempty" json:"name,omitempty" yaml:"name,omitempty"`
	Trigger   string `toml:"trigger" json:"trigger" yaml:"trigger"`
	Tap       string `toml:"tap" json:"tap" yaml:"tap"`
	Hold      string `toml:"hold" json:"hold" yaml:"hold"`
	Condition string `toml:"condition,omitempty" json:"condition,omitempty" yaml:"condition,omitempty"`
}

// KeymapConfig is a named table of combo mappings.
type KeymapConfig struct {
	Name      string             `toml:"name,omitempty" json:"name,omitempty" yaml:"name,omitempty"`
	Condition string             `toml:"condition,omitempty" json:"condition,omitempty" yaml:"condition,omitempty"`
	Mappings  map[string]Outputs `toml:"mappings" json:"mappings" yaml:"mappings"`
}

// Outputs is a keymap output: either one string or a list of steps. A
// one-element list means the same as the bare string.
type Outputs []string

// UnmarshalJSON accepts a string or a list of strings.
func (o *Outputs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = Outputs{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("output must be a string or a list of strings")
	}
	*o = list
	return nil
}

// TimeoutsConfig holds timing bounds in milliseconds.
type TimeoutsConfig struct {
	// Multipurpose is how long a trigger may be held and still tap.
	Multipurpose int `toml:"multipurpose" json:"multipurpose" yaml:"multipurpose"`

	// Suspend is the window for the second tap of the suspend key.
	Suspend int `toml:"suspend" json:"suspend" yaml:"suspend"`

	// DeadKey is how long an armed dead key waits for the letter it
	// composes with.
	DeadKey int `toml:"dead_key" json:"dead_key" yaml:"dead_key"`
}

// DevicesConfig selects input devices.
type DevicesConfig struct {
	// Only lists device names or paths to capture. Empty captures every
	// keyboard.
	Only []string `toml:"only,omitempty" json:"only,omitempty" yaml:"only,omitempty"`
}

// DelaysConfig holds output delays in milliseconds.
type DelaysConfig struct {
	KeyPreDelayMs  int `toml:"key_pre_delay_ms" json:"key_pre_delay_ms" yaml:"key_pre_delay_ms"`
	KeyPostDelayMs int `toml:"key_post_delay_ms" json:"key_post_delay_ms" yaml:"key_post_delay_ms"`
}

// WindowConfig selects the active-window provider and its polling cadence.
type WindowConfig struct {
	// Provider is "auto", "x11", "gnome" or "none".
	Provider         string `toml:"provider" json:"provider" yaml:"provider"`
	PollTimeoutMs    int    `toml:"poll_timeout_ms" json:"poll_timeout_ms" yaml:"poll_timeout_ms"`
	UpdateIntervalMs int    `toml:"update_interval_ms" json:"update_interval_ms" yaml:"update_interval_ms"`
	IdleSleepMs      int    `toml:"idle_sleep_ms" json:"idle_sleep_ms" yaml:"idle_sleep_ms"`
}

// KeyboardConfig overrides keyboard type detection.
type KeyboardConfig struct {
	OverrideType string `toml:"override_type,omitempty" json:"override_type,omitempty" yaml:"override_type,omitempty"`
}

// PersistenceConfig controls saving settings flags across restarts.
type PersistenceConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// ControlConfig holds the control socket configuration.
type ControlConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: "stderr", "stdout", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes a file.
	FilePath string `toml:"file" json:"file" yaml:"file"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults and no rules.
func DefaultConfig() *Config {
	return &Config{
		Timeouts: TimeoutsConfig{
			Multipurpose: DefaultMultipurposeMs,
			Suspend:      DefaultSuspendMs,
			DeadKey:      DefaultDeadKeyMs,
		},
		Window: WindowConfig{
			Provider:         "auto",
			PollTimeoutMs:    DefaultPollTimeoutMs,
			UpdateIntervalMs: DefaultUpdateIntervalMs,
			IdleSleepMs:      DefaultIdleSleepMs,
		},
		Persistence: PersistenceConfig{
			Enabled: false,
			Path:    DefaultDatabasePath(),
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: DefaultSocketPath(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KEYMAPD_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("KEYMAPD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYMAPD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("KEYMAPD_DEVICES"); v != "" {
		var only []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				only = append(only, name)
			}
		}
		c.Devices.Only = only
	}
	if v := os.Getenv("KEYMAPD_SOCKET"); v != "" {
		c.Control.SocketPath = v
	}
	if v := os.Getenv("KEYMAPD_KEYBOARD_TYPE"); v != "" {
		c.Keyboard.OverrideType = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c

	clone.Modmap.Default = maps.Clone(c.Modmap.Default)
	clone.Modmap.Conditionals = make([]ConditionalModmap, len(c.Modmap.Conditionals))
	for i, m := range c.Modmap.Conditionals {
		m.Mappings = maps.Clone(m.Mappings)
		clone.Modmap.Conditionals[i] = m
	}
	clone.Multipurpose = slices.Clone(c.Multipurpose)
	clone.Keymaps = make([]KeymapConfig, len(c.Keymaps))
	for i, k := range c.Keymaps {
		mappings := make(map[string]Outputs, len(k.Mappings))
		for combo, out := range k.Mappings {
			mappings[combo] = slices.Clone(out)
		}
		k.Mappings = mappings
		clone.Keymaps[i] = k
	}
	clone.Devices.Only = slices.Clone(c.Devices.Only)
	clone.Settings = maps.Clone(c.Settings)

	return &clone
}
