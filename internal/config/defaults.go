package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Default timing and range values. Durations are in milliseconds, as they
// appear in the configuration file.
const (
	DefaultMultipurposeMs   = 200
	DefaultSuspendMs        = 1000
	DefaultDeadKeyMs        = 2000
	DefaultPollTimeoutMs    = 200
	DefaultUpdateIntervalMs = 100
	DefaultIdleSleepMs      = 100
)

// ConfigDir returns the configuration directory.
//
// Paths:
//   - $XDG_CONFIG_HOME/keymapd/
//   - ~/.config/keymapd/ when XDG_CONFIG_HOME is unset
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "keymapd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keymapd")
}

// DataDir returns the data directory holding the settings database.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "keymapd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "keymapd")
}

// RuntimeDir returns the directory for the control socket.
//
// Paths:
//   - $XDG_RUNTIME_DIR/keymapd/
//   - /tmp/keymapd-$UID/ when XDG_RUNTIME_DIR is unset
func RuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "keymapd")
	}
	return filepath.Join(os.TempDir(), "keymapd-"+strconv.Itoa(os.Getuid()))
}

// DefaultSocketPath returns the control socket path.
func DefaultSocketPath() string {
	return filepath.Join(RuntimeDir(), "keymapd.sock")
}

// DefaultDatabasePath returns the settings database path.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), "settings.db")
}

// ConfigPath returns the default main configuration file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// FragmentDir returns the config.d directory that belongs to the main file.
func FragmentDir(path string) string {
	return filepath.Join(filepath.Dir(path), "config.d")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

func isConfigFile(path string) bool {
	ext := filepath.Ext(path)
	for _, f := range SupportedConfigFormats() {
		if ext == "."+f {
			return true
		}
	}
	return false
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
