package config

import (
	"errors"
	"fmt"
	"strings"

	"keymapd/internal/logging"
	"keymapd/internal/state"
	"keymapd/internal/window"
)

// ErrInvalidConfig is wrapped by load errors caused by the configuration
// content rather than by I/O.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(errs, ErrInvalidConfig) hold.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// HasField reports whether any error concerns field or one of its children.
func (e ValidationErrors) HasField(field string) bool {
	for _, err := range e {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			return true
		}
	}
	return false
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}

// ValidateConfig checks value ranges and enumerations. Key names, combos,
// conditions and outputs are checked by Compile.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateTimeouts(&c.Timeouts)...)
	errs = append(errs, validateDelays(&c.Delays)...)
	errs = append(errs, validateWindow(&c.Window)...)
	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validatePersistence(&c.Persistence)...)
	errs = append(errs, validateControl(&c.Control)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

func checkRange(errs ValidationErrors, field string, v, min, max int) ValidationErrors {
	if v < min || v > max {
		e := RangeError(field, min, max)
		e.Message += fmt.Sprintf(", got %d", v)
		errs = append(errs, *e)
	}
	return errs
}

func validateTimeouts(t *TimeoutsConfig) ValidationErrors {
	var errs ValidationErrors
	errs = checkRange(errs, "timeouts.multipurpose", t.Multipurpose, 100, 5000)
	errs = checkRange(errs, "timeouts.suspend", t.Suspend, 100, 10000)
	errs = checkRange(errs, "timeouts.dead_key", t.DeadKey, 100, 10000)
	return errs
}

func validateDelays(d *DelaysConfig) ValidationErrors {
	var errs ValidationErrors
	errs = checkRange(errs, "delays.key_pre_delay_ms", d.KeyPreDelayMs, 0, 150)
	errs = checkRange(errs, "delays.key_post_delay_ms", d.KeyPostDelayMs, 0, 150)
	return errs
}

func validateWindow(w *WindowConfig) ValidationErrors {
	var errs ValidationErrors

	switch w.Provider {
	case window.KindAuto, window.KindX11, window.KindGNOME, window.KindNone:
	default:
		errs = append(errs, ValidationError{
			Field:   "window.provider",
			Message: fmt.Sprintf("invalid provider: %s (valid: auto, x11, gnome, none)", w.Provider),
		})
	}

	errs = checkRange(errs, "window.poll_timeout_ms", w.PollTimeoutMs, 1, 5000)
	errs = checkRange(errs, "window.update_interval_ms", w.UpdateIntervalMs, 10, 10000)
	errs = checkRange(errs, "window.idle_sleep_ms", w.IdleSleepMs, 0, 1000)
	return errs
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	if k.OverrideType == "" {
		return nil
	}
	if _, err := state.ParseKeyboardType(k.OverrideType); err != nil {
		return ValidationErrors{{
			Field:   "keyboard.override_type",
			Message: err.Error(),
		}}
	}
	return nil
}

func validatePersistence(p *PersistenceConfig) ValidationErrors {
	if p.Enabled && p.Path == "" {
		return ValidationErrors{{
			Field:   "persistence.path",
			Message: "path is required when persistence is enabled",
		}}
	}
	return nil
}

func validateControl(c *ControlConfig) ValidationErrors {
	if c.Enabled && c.SocketPath == "" {
		return ValidationErrors{{
			Field:   "control.socket_path",
			Message: "socket path is required when the control socket is enabled",
		}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stderr, stdout, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	return errs
}
