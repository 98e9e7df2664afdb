package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for edits to settle.
const DefaultDebounce = 100 * time.Millisecond

// Load composes the main file at path with its config.d fragments, applies
// environment overrides and validates the result. Content defects are
// returned as ValidationErrors. The second result lists the files read.
func Load(path string) (*Config, []string, error) {
	if path == "" {
		path = ConfigPath()
	}
	doc, files, err := Compose(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := doc.Decode()
	if err != nil {
		return nil, files, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, files, err
	}
	return cfg, files, nil
}

// LoadCompiled is Load followed by Compile.
func LoadCompiled(path string) (*Config, *Compiled, error) {
	cfg, files, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := cfg.Compile()
	if err != nil {
		return nil, nil, err
	}
	compiled.Files = files
	return cfg, compiled, nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg *Config) error {
	enc := toml.NewEncoder(w)
	enc.Indent = ""
	return enc.Encode(cfg)
}

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.RWMutex
	config   *Config
	compiled *Compiled
	onChange []func(*Config, *Compiled)

	watcher *fsnotify.Watcher
	errChan chan error
}

// NewLoader creates a new configuration loader.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		path:     filepath.Clean(path),
		logger:   logger.With("component", "config"),
		debounce: DefaultDebounce,
		errChan:  make(chan error, 1),
	}
}

// Path returns the main configuration file.
func (l *Loader) Path() string { return l.path }

// Load reads, validates and compiles the configuration and makes it current.
func (l *Loader) Load() (*Config, *Compiled, error) {
	cfg, compiled, err := LoadCompiled(l.path)
	if err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	l.config, l.compiled = cfg, compiled
	l.mu.Unlock()
	return cfg, compiled, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Compiled returns the current compiled configuration.
func (l *Loader) Compiled() *Compiled {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.compiled
}

// OnChange registers a callback to be invoked when the configuration changes.
// Callbacks run on the watcher goroutine.
func (l *Loader) OnChange(cb func(*Config, *Compiled)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, cb)
	l.mu.Unlock()
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Watch starts watching the main file's directory and config.d. Changes are
// debounced, then the configuration is reloaded and the callbacks invoked.
// An invalid edit is reported on Errors and the current configuration kept.
// Watching stops when ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	if err := watcher.Add(FragmentDir(l.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("cannot watch config.d", "error", err)
	}
	l.watcher = watcher

	go l.watchLoop(ctx)
	return nil
}

func (l *Loader) relevant(name string) bool {
	name = filepath.Clean(name)
	fragDir := FragmentDir(l.path)
	switch {
	case name == l.path, name == fragDir:
		return true
	case filepath.Dir(name) == fragDir:
		return isConfigFile(name)
	}
	return false
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer l.watcher.Close()

	// Debounce timer to avoid multiple reloads for rapid changes
	debounce := time.NewTimer(l.debounce)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !l.relevant(event.Name) {
				continue
			}
			if event.Name == FragmentDir(l.path) && event.Has(fsnotify.Create) {
				if err := l.watcher.Add(event.Name); err != nil {
					l.logger.Warn("cannot watch config.d", "error", err)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(l.debounce)

		case <-debounce.C:
			l.reload()

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// reload attempts to reload the configuration.
func (l *Loader) reload() {
	if err := l.Reload(); err != nil {
		l.logger.Error("configuration reload rejected, keeping current rules", "error", err)
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}
	l.logger.Info("configuration reloaded", "path", l.path)
}

// Reload forces a reload of the configuration and notifies the callbacks.
func (l *Loader) Reload() error {
	cfg, compiled, err := LoadCompiled(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.config, l.compiled = cfg, compiled
	callbacks := slices.Clone(l.onChange)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg, compiled)
	}
	return nil
}
