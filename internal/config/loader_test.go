package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, mainTOML)

	l := NewLoader(path, quietLogger())
	cfg, compiled, err := l.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, l.Config())
	assert.Same(t, compiled, l.Compiled())
	assert.Len(t, compiled.Engine.Rules.Keymaps, 1)
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, mainTOML)

	l := NewLoader(path, quietLogger())
	l.debounce = 20 * time.Millisecond
	_, _, err := l.Load()
	require.NoError(t, err)

	changes := make(chan *Compiled, 4)
	l.OnChange(func(_ *Config, c *Compiled) { changes <- c })

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config.d"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))

	writeFile(t, filepath.Join(dir, "config.d", "10-more.toml"), "[[keymap]]\nname = \"more\"\n[keymap.mappings]\n\"Super-w\" = \"Ctrl-w\"\n")

	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changes:
			if len(c.Engine.Rules.Keymaps) == 2 {
				assert.Equal(t, "more", c.Engine.Rules.Keymaps[1].Name)
				reloaded = true
			}
		case <-deadline:
			t.Fatal("no reload after adding a fragment")
		}
	}

	writeFile(t, path, "[timeouts]\nmultipurpose = 1\n")
	select {
	case err := <-l.Errors():
		assert.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("invalid edit not reported")
	}
	assert.Len(t, l.Compiled().Engine.Rules.Keymaps, 2, "current rules kept")
}

func TestLoaderRelevant(t *testing.T) {
	l := NewLoader("/etc/keymapd/config.toml", quietLogger())

	assert.True(t, l.relevant("/etc/keymapd/config.toml"))
	assert.True(t, l.relevant("/etc/keymapd/config.d"))
	assert.True(t, l.relevant("/etc/keymapd/config.d/10-x.yaml"))
	assert.False(t, l.relevant("/etc/keymapd/config.d/10-x.yaml.swp"))
	assert.False(t, l.relevant("/etc/keymapd/other.toml"))
}
