package ipc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/config"
	"keymapd/internal/engine"
	"keymapd/internal/mapping"
	"keymapd/internal/state"
	"keymapd/internal/store"
)

type fakeController struct {
	mu        sync.Mutex
	suspended bool
	settings  map[string]bool
	override  *state.KeyboardType
	shutdown  bool
	stopped   bool
}

func newFakeController() *fakeController {
	return &fakeController{settings: map[string]bool{}}
}

func (f *fakeController) Status(ctx context.Context) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return engine.Status{}, engine.ErrStopped
	}
	return engine.Status{Suspended: f.suspended, Events: 42, Keymaps: 3}, nil
}

func (f *fakeController) SetSuspended(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = on
	return nil
}

func (f *fakeController) SetSetting(ctx context.Context, name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[name] = value
	return nil
}

func (f *fakeController) Setting(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings[name], nil
}

func (f *fakeController) ResetSetting(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.settings, name)
	return false, nil
}

func (f *fakeController) OverrideKeyboardType(ctx context.Context, kt *state.KeyboardType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.override = kt
	return nil
}

func (f *fakeController) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "k.sock")
	srv := NewServer(ServerConfig{SocketPath: path}, h)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, path
}

func dial(t *testing.T, path string) *Client {
	t.Helper()
	c, err := Dial(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	msg, err := NewResponse(MsgSetSetting, 7, &SettingRequest{Name: "caps", Value: true})
	require.NoError(t, err)
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(msg.Payload), buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSetSetting, got.Header.Type)
	assert.Equal(t, uint32(7), got.Header.RequestID)
	assert.Equal(t, FlagJSON, got.Header.Flags)

	var req SettingRequest
	require.NoError(t, Decode(got.Payload, &req))
	assert.Equal(t, SettingRequest{Name: "caps", Value: true}, req)
}

func TestReadMessageRejectsBadFrames(t *testing.T) {
	t.Run("magic", func(t *testing.T) {
		var buf bytes.Buffer
		msg := NewMessage(MsgPing, 1, nil)
		msg.Header.Magic = 0xdeadbeef
		require.NoError(t, msg.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorIs(t, err, ErrBadFrame)
	})
	t.Run("version", func(t *testing.T) {
		var buf bytes.Buffer
		msg := NewMessage(MsgPing, 1, nil)
		msg.Header.Version = ProtocolVersion + 1
		require.NoError(t, msg.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorIs(t, err, ErrBadFrame)
	})
	t.Run("size", func(t *testing.T) {
		var buf bytes.Buffer
		h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: MsgPing, Length: MaxPayload + 1}
		require.NoError(t, h.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorIs(t, err, ErrBadFrame)
	})
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "status", MsgStatusRequest.String())
	assert.Equal(t, "0x7777", MessageType(0x7777).String())
}

func TestControlRoundTrip(t *testing.T) {
	ctrl := newFakeController()
	h := NewDaemonHandler(HandlerConfig{
		Controller: ctrl,
		Version:    "test",
		ConfigPath: "/etc/keymapd/config.toml",
		Files:      func() []string { return []string{"/etc/keymapd/config.toml"} },
	})
	_, path := startServer(t, h)
	c := dial(t, path)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	require.NoError(t, c.Suspend(ctx))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st.Version)
	assert.True(t, st.Engine.Suspended)
	assert.Equal(t, uint64(42), st.Engine.Events)
	assert.Equal(t, []string{"/etc/keymapd/config.toml"}, st.ConfigFiles)

	require.NoError(t, c.Resume(ctx))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Engine.Suspended)

	require.NoError(t, c.SetSetting(ctx, "forced_numpad", true))
	v, err := c.GetSetting(ctx, "forced_numpad")
	require.NoError(t, err)
	assert.True(t, v)
	v, err = c.GetSetting(ctx, "never_set")
	require.NoError(t, err)
	assert.False(t, v)

	override, err := c.SetKeyboardType(ctx, "chromebook")
	require.NoError(t, err)
	assert.Equal(t, "Chromebook", override)
	ctrl.mu.Lock()
	require.NotNil(t, ctrl.override)
	assert.Equal(t, state.Chromebook, *ctrl.override)
	ctrl.mu.Unlock()

	override, err = c.SetKeyboardType(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, override)
	ctrl.mu.Lock()
	assert.Nil(t, ctrl.override)
	ctrl.mu.Unlock()

	require.NoError(t, c.Shutdown(ctx))
	ctrl.mu.Lock()
	assert.True(t, ctrl.shutdown)
	ctrl.mu.Unlock()
}

func TestControlErrors(t *testing.T) {
	ctrl := newFakeController()
	h := NewDaemonHandler(HandlerConfig{
		Controller: ctrl,
		Reload: func(ctx context.Context) (*config.Compiled, error) {
			return nil, config.ValidationErrors{{Field: "keymap[0].mappings.Hyper-q", Message: "unknown modifier"}}
		},
	})
	_, path := startServer(t, h)
	c := dial(t, path)
	ctx := context.Background()

	_, err := c.SetKeyboardType(ctx, "typewriter")
	var resp *ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrInvalidRequest, resp.Code)

	err = c.SetSetting(ctx, "  ", true)
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrInvalidRequest, resp.Code)

	_, err = c.Reload(ctx)
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrInvalidConfig, resp.Code)
	assert.Contains(t, resp.Message, "Hyper-q")

	_, err = c.request(ctx, MessageType(0x7777), nil)
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrInvalidRequest, resp.Code)

	ctrl.mu.Lock()
	ctrl.stopped = true
	ctrl.mu.Unlock()
	_, err = c.Status(ctx)
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrEngineStopped, resp.Code)

	// The connection survives every failed request.
	assert.NoError(t, c.Ping(ctx))
}

func TestControlResetAndHistory(t *testing.T) {
	ctrl := newFakeController()
	at := time.Unix(1700000000, 0).UTC()
	var gotLimit atomic.Int64
	h := NewDaemonHandler(HandlerConfig{
		Controller: ctrl,
		History: func(limit int) ([]store.Change, error) {
			gotLimit.Store(int64(limit))
			return []store.Change{{Name: "vim", Value: true, ChangedAt: at}}, nil
		},
	})
	_, path := startServer(t, h)
	c := dial(t, path)
	ctx := context.Background()

	require.NoError(t, c.SetSetting(ctx, "vim", true))
	v, err := c.ResetSetting(ctx, "vim")
	require.NoError(t, err)
	assert.False(t, v)
	ctrl.mu.Lock()
	assert.NotContains(t, ctrl.settings, "vim")
	ctrl.mu.Unlock()

	_, err = c.ResetSetting(ctx, "")
	var resp *ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrInvalidRequest, resp.Code)

	changes, err := c.History(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultHistoryLimit), gotLimit.Load())
	require.Len(t, changes, 1)
	assert.Equal(t, "vim", changes[0].Name)
	assert.True(t, changes[0].ChangedAt.Equal(at))

	_, err = c.History(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), gotLimit.Load())
}

func TestHistoryWithoutPersistence(t *testing.T) {
	h := NewDaemonHandler(HandlerConfig{Controller: newFakeController()})
	_, path := startServer(t, h)
	c := dial(t, path)

	_, err := c.History(context.Background(), 0)
	var resp *ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, ErrNotFound, resp.Code)
}

func TestControlReload(t *testing.T) {
	mac := state.Mac
	h := NewDaemonHandler(HandlerConfig{
		Controller: newFakeController(),
		Reload: func(ctx context.Context) (*config.Compiled, error) {
			return &config.Compiled{
				Engine: engine.Config{
					Rules:        &mapping.Rules{Keymaps: make([]mapping.Keymap, 2)},
					KeyboardType: &mac,
				},
				Files: []string{"a.toml", "config.d/b.toml"},
			}, nil
		},
	})
	_, path := startServer(t, h)
	c := dial(t, path)

	r, err := c.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Keymaps)
	assert.Equal(t, []string{"a.toml", "config.d/b.toml"}, r.Files)

	h.mu.Lock()
	assert.Equal(t, "Mac", h.override)
	h.mu.Unlock()
}

func TestConcurrentRequests(t *testing.T) {
	ctrl := newFakeController()
	_, path := startServer(t, NewDaemonHandler(HandlerConfig{Controller: ctrl}))
	c := dial(t, path)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			errs <- c.SetSetting(ctx, "flag", on)
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestDialWithoutDaemon(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "missing.sock"))
	assert.ErrorIs(t, err, ErrDaemonNotRunning)

	c := NewClient(ClientConfig{SocketPath: "unused"})
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)
}

func TestServerSocketLifecycle(t *testing.T) {
	srv, path := startServer(t, NewDaemonHandler(HandlerConfig{Controller: newFakeController()}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.True(t, IsSocketListening(path))

	second := NewServer(ServerConfig{SocketPath: path}, nil)
	assert.ErrorIs(t, second.Start(), ErrAlreadyRunning)

	require.NoError(t, srv.Stop())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, srv.Stop())
}

func TestCleanupSocket(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CleanupSocket(filepath.Join(dir, "none.sock")))

	regular := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(regular, []byte("x"), 0600))
	assert.Error(t, CleanupSocket(regular))
	_, err := os.Stat(regular)
	assert.NoError(t, err)
}

func TestPeerCredentials(t *testing.T) {
	var got *PeerCredentials
	var mu sync.Mutex
	h := HandlerFunc(func(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
		mu.Lock()
		got = peer.Credentials
		mu.Unlock()
		return NewMessage(MsgShutdownAck, msg.Header.RequestID, nil), nil
	})
	_, path := startServer(t, h)
	c := dial(t, path)

	require.NoError(t, c.Shutdown(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, os.Getuid(), got.UID)
	assert.Equal(t, os.Getpid(), got.PID)
}
