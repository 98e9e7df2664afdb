package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"keymapd/internal/store"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// Client talks to a running keymapd over its control socket. It is safe
// for concurrent use.
type Client struct {
	mu   sync.RWMutex
	conn net.Conn

	connected atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	wg     sync.WaitGroup
	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{
		pending: make(map[uint32]chan *Message),
		config:  cfg,
	}
}

// Dial connects a new client to the socket at path.
func Dial(path string) (*Client, error) {
	c := NewClient(DefaultClientConfig(path))
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes a connection to the daemon
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ECONNREFUSED) {
			return fmt.Errorf("%w: %s", ErrDaemonNotRunning, c.config.SocketPath)
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Close closes the connection to the daemon
func (c *Client) Close() error {
	c.close()
	c.wg.Wait()
	return nil
}

// close drops the connection and fails every pending request.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// request sends a request and waits for the response with the same ID.
// A MsgError response is returned as *ErrorResponse.
func (c *Client) request(ctx context.Context, msgType MessageType, payload any) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.write(conn, msg); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		if resp.Header.Type == MsgError {
			errResp := &ErrorResponse{}
			if err := Decode(resp.Payload, errResp); err != nil {
				return nil, fmt.Errorf("decode error response: %w", err)
			}
			return nil, errResp
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call performs a request and decodes a response of type want into out.
func (c *Client) call(ctx context.Context, msgType MessageType, payload any, want MessageType, out any) error {
	resp, err := c.request(ctx, msgType, payload)
	if err != nil {
		return err
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response %s to %s", resp.Header.Type, msgType)
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

func (c *Client) write(conn net.Conn, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.RequestTimeout))
	return msg.Write(conn)
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			c.close()
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(conn, NewMessage(MsgPong, msg.Header.RequestID, nil))
		default:
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.Header.RequestID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// High-level API methods

// Ping checks if the daemon is responsive
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MsgPing, nil, MsgPong, nil)
}

// Status requests the daemon status
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var st StatusResponse
	if err := c.call(ctx, MsgStatusRequest, nil, MsgStatusResponse, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Reload asks the daemon to re-read its configuration.
func (c *Client) Reload(ctx context.Context) (*ReloadResponse, error) {
	var r ReloadResponse
	if err := c.call(ctx, MsgReloadConfig, nil, MsgReloadResp, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Suspend stops remapping until Resume.
func (c *Client) Suspend(ctx context.Context) error {
	return c.setSuspended(ctx, true)
}

// Resume restarts remapping.
func (c *Client) Resume(ctx context.Context) error {
	return c.setSuspended(ctx, false)
}

func (c *Client) setSuspended(ctx context.Context, on bool) error {
	var r SuspendResponse
	return c.call(ctx, MsgSuspend, &SuspendRequest{Suspended: on}, MsgSuspendResp, &r)
}

// SetSetting sets a settings flag.
func (c *Client) SetSetting(ctx context.Context, name string, value bool) error {
	var r SettingResponse
	return c.call(ctx, MsgSetSetting, &SettingRequest{Name: name, Value: value}, MsgSetSettingResp, &r)
}

// GetSetting reads a settings flag. Unknown flags read false.
func (c *Client) GetSetting(ctx context.Context, name string) (bool, error) {
	var r SettingResponse
	if err := c.call(ctx, MsgGetSetting, &SettingRequest{Name: name}, MsgGetSettingResp, &r); err != nil {
		return false, err
	}
	return r.Value, nil
}

// ResetSetting returns a flag to its configured default and reports the
// value now in effect.
func (c *Client) ResetSetting(ctx context.Context, name string) (bool, error) {
	var r SettingResponse
	if err := c.call(ctx, MsgResetSetting, &SettingRequest{Name: name}, MsgResetSettingResp, &r); err != nil {
		return false, err
	}
	return r.Value, nil
}

// History returns persisted settings changes, newest first. limit <= 0 uses
// the daemon's default.
func (c *Client) History(ctx context.Context, limit int) ([]store.Change, error) {
	var r HistoryResponse
	if err := c.call(ctx, MsgSettingHistory, &HistoryRequest{Limit: limit}, MsgSettingHistoryResp, &r); err != nil {
		return nil, err
	}
	return r.Changes, nil
}

// SetKeyboardType overrides the keyboard type; "" returns to detection.
func (c *Client) SetKeyboardType(ctx context.Context, kind string) (string, error) {
	var r KeyboardTypeResponse
	if err := c.call(ctx, MsgSetKeyboardType, &KeyboardTypeRequest{Type: kind}, MsgSetKeyboardTypeResp, &r); err != nil {
		return "", err
	}
	return r.Override, nil
}

// Shutdown stops the daemon. The connection closes afterwards.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, MsgShutdown, nil, MsgShutdownAck, nil)
}
