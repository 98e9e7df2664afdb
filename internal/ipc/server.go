package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start when another daemon answers on
	// the socket.
	ErrAlreadyRunning = errors.New("daemon already listening on socket")
	// ErrBadFrame reports a malformed message.
	ErrBadFrame = errors.New("malformed message")
)

// Handler processes IPC messages
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, peer *Peer, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	return f(ctx, peer, msg)
}

// Server is the IPC server that manages client connections
type Server struct {
	mu       sync.RWMutex
	listener net.Listener
	cfg      ServerConfig
	handler  Handler
	peers    map[string]*Peer
	logger   *slog.Logger

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32
	nextPeerID    atomic.Uint64
}

// Peer is one connected client.
type Peer struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Credentials  *PeerCredentials
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath string
	// IdleTimeout is how long a connection may stay silent before the
	// server pings it.
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	Logger         *slog.Logger
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		IdleTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 16,
	}
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) *Server {
	def := DefaultServerConfig(cfg.SocketPath)
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:     cfg,
		handler: handler,
		peers:   make(map[string]*Peer),
		logger:  logger.With("component", "ipc"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	path := s.cfg.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(path) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}
	if err := CleanupSocket(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Owner only; the peer check below is the second line.
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("control socket listening", "path", path)
	return nil
}

// Stop closes the listener and every connection and removes the socket.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("control connections did not drain")
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// PeerCount returns the number of connected clients
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept", "error", err)
			continue
		}

		creds, err := VerifyPeer(conn)
		if err != nil {
			s.logger.Warn("control connection rejected", "error", err)
			conn.Close()
			continue
		}

		s.mu.RLock()
		count := len(s.peers)
		s.mu.RUnlock()
		if count >= s.cfg.MaxConnections {
			s.logger.Warn("control connection limit reached", "limit", s.cfg.MaxConnections)
			conn.Close()
			continue
		}

		now := time.Now()
		peer := &Peer{
			ID:           fmt.Sprintf("peer-%d", s.nextPeerID.Add(1)),
			conn:         conn,
			Credentials:  creds,
			ConnectedAt:  now,
			LastActivity: now,
		}

		s.mu.Lock()
		s.peers[peer.ID] = peer
		s.mu.Unlock()

		s.logger.Debug("control client connected", "peer", peer.ID, "pid", creds.PID)

		s.wg.Add(1)
		go s.handleConnection(peer)
	}
}

func (s *Server) handleConnection(peer *Peer) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.peers, peer.ID)
		s.mu.Unlock()
		peer.conn.Close()
		s.logger.Debug("control client disconnected", "peer", peer.ID)
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}

		peer.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		msg, err := ReadMessage(peer.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if err := s.sendPing(peer); err != nil {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("control read", "peer", peer.ID, "error", err)
			}
			return
		}

		peer.mu.Lock()
		peer.LastActivity = time.Now()
		peer.mu.Unlock()

		response, err := s.processMessage(peer, msg)
		if err != nil {
			s.logger.Warn("control request failed", "peer", peer.ID, "type", msg.Header.Type, "error", err)
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}

		if response != nil {
			if err := s.sendMessage(peer, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(peer *Peer, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgPong:
		return nil, nil
	}
	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
	return s.handler.HandleMessage(s.ctx, peer, msg)
}

func (s *Server) sendMessage(peer *Peer, msg *Message) error {
	peer.writeMu.Lock()
	defer peer.writeMu.Unlock()

	peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(peer.conn)
}

func (s *Server) sendPing(peer *Peer) error {
	return s.sendMessage(peer, NewMessage(MsgPing, s.nextRequestID.Add(1), nil))
}
