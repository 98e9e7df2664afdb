package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"keymapd/internal/config"
	"keymapd/internal/engine"
	"keymapd/internal/state"
	"keymapd/internal/store"
)

// Controller is the part of the engine the control socket drives.
// *engine.Engine implements it.
type Controller interface {
	Status(ctx context.Context) (engine.Status, error)
	SetSuspended(ctx context.Context, on bool) error
	SetSetting(ctx context.Context, name string, value bool) error
	Setting(ctx context.Context, name string) (bool, error)
	ResetSetting(ctx context.Context, name string) (bool, error)
	OverrideKeyboardType(ctx context.Context, kt *state.KeyboardType) error
	Shutdown(ctx context.Context) error
}

// ReloadFunc re-reads the configuration, applies it and returns what is now
// in effect.
type ReloadFunc func(ctx context.Context) (*config.Compiled, error)

// HistoryFunc returns up to limit persisted settings changes, newest first.
type HistoryFunc func(limit int) ([]store.Change, error)

// DefaultHistoryLimit applies when a history request names no limit.
const DefaultHistoryLimit = 20

// HandlerConfig wires a DaemonHandler.
type HandlerConfig struct {
	Controller Controller
	Reload     ReloadFunc
	// History is nil when persistence is off.
	History    HistoryFunc
	Version    string
	ConfigPath string
	// Files reports the configuration files currently in effect.
	Files  func() []string
	Logger *slog.Logger
}

// DaemonHandler answers control requests against a running engine.
type DaemonHandler struct {
	cfg       HandlerConfig
	logger    *slog.Logger
	startedAt time.Time

	mu       sync.Mutex
	override string
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg HandlerConfig) *DaemonHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonHandler{
		cfg:       cfg,
		logger:    logger.With("component", "control"),
		startedAt: time.Now(),
	}
}

// SetOverride records a keyboard type override applied outside the socket,
// such as from the configuration.
func (h *DaemonHandler) SetOverride(kt *state.KeyboardType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = ""
	if kt != nil {
		h.override = kt.String()
	}
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	h.logger.Debug("control request", "peer", peer.ID, "type", msg.Header.Type)

	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, msg)
	case MsgReloadConfig:
		return h.handleReload(ctx, msg)
	case MsgSuspend:
		return h.handleSuspend(ctx, msg)
	case MsgSetSetting:
		return h.handleSetSetting(ctx, msg)
	case MsgGetSetting:
		return h.handleGetSetting(ctx, msg)
	case MsgResetSetting:
		return h.handleResetSetting(ctx, msg)
	case MsgSettingHistory:
		return h.handleHistory(msg)
	case MsgSetKeyboardType:
		return h.handleKeyboardType(ctx, msg)
	case MsgShutdown:
		return h.handleShutdown(ctx, msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

// failure turns an error from the engine or the loader into a response.
func failure(reqID uint32, err error) *Message {
	switch {
	case errors.Is(err, engine.ErrStopped):
		return NewErrorMessage(reqID, ErrEngineStopped, err.Error())
	case errors.Is(err, config.ErrInvalidConfig):
		return NewErrorMessage(reqID, ErrInvalidConfig, err.Error())
	default:
		return NewErrorMessage(reqID, ErrInternalError, err.Error())
	}
}

func (h *DaemonHandler) handleStatus(ctx context.Context, msg *Message) (*Message, error) {
	st, err := h.cfg.Controller.Status(ctx)
	if err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	resp := &StatusResponse{
		Version:    h.cfg.Version,
		Uptime:     time.Since(h.startedAt),
		StartedAt:  h.startedAt,
		ConfigPath: h.cfg.ConfigPath,
		Engine:     st,
	}
	if h.cfg.Files != nil {
		resp.ConfigFiles = h.cfg.Files()
	}
	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleReload(ctx context.Context, msg *Message) (*Message, error) {
	if h.cfg.Reload == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "reload not available"), nil
	}
	compiled, err := h.cfg.Reload(ctx)
	if err != nil {
		h.logger.Warn("reload via control socket rejected", "error", err)
		return failure(msg.Header.RequestID, err), nil
	}
	h.SetOverride(compiled.Engine.KeyboardType)

	resp := &ReloadResponse{Files: compiled.Files}
	if rules := compiled.Engine.Rules; rules != nil {
		resp.Keymaps = len(rules.Keymaps)
		resp.Modmaps = len(rules.Modmaps)
		resp.Multipurpose = len(rules.Multipurpose)
	}
	return NewResponse(MsgReloadResp, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleSuspend(ctx context.Context, msg *Message) (*Message, error) {
	var req SuspendRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid suspend request"), nil
	}
	if err := h.cfg.Controller.SetSuspended(ctx, req.Suspended); err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	return NewResponse(MsgSuspendResp, msg.Header.RequestID, &SuspendResponse{Suspended: req.Suspended})
}

func decodeSetting(msg *Message) (SettingRequest, *Message) {
	var req SettingRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return req, NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid setting request")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return req, NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "setting name is empty")
	}
	return req, nil
}

func (h *DaemonHandler) handleSetSetting(ctx context.Context, msg *Message) (*Message, error) {
	req, bad := decodeSetting(msg)
	if bad != nil {
		return bad, nil
	}
	if err := h.cfg.Controller.SetSetting(ctx, req.Name, req.Value); err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	h.logger.Info("setting changed", "name", req.Name, "value", req.Value)
	return NewResponse(MsgSetSettingResp, msg.Header.RequestID, &SettingResponse{Name: req.Name, Value: req.Value})
}

func (h *DaemonHandler) handleGetSetting(ctx context.Context, msg *Message) (*Message, error) {
	req, bad := decodeSetting(msg)
	if bad != nil {
		return bad, nil
	}
	v, err := h.cfg.Controller.Setting(ctx, req.Name)
	if err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	return NewResponse(MsgGetSettingResp, msg.Header.RequestID, &SettingResponse{Name: req.Name, Value: v})
}

func (h *DaemonHandler) handleResetSetting(ctx context.Context, msg *Message) (*Message, error) {
	req, bad := decodeSetting(msg)
	if bad != nil {
		return bad, nil
	}
	v, err := h.cfg.Controller.ResetSetting(ctx, req.Name)
	if err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	h.logger.Info("setting reset", "name", req.Name, "value", v)
	return NewResponse(MsgResetSettingResp, msg.Header.RequestID, &SettingResponse{Name: req.Name, Value: v})
}

func (h *DaemonHandler) handleHistory(msg *Message) (*Message, error) {
	if h.cfg.History == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotFound, "settings persistence is disabled"), nil
	}
	var req HistoryRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid history request"), nil
		}
	}
	if req.Limit <= 0 {
		req.Limit = DefaultHistoryLimit
	}
	changes, err := h.cfg.History(req.Limit)
	if err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	if changes == nil {
		changes = []store.Change{}
	}
	return NewResponse(MsgSettingHistoryResp, msg.Header.RequestID, &HistoryResponse{Changes: changes})
}

func (h *DaemonHandler) handleKeyboardType(ctx context.Context, msg *Message) (*Message, error) {
	var req KeyboardTypeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid keyboard type request"), nil
	}

	var kt *state.KeyboardType
	if name := strings.TrimSpace(req.Type); name != "" {
		parsed, err := state.ParseKeyboardType(name)
		if err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, err.Error()), nil
		}
		kt = &parsed
	}
	if err := h.cfg.Controller.OverrideKeyboardType(ctx, kt); err != nil {
		return failure(msg.Header.RequestID, err), nil
	}
	h.SetOverride(kt)

	h.mu.Lock()
	override := h.override
	h.mu.Unlock()
	h.logger.Info("keyboard type override", "type", override)
	return NewResponse(MsgSetKeyboardTypeResp, msg.Header.RequestID, &KeyboardTypeResponse{Override: override})
}

func (h *DaemonHandler) handleShutdown(ctx context.Context, msg *Message) (*Message, error) {
	h.logger.Info("shutdown requested via control socket")
	if err := h.cfg.Controller.Shutdown(ctx); err != nil && !errors.Is(err, engine.ErrStopped) {
		return failure(msg.Header.RequestID, err), nil
	}
	return NewMessage(MsgShutdownAck, msg.Header.RequestID, nil), nil
}
