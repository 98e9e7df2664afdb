// Package ipc is the control socket between keymapd and keymapctl.
//
// Messages are framed with a fixed 16-byte header followed by a JSON
// payload. Every request carries an ID that the response echoes.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"keymapd/internal/engine"
	"keymapd/internal/store"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4B4D4443 // "KMDC"
)

// MaxPayload bounds a single message body.
const MaxPayload = 1 << 20

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing        MessageType = 0x0001
	MsgPong        MessageType = 0x0002
	MsgError       MessageType = 0x0005
	MsgShutdown    MessageType = 0x0006
	MsgShutdownAck MessageType = 0x0007

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Configuration (0x02xx)
	MsgReloadConfig MessageType = 0x0200
	MsgReloadResp   MessageType = 0x0201

	// Suspension (0x03xx)
	MsgSuspend     MessageType = 0x0300
	MsgSuspendResp MessageType = 0x0301

	// Settings flags (0x04xx)
	MsgSetSetting         MessageType = 0x0400
	MsgSetSettingResp     MessageType = 0x0401
	MsgGetSetting         MessageType = 0x0402
	MsgGetSettingResp     MessageType = 0x0403
	MsgResetSetting       MessageType = 0x0404
	MsgResetSettingResp   MessageType = 0x0405
	MsgSettingHistory     MessageType = 0x0406
	MsgSettingHistoryResp MessageType = 0x0407

	// Keyboard type (0x05xx)
	MsgSetKeyboardType     MessageType = 0x0500
	MsgSetKeyboardTypeResp MessageType = 0x0501
)

var messageNames = map[MessageType]string{
	MsgPing:                "ping",
	MsgPong:                "pong",
	MsgError:               "error",
	MsgShutdown:            "shutdown",
	MsgShutdownAck:         "shutdown-ack",
	MsgStatusRequest:       "status",
	MsgStatusResponse:      "status-resp",
	MsgReloadConfig:        "reload",
	MsgReloadResp:          "reload-resp",
	MsgSuspend:             "suspend",
	MsgSuspendResp:         "suspend-resp",
	MsgSetSetting:          "set-setting",
	MsgSetSettingResp:      "set-setting-resp",
	MsgGetSetting:          "get-setting",
	MsgGetSettingResp:      "get-setting-resp",
	MsgResetSetting:        "reset-setting",
	MsgResetSettingResp:    "reset-setting-resp",
	MsgSettingHistory:      "setting-history",
	MsgSettingHistoryResp:  "setting-history-resp",
	MsgSetKeyboardType:     "set-keyboard-type",
	MsgSetKeyboardTypeResp: "set-keyboard-type-resp",
}

func (t MessageType) String() string {
	if s, ok := messageNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// FlagJSON marks a JSON payload, the only encoding keymapd speaks.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: magic %x", ErrBadFrame, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: protocol version %d", ErrBadFrame, h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("%w: payload too large: %d bytes", ErrBadFrame, h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// ErrorResponse is sent when an operation fails. It doubles as the error
// a Client returns.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("daemon: %s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrInvalidConfig    = 6
	ErrEngineStopped    = 7
)

// StatusResponse contains daemon status
type StatusResponse struct {
	Version     string        `json:"version"`
	Uptime      time.Duration `json:"uptime"`
	StartedAt   time.Time     `json:"started_at"`
	ConfigPath  string        `json:"config_path,omitempty"`
	ConfigFiles []string      `json:"config_files,omitempty"`
	Engine      engine.Status `json:"engine"`
}

// ReloadResponse reports the configuration now in effect.
type ReloadResponse struct {
	Files        []string `json:"files"`
	Keymaps      int      `json:"keymaps"`
	Modmaps      int      `json:"modmaps"`
	Multipurpose int      `json:"multipurpose"`
}

// SuspendRequest suspends (true) or resumes (false) remapping.
type SuspendRequest struct {
	Suspended bool `json:"suspended"`
}

// SuspendResponse echoes the resulting state.
type SuspendResponse struct {
	Suspended bool `json:"suspended"`
}

// SettingRequest names a settings flag; Value is ignored by get.
type SettingRequest struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// SettingResponse carries a flag's value after the request.
type SettingResponse struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// HistoryRequest asks for the most recent persisted settings changes.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse lists changes, newest first.
type HistoryResponse struct {
	Changes []store.Change `json:"changes"`
}

// KeyboardTypeRequest overrides the keyboard type. An empty Type returns
// to detection.
type KeyboardTypeRequest struct {
	Type string `json:"type"`
}

// KeyboardTypeResponse reports the override in effect ("" for none).
type KeyboardTypeResponse struct {
	Override string `json:"override"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
