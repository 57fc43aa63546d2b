// Package protocol defines the WebSocket frames exchanged between support
// chat clients and the server. Every frame is a JSON object with a "type"
// discriminator. Clients may also send bare text, which is treated as the
// content of a chat message.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/libnamic/support-chat/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// Server -> Client message types. Chat messages reuse TypeMessage.
const (
	TypeSystem  = "system"
	TypeHistory = "history"
	TypeError   = "error"
	TypePong    = "pong"
)

// Error codes carried by ErrorMsg. Errors are private to the connection that
// caused them and never close it.
const (
	CodeInvalidMessage = "invalid_message"
	CodeMessageBlocked = "message_blocked"
	CodeRateLimited    = "rate_limited"
	CodeParseError     = "parse_error"
)

// ErrUnknownType is returned by ParseClientMessage for well-formed JSON whose
// type is not one a client may send.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ChatMsg is a text message sent by a participant to their room.
type ChatMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ServerChatMsg is a participant message relayed to every room member.
type ServerChatMsg struct {
	Type       string `json:"type"`
	Sender     string `json:"sender"`
	SenderRole string `json:"sender_role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// SystemMsg is a transient room notice such as a join or leave.
type SystemMsg struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// HistoryMsg replays a room's retained chat messages to one joining client.
type HistoryMsg struct {
	Type      string          `json:"type"`
	Messages  []ServerChatMsg `json:"messages"`
	Timestamp string          `json:"timestamp"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ServerFrame is the union of every server frame, used by clients that
// decode without knowing the type in advance.
type ServerFrame struct {
	Type       string          `json:"type"`
	Sender     string          `json:"sender,omitempty"`
	SenderRole string          `json:"sender_role,omitempty"`
	Content    string          `json:"content,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Messages   []ServerChatMsg `json:"messages,omitempty"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// Text that is not a JSON object is accepted as the content of a ChatMsg.
// An error is returned for malformed JSON and for unknown or server-only
// message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return TypeMessage, ChatMsg{Type: TypeMessage, Content: string(data)}, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewError encodes a private error frame.
func NewError(code, message string) ([]byte, error) {
	return NewServerMessage(TypeError, ErrorMsg{Code: code, Message: message})
}

// EncodeMessage renders a room message in its wire form.
func EncodeMessage(msg chat.Message) ([]byte, error) {
	var payload interface{}
	switch msg.Kind {
	case chat.KindChat:
		payload = toServerChat(msg)
	case chat.KindSystem:
		payload = SystemMsg{
			Type:      TypeSystem,
			Content:   msg.Body,
			Timestamp: formatTime(msg.Timestamp),
		}
	case chat.KindHistory:
		items := make([]ServerChatMsg, 0, len(msg.Messages))
		for _, m := range msg.Messages {
			items = append(items, toServerChat(m))
		}
		payload = HistoryMsg{
			Type:      TypeHistory,
			Messages:  items,
			Timestamp: formatTime(msg.Timestamp),
		}
	default:
		return nil, fmt.Errorf("protocol: unknown message kind %q", msg.Kind)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s message: %w", msg.Kind, err)
	}
	return out, nil
}

// ParseServerMessage decodes a server frame.
func ParseServerMessage(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("protocol: failed to parse server message: %w", err)
	}
	if f.Type == "" {
		return ServerFrame{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	return f, nil
}

func toServerChat(m chat.Message) ServerChatMsg {
	return ServerChatMsg{
		Type:       TypeMessage,
		Sender:     m.Sender,
		SenderRole: m.SenderRole,
		Content:    m.Body,
		Timestamp:  formatTime(m.Timestamp),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
