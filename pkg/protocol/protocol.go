// Package protocol defines the JSON frame format spoken over the
// WebSocket channel. Every frame carries a Type discriminator; the
// remaining fields depend on the type and are omitted when empty.
package protocol

import "encoding/json"

// Version is the wire protocol version, echoed in the ready frame so
// clients can detect incompatible servers.
const Version = 1

// Frame types. The client opens with an auth frame, the server answers
// with ready, and afterwards messages flow as message/reply pairs with
// event frames pushed by the server at any time.
const (
	TypeAuth    = "auth"
	TypeReady   = "ready"
	TypeMessage = "message"
	TypeReply   = "reply"
	TypeEvent   = "event"
	TypeError   = "error"
)

// Frame is the single envelope for all traffic in both directions.
type Frame struct {
	Type string `json:"type"`

	// Auth fields. APIKey is required when the server enforces auth;
	// UserID is honored only when auth is disabled.
	APIKey string `json:"api_key,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// Message and reply fields.
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Event fields. Payload is kept raw so callers decode only the
	// events they care about.
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error fields.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Version is set on ready frames.
	Version int `json:"version,omitempty"`
}

// NewReady builds the frame sent after successful auth.
func NewReady(userID string) Frame {
	return Frame{Type: TypeReady, UserID: userID, Version: Version}
}

// NewReply builds an assistant reply frame.
func NewReply(text, sessionID string) Frame {
	return Frame{Type: TypeReply, Text: text, SessionID: sessionID}
}

// NewEvent builds a server-push event frame. Marshal errors are
// reported as an error frame instead, so the client always receives
// something parseable.
func NewEvent(name string, payload any) Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		return NewError("internal_error", "encode event payload: "+err.Error())
	}
	return Frame{Type: TypeEvent, Event: name, Payload: raw}
}

// NewError builds an error frame. Code is a stable machine-readable
// identifier; Message is human-readable detail.
func NewError(code, message string) Frame {
	return Frame{Type: TypeError, Code: code, Message: message}
}
