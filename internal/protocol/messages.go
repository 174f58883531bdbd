// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator; unknown or malformed shapes are rejected at the boundary.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tandem/lingua-app/internal/message"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin      = "join"      // register presence
	TypeSubscribe = "subscribe" // join a connection's broadcast group
	TypeSend      = "send"      // send a chat message
	TypeTyping    = "typing"    // typing indicator
	TypePing      = "ping"
)

// Server -> Client message types.
const (
	TypeWelcome          = "welcome"
	TypePresenceSnapshot = "presence_snapshot"
	TypeSubscribed       = "subscribed"
	TypeMessageReceived  = "message_received"
	TypeUserTyping       = "user_typing"
	TypeError            = "error"
	TypePong             = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
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

// JoinMsg registers the authenticated user as online. UserID is optional;
// when present it must match the identity the socket authenticated with.
type JoinMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

// SubscribeMsg joins the broadcast group of one connection.
type SubscribeMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// SendMsg is an inbound chat message.
type SendMsg struct {
	Type             string `json:"type"`
	ConnectionID     string `json:"connection_id"`
	Content          string `json:"content"`
	OriginalLanguage string `json:"original_language"`
	TargetLanguage   string `json:"target_language"`
	MessageType      string `json:"message_type"` // text | image | system | call_invite
}

// TypingMsg indicates the client is typing in a connection.
type TypingMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// WelcomeMsg is sent when the socket is established, echoing the live
// handle id assigned to it and the authenticated user.
type WelcomeMsg struct {
	Type     string `json:"type"`
	HandleID string `json:"handle_id"`
	UserID   string `json:"user_id"`
}

// PresenceSnapshotMsg carries the full set of online user ids. Pushed to
// every connected client on each registry change.
type PresenceSnapshotMsg struct {
	Type          string   `json:"type"`
	OnlineUserIDs []string `json:"online_user_ids"`
}

// SubscribedMsg confirms a subscription to a connection's broadcast group.
type SubscribedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// MessageReceivedMsg delivers a resolved chat message to the connection's
// subscribers.
type MessageReceivedMsg struct {
	Type    string            `json:"type"`
	Message *message.Enriched `json:"message"`
}

// UserTypingMsg relays a participant's typing indicator.
type UserTypingMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// ErrorMsg communicates an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSubscribe:
		var m SubscribeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
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
