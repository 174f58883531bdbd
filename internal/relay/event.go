package relay

import "github.com/tandem/lingua-app/internal/message"

// Event kinds carried on conversation.<id> subjects.
const (
	EventMessage = "message"
	EventTyping  = "typing"
)

// Event is the payload published to a connection's fanout subject. Message
// events carry the fully-resolved (sender-enriched) message; typing events
// carry only the sender and are relayed verbatim, never persisted.
type Event struct {
	Kind    string            `json:"kind"`
	From    string            `json:"from"` // sender's user id
	Message *message.Enriched `json:"message,omitempty"`
}
