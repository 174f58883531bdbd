// Package message provides the append-only chat message record and its
// PostgreSQL store. A message always stores the sender as an id; username
// and avatar enrichment is a read-side join performed at query time.
package message

import "time"

// Message types. Non-text types pass through the relay untranslated.
const (
	TypeText       = "text"
	TypeImage      = "image"
	TypeSystem     = "system"
	TypeCallInvite = "call_invite"
)

// ValidType reports whether t is one of the known message types.
func ValidType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeSystem, TypeCallInvite:
		return true
	}
	return false
}

// Message is one chat message within a connection. Immutable once created.
type Message struct {
	ID               string    `json:"id"`
	ConnectionID     string    `json:"connection_id"`
	SenderID         string    `json:"sender_id"`
	OriginalText     string    `json:"original_text"`
	OriginalLanguage string    `json:"original_language"`
	TargetLanguage   string    `json:"target_language,omitempty"`
	TranslatedText   string    `json:"translated_text,omitempty"`
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"created_at"`
}

// Enriched is a message joined with the sender's display fields for
// broadcast and list responses.
type Enriched struct {
	Message
	SenderUsername string `json:"sender_username"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`
}
