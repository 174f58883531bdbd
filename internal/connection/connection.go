// Package connection manages the relationship entity between two users: the
// request lifecycle (pending → accepted/rejected, cancel = delete) and the
// chat-facing fields the relay maintains (last message, streak, last
// interaction). A connection is scoped to exactly one unordered language
// pair; a second request between the same users for the same pair is a
// conflict, enforced atomically by the storage layer.
package connection

import (
	"encoding/json"
	"time"
)

// Connection statuses. Cancellation is not a stored status: cancelling a
// pending request deletes the record.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// List filters exposed to callers.
const (
	FilterActive          = "active"
	FilterPendingReceived = "pending-received"
	FilterPendingSent     = "pending-sent"
)

// Connection is the sole relationship entity between two users.
//
// RequesterLearning and RecipientLearning are the per-user learning map: the
// one language each participant is learning within this connection. Their
// two values are the two elements of the language pair.
type Connection struct {
	ID                string     `json:"id"`
	RequesterID       string     `json:"requester_id"`
	RecipientID       string     `json:"recipient_id"`
	Status            string     `json:"status"`
	RequesterLearning string     `json:"-"`
	RecipientLearning string     `json:"-"`
	LastMessageID     string     `json:"last_message_id,omitempty"`
	Streak            int        `json:"streak"`
	LastInteraction   *time.Time `json:"last_interaction,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsParticipant reports whether userID is one of the two participants.
func (c *Connection) IsParticipant(userID string) bool {
	return userID == c.RequesterID || userID == c.RecipientID
}

// Partner returns the other participant's id, or "" if userID is not a
// participant.
func (c *Connection) Partner(userID string) string {
	switch userID {
	case c.RequesterID:
		return c.RecipientID
	case c.RecipientID:
		return c.RequesterID
	}
	return ""
}

// LearningMap returns the participant-id → learning-language mapping.
func (c *Connection) LearningMap() map[string]string {
	return map[string]string{
		c.RequesterID: c.RequesterLearning,
		c.RecipientID: c.RecipientLearning,
	}
}

// LanguagePair returns the unordered language pair as a two-element slice.
func (c *Connection) LanguagePair() []string {
	return []string{c.RequesterLearning, c.RecipientLearning}
}

// MarshalJSON emits the learning map and derived language pair alongside the
// stored fields, so clients never deal with perspective-dependent
// teach/learn positions.
func (c *Connection) MarshalJSON() ([]byte, error) {
	type alias Connection
	return json.Marshal(struct {
		*alias
		Participants []string          `json:"participants"`
		LanguagePair []string          `json:"language_pair"`
		LearningMap  map[string]string `json:"learning_map"`
	}{
		alias:        (*alias)(c),
		Participants: []string{c.RequesterID, c.RecipientID},
		LanguagePair: c.LanguagePair(),
		LearningMap:  c.LearningMap(),
	})
}
