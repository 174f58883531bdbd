// Package relay implements the realtime message pipeline: translate,
// persist, update the parent connection (last message, streak, last
// interaction), bump sender stats, and publish the resolved message to the
// connection's subscribers.
//
// Failure policy: translation failures are absorbed with a deterministic
// fallback and never abort delivery; persistence failures abort the whole
// pipeline before stats and broadcast, so the stored and broadcast views
// never diverge.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tandem/lingua-app/internal/apperr"
	"github.com/tandem/lingua-app/internal/connection"
	"github.com/tandem/lingua-app/internal/message"
	"github.com/tandem/lingua-app/internal/metrics"
	"github.com/tandem/lingua-app/internal/translate"
)

// ConnectionStore is the connection access the relay needs. TouchForMessage
// must serialize concurrent touches per connection id.
type ConnectionStore interface {
	Get(ctx context.Context, id string) (*connection.Connection, error)
	TouchForMessage(ctx context.Context, connectionID, messageID string, now time.Time) (*connection.Connection, error)
}

// MessageStore persists and re-reads messages.
type MessageStore interface {
	Insert(ctx context.Context, m *message.Message) error
	GetEnriched(ctx context.Context, id string) (*message.Enriched, error)
}

// StatsStore increments the sender's aggregate counters.
type StatsStore interface {
	IncrMessagesSent(ctx context.Context, userID string) (int64, error)
}

// Publisher delivers an event to the subscriber set of one connection.
type Publisher interface {
	PublishConversation(connectionID string, data []byte) error
}

// Inbound is a chat event received from a client.
type Inbound struct {
	SenderID         string `json:"sender_id"`
	ConnectionID     string `json:"connection_id"`
	Content          string `json:"content"`
	OriginalLanguage string `json:"original_language"`
	TargetLanguage   string `json:"target_language"`
	Type             string `json:"type"`
}

// Relay is the message hot path.
type Relay struct {
	connections ConnectionStore
	messages    MessageStore
	stats       StatsStore
	publisher   Publisher
	translator  translate.Translator
	now         func() time.Time
}

// New creates a Relay.
func New(connections ConnectionStore, messages MessageStore, stats StatsStore,
	publisher Publisher, translator translate.Translator) *Relay {
	return &Relay{
		connections: connections,
		messages:    messages,
		stats:       stats,
		publisher:   publisher,
		translator:  translator,
		now:         time.Now,
	}
}

// Send runs the full pipeline for one inbound chat event and returns the
// resolved message that was broadcast.
func (r *Relay) Send(ctx context.Context, in Inbound) (*message.Enriched, error) {
	started := r.now()

	if in.Type == "" {
		in.Type = message.TypeText
	}
	if !message.ValidType(in.Type) {
		return nil, apperr.Validation("unknown message type " + in.Type)
	}
	if in.ConnectionID == "" {
		return nil, apperr.Validation("connection id required")
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}
	if in.Type == message.TypeText && in.TargetLanguage == "" {
		return nil, apperr.Validation("target language required for text messages")
	}

	conn, err := r.connections.Get(ctx, in.ConnectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperr.NotFound("connection not found")
	}
	if !conn.IsParticipant(in.SenderID) {
		return nil, apperr.Forbidden("sender is not a participant")
	}
	if conn.Status != connection.StatusAccepted {
		return nil, apperr.Forbidden("connection is not accepted")
	}

	// Only text is translated; other types pass through unchanged. A
	// failing or slow backend degrades to the tagged fallback, never to a
	// failed send.
	translated := in.Content
	if in.Type == message.TypeText {
		translated, err = r.translator.Translate(ctx, in.Content, in.TargetLanguage)
		if err != nil {
			metrics.TranslationFailures.Inc()
			log.Printf("[relay] translation degraded connection=%s target=%s: %v",
				in.ConnectionID, in.TargetLanguage, err)
			translated = translate.Fallback(in.TargetLanguage, in.Content)
		}
	}

	now := r.now()
	msg := &message.Message{
		ID:               uuid.New().String(),
		ConnectionID:     in.ConnectionID,
		SenderID:         in.SenderID,
		OriginalText:     in.Content,
		OriginalLanguage: in.OriginalLanguage,
		TargetLanguage:   in.TargetLanguage,
		TranslatedText:   translated,
		Type:             in.Type,
		CreatedAt:        now,
	}

	if err := r.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}

	// Row-locked touch: last message pointer, streak, last interaction.
	if _, err := r.connections.TouchForMessage(ctx, in.ConnectionID, msg.ID, now); err != nil {
		return nil, err
	}

	// Aggregate counter is a side channel: a failure here is logged but
	// does not block delivery of an already-persisted message.
	if _, err := r.stats.IncrMessagesSent(ctx, in.SenderID); err != nil {
		log.Printf("[relay] stats increment failed sender=%s: %v", in.SenderID, err)
	}

	enriched, err := r.messages.GetEnriched(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if enriched == nil {
		return nil, apperr.Persistence("message vanished after insert", nil)
	}

	if err := r.publish(in.ConnectionID, Event{Kind: EventMessage, From: in.SenderID, Message: enriched}); err != nil {
		// Persisted but not fanned out: subscribers recover it by
		// re-querying storage; the send itself succeeded.
		log.Printf("[relay] broadcast failed connection=%s: %v", in.ConnectionID, err)
	}

	metrics.MessagesTotal.WithLabelValues(in.Type).Inc()
	metrics.RelayLatency.Observe(r.now().Sub(started).Seconds())

	return enriched, nil
}

// Typing relays a typing indicator to the connection's other subscribers.
// Nothing is persisted.
func (r *Relay) Typing(ctx context.Context, senderID, connectionID string) error {
	conn, err := r.connections.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return apperr.NotFound("connection not found")
	}
	if !conn.IsParticipant(senderID) {
		return apperr.Forbidden("sender is not a participant")
	}

	return r.publish(connectionID, Event{Kind: EventTyping, From: senderID})
}

func (r *Relay) publish(connectionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.publisher.PublishConversation(connectionID, data)
}
