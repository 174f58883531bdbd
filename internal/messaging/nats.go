// Package messaging provides a NATS client wrapper for pub/sub fanout
// between lingua server instances. Every instance subscribed to a
// conversation subject receives messages published to it, so chat delivery
// works regardless of which instance holds a participant's socket.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectConversation = "conversation" // + .<connection_id>
	SubjectPresence     = "presence.changed"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "lingua",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishConversation publishes data to the conversation.<connectionID>
// subject. Every instance with a subscriber for that connection receives it.
func (c *NATSClient) PublishConversation(connectionID string, data []byte) error {
	return c.Publish(SubjectConversation+"."+connectionID, data)
}

// SubscribeToConversation subscribes a live socket handle to the
// conversation.<connectionID> subject. The subscription is keyed by handleID
// so multiple sockets on the same instance can follow the same conversation
// without overwriting each other.
func (c *NATSClient) SubscribeToConversation(connectionID, handleID string, handler func(data []byte)) error {
	subject := SubjectConversation + "." + connectionID
	key := convKey(handleID, connectionID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromConversation removes one handle's subscription to a
// conversation. Missing subscriptions are not an error; disconnect cleanup
// calls this without knowing what the client subscribed to.
func (c *NATSClient) UnsubscribeFromConversation(connectionID, handleID string) error {
	return c.unsubscribe(convKey(handleID, connectionID))
}

// UnsubscribeHandle drops every conversation subscription held by one
// socket handle. Called on disconnect.
func (c *NATSClient) UnsubscribeHandle(handleID string) {
	prefix := "conv:" + handleID + ":"

	c.mu.Lock()
	var doomed []string
	for key := range c.subs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			doomed = append(doomed, key)
		}
	}
	subs := make([]*nats.Subscription, 0, len(doomed))
	for _, key := range doomed {
		subs = append(subs, c.subs[key])
		delete(c.subs, key)
	}
	c.mu.Unlock()

	for i, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe %s: %v", doomed[i], err)
		}
	}
}

// PublishPresence publishes a presence snapshot to all instances.
func (c *NATSClient) PublishPresence(data []byte) error {
	return c.Publish(SubjectPresence, data)
}

// SubscribePresence subscribes to presence snapshots from all instances.
func (c *NATSClient) SubscribePresence(handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectPresence, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectPresence, err)
	}

	c.mu.Lock()
	c.subs[SubjectPresence] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes a tracked subscription by key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

func convKey(handleID, connectionID string) string {
	return "conv:" + handleID + ":" + connectionID
}
