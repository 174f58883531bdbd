// Package client provides a reusable WebSocket load test client for the
// lingua server. It connects using gobwas/ws (the same library the server
// uses), authenticates with a bearer token, handles the welcome handshake,
// and tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin      = "join"
	TypeSubscribe = "subscribe"
	TypeSend      = "send"
	TypeTyping    = "typing"
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

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single simulated user connection to the lingua server.
// It manages the WebSocket lifecycle, dispatches incoming messages to
// registered handlers, and captures the welcome handshake automatically.
type Client struct {
	conn      net.Conn
	handleID  string
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New connects to the given WebSocket URL with the given bearer token. The
// connection is established immediately and a background goroutine begins
// reading messages; the welcome frame is consumed internally to record the
// assigned handle id.
func New(ctx context.Context, wsURL, token string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Join registers presence for the authenticated user.
func (c *Client) Join() error {
	return c.Send(map[string]string{"type": TypeJoin})
}

// Subscribe enters the broadcast group of one connection.
func (c *Client) Subscribe(connectionID string) error {
	return c.Send(map[string]string{
		"type":          TypeSubscribe,
		"connection_id": connectionID,
	})
}

// SendChat sends one chat message on a connection.
func (c *Client) SendChat(connectionID, content, originalLang, targetLang string) error {
	return c.Send(map[string]string{
		"type":              TypeSend,
		"connection_id":     connectionID,
		"content":           content,
		"original_language": originalLang,
		"target_language":   targetLang,
		"message_type":      "text",
	})
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding. Handlers
// are invoked from the read loop goroutine so they should not block for
// extended periods; registering a second handler for a type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// WaitForWelcome blocks until the server has assigned a handle id or the
// context is cancelled.
func (c *Client) WaitForWelcome(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed before welcome")
		case <-ticker.C:
			if c.handleID != "" {
				return nil
			}
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// HandleID returns the handle id assigned by the server, or an empty string
// if the welcome has not arrived yet.
func (c *Client) HandleID() string {
	return c.handleID
}

// UserID returns the authenticated user id echoed in the welcome frame.
func (c *Client) UserID() string {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and
// dispatches them to registered handlers. It runs until the connection is
// closed or an unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Capture the welcome handshake internally.
		if envelope.Type == TypeWelcome {
			var msg struct {
				HandleID string `json:"handle_id"`
				UserID   string `json:"user_id"`
			}
			if err := json.Unmarshal(data, &msg); err == nil {
				c.handleID = msg.HandleID
				c.userID = msg.UserID
			}
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
