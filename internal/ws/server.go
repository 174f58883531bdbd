// Package ws handles WebSocket connection management: upgrading and
// authenticating HTTP connections, maintaining active client handles, and
// dispatching incoming frames to the registered handlers. Each socket gets
// one dedicated read goroutine that processes its frames in arrival order.
package ws

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/tandem/lingua-app/internal/metrics"
	"github.com/tandem/lingua-app/internal/protocol"
)

// TokenVerifier authenticates a bearer token and returns the user id it
// belongs to.
type TokenVerifier interface {
	UserID(token string) (string, error)
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 100000,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP requests to WebSocket connections with gobwas/ws,
// authenticates them, and runs one read goroutine per socket. It does not
// own an HTTP listener; mount HandleUpgrade on the application mux.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	verifier     TokenVerifier
	onMessage    func(conn *Connection, data []byte) // frame handler callback
	onConnect    func(conn *Connection)              // called after the handle is live
	onDisconnect func(conn *Connection)              // called when a handle is removed
	done         chan struct{}
}

// NewServer creates a Server with the given configuration, token verifier,
// and message callback. The onMessage function is called from the socket's
// read goroutine for each complete text frame, so per-socket handling is
// strictly sequential.
func NewServer(config ServerConfig, verifier TokenVerifier, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		verifier:  verifier,
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked once a socket is upgraded,
// authenticated, and registered, right after the welcome frame is sent.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, or graceful close).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// HandleUpgrade authenticates and upgrades an HTTP request to a WebSocket
// connection. The token is taken from the "token" query parameter or a
// bearer Authorization header; requests that fail verification are rejected
// before the upgrade. On success a Connection is registered, a welcome frame
// with the new handle id is sent, and the read loop starts.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	userID, err := s.verifier.UserID(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	handleID := uuid.New().String()
	c := &Connection{
		ID:        handleID,
		UserID:    userID,
		Conn:      conn,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	welcome, err := protocol.NewServerMessage(protocol.TypeWelcome, protocol.WelcomeMsg{
		HandleID: handleID,
		UserID:   userID,
	})
	if err != nil {
		log.Printf("[ws] failed to build welcome for handle %s: %v", handleID, err)
	} else if err := c.WriteMessage(welcome); err != nil {
		log.Printf("[ws] failed to send welcome for handle %s: %v", handleID, err)
	}

	if s.onConnect != nil {
		s.onConnect(c)
	}

	log.Printf("[ws] new connection handle=%s user=%s (total=%d)", handleID, userID, s.conns.Count())

	go s.readLoop(c)
}

// readLoop reads frames from one socket until it closes or errors. It uses
// wsutil.NextReader so control frames (ping, pong, close) are handled
// without blocking on a data frame that may never arrive. Application frames
// are handed to onMessage inline, which keeps each socket's events in
// arrival order.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		// Any frame proves the connection is alive.
		c.LastPing = time.Now()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.OpCode == ws.OpPing {
				if err := s.writePong(c, header, reader); err != nil {
					return
				}
				continue
			}
			// Pong: nothing else to do, but the body must be drained.
			if _, err := io.Copy(io.Discard, reader); err != nil {
				return
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// writePong answers a protocol-level ping with a pong echoing its payload.
func (s *Server) writePong(c *Connection, header ws.Header, reader io.Reader) error {
	payload := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, payload); err != nil {
			return err
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
}

// RemoveConnection removes a connection from the manager and closes the
// underlying network connection. It is exported so that the heartbeat
// monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when the read loop and the heartbeat
	// race to remove the same connection.
	if !s.conns.Remove(c.ID) {
		return
	}

	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("[ws] connection closed handle=%s user=%s (total=%d)", c.ID, c.UserID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// handleID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendMessage(handleID string, data []byte) error {
	c := s.conns.Get(handleID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", handleID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear write deadline so it doesn't affect future writes (e.g., heartbeat pings).
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections returns the ConnectionManager for external access to
// connection state (e.g., by the heartbeat or presence fanout).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown signals the read loops and heartbeat to exit and closes all
// active connections. Each closing socket triggers its normal disconnect
// cleanup through RemoveConnection.
func (s *Server) Shutdown() {
	log.Println("[ws] shutting down...")

	close(s.done)

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	log.Printf("[ws] all connections closed")
}

// bearerToken extracts the auth token from the request: the "token" query
// parameter (browsers cannot set headers on WebSocket upgrades), falling
// back to a bearer Authorization header.
func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
