package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tandem/lingua-app/internal/apperr"
	"github.com/tandem/lingua-app/internal/auth"
	"github.com/tandem/lingua-app/internal/config"
	"github.com/tandem/lingua-app/internal/connection"
	"github.com/tandem/lingua-app/internal/httpapi"
	"github.com/tandem/lingua-app/internal/match"
	"github.com/tandem/lingua-app/internal/message"
	"github.com/tandem/lingua-app/internal/messaging"
	"github.com/tandem/lingua-app/internal/metrics"
	"github.com/tandem/lingua-app/internal/presence"
	"github.com/tandem/lingua-app/internal/protocol"
	"github.com/tandem/lingua-app/internal/relay"
	"github.com/tandem/lingua-app/internal/stats"
	"github.com/tandem/lingua-app/internal/store"
	"github.com/tandem/lingua-app/internal/translate"
	"github.com/tandem/lingua-app/internal/user"
	"github.com/tandem/lingua-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// --- PostgreSQL ---
	db, err := store.Open(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Stores and services ---
	userStore := user.NewStore(db)
	connStore := connection.NewPostgresStore(db)
	msgStore := message.NewStore(db)
	statsStore := stats.NewStore(rdb)

	lifecycle := connection.NewService(connStore)
	finder := match.NewFinder(userStore, connStore)
	translator := translate.NewHTTPTranslator(cfg.TranslatorURL, cfg.TranslatorTimeout)
	relayer := relay.New(connStore, msgStore, statsStore, natsClient, translator)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	log.Printf("lingua server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  postgres_url:    %s", cfg.PostgresURL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  translator_url:  %s", cfg.TranslatorURL)
	log.Printf("  max_connections: %d", cfg.MaxConnections)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// Presence changes fan out through NATS so every instance pushes the
	// snapshot to its local sockets, including the instance that produced it.
	registry := presence.NewRegistry(func(online []string) {
		metrics.OnlineUsers.Set(float64(len(online)))
		data, err := json.Marshal(protocol.PresenceSnapshotMsg{OnlineUserIDs: online})
		if err != nil {
			log.Printf("[presence] marshal snapshot: %v", err)
			return
		}
		if err := natsClient.PublishPresence(data); err != nil {
			log.Printf("[presence] publish snapshot: %v", err)
		}
	})

	// subscribeToConversation wires a socket handle into a connection's
	// fanout group. Chat messages go to every subscriber including the
	// sender; typing indicators are suppressed for their own author.
	subscribeToConversation := func(conn *ws.Connection, connectionID string) error {
		return natsClient.SubscribeToConversation(connectionID, conn.ID, func(data []byte) {
			var event relay.Event
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[conv-sub] unmarshal event handle=%s: %v", conn.ID, err)
				return
			}

			switch event.Kind {
			case relay.EventMessage:
				resp, err := protocol.NewServerMessage(protocol.TypeMessageReceived, protocol.MessageReceivedMsg{
					Message: event.Message,
				})
				if err != nil {
					log.Printf("[conv-sub] build message event: %v", err)
					return
				}
				if err := server.SendMessage(conn.ID, resp); err != nil {
					log.Printf("[conv-sub] deliver message handle=%s: %v", conn.ID, err)
				}

			case relay.EventTyping:
				if event.From == conn.UserID {
					return // don't echo typing back to its author
				}
				resp, err := protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
					ConnectionID: connectionID,
					UserID:       event.From,
				})
				if err != nil {
					log.Printf("[conv-sub] build typing event: %v", err)
					return
				}
				if err := server.SendMessage(conn.ID, resp); err != nil {
					log.Printf("[conv-sub] deliver typing handle=%s: %v", conn.ID, err)
				}
			}
		})
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join — register presence for the authenticated user
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinMsg)
		if !ok {
			return
		}
		if joinMsg.UserID != "" && joinMsg.UserID != conn.UserID {
			dispatcher.SendError(conn, "identity_mismatch", "join user does not match socket identity")
			return
		}

		registry.Register(conn.UserID, conn.ID)
		log.Printf("join user=%s handle=%s", conn.UserID, conn.ID)
	})

	// -----------------------------------------------------------------------
	// subscribe — enter a connection's broadcast group
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSubscribe, func(conn *ws.Connection, msg interface{}) {
		subMsg, ok := msg.(protocol.SubscribeMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c, err := connStore.Get(ctx, subMsg.ConnectionID)
		if err != nil {
			dispatcher.SendAppError(conn, err)
			return
		}
		if c == nil {
			dispatcher.SendAppError(conn, apperr.NotFound("connection not found"))
			return
		}
		if !c.IsParticipant(conn.UserID) {
			dispatcher.SendAppError(conn, apperr.Forbidden("not a participant"))
			return
		}

		if err := subscribeToConversation(conn, subMsg.ConnectionID); err != nil {
			log.Printf("subscribe handle=%s connection=%s FAILED: %v", conn.ID, subMsg.ConnectionID, err)
			dispatcher.SendAppError(conn, apperr.Persistence("subscription failed", err))
			return
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeSubscribed, protocol.SubscribedMsg{
			ConnectionID: subMsg.ConnectionID,
		})
		if err := conn.WriteMessage(resp); err != nil {
			log.Printf("subscribe ack handle=%s: %v", conn.ID, err)
		}
		log.Printf("subscribe user=%s handle=%s connection=%s", conn.UserID, conn.ID, subMsg.ConnectionID)
	})

	// -----------------------------------------------------------------------
	// send — run the message pipeline; delivery happens via the NATS fanout
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSend, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := relayer.Send(ctx, relay.Inbound{
			SenderID:         conn.UserID,
			ConnectionID:     sendMsg.ConnectionID,
			Content:          sendMsg.Content,
			OriginalLanguage: sendMsg.OriginalLanguage,
			TargetLanguage:   sendMsg.TargetLanguage,
			Type:             sendMsg.MessageType,
		})
		if err != nil {
			dispatcher.SendAppError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// typing — relay the indicator to the connection's other subscribers
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := relayer.Typing(ctx, conn.UserID, typingMsg.ConnectionID); err != nil {
			dispatcher.SendAppError(conn, err)
		}
	})

	wsConfig := ws.ServerConfig{
		MaxConnections: cfg.MaxConnections,
		WriteTimeout:   cfg.WriteTimeout,
	}
	server = ws.NewServer(wsConfig, verifier, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Snapshots are consumed from NATS on every instance, including the one
	// that produced them, so there is a single delivery path to sockets.
	if err := natsClient.SubscribePresence(func(data []byte) {
		var snapshot protocol.PresenceSnapshotMsg
		if err := json.Unmarshal(data, &snapshot); err != nil {
			log.Printf("[presence] unmarshal snapshot: %v", err)
			return
		}
		msg, err := protocol.NewServerMessage(protocol.TypePresenceSnapshot, protocol.PresenceSnapshotMsg{
			OnlineUserIDs: snapshot.OnlineUserIDs,
		})
		if err != nil {
			log.Printf("[presence] build snapshot message: %v", err)
			return
		}
		server.Connections().Broadcast(msg)
	}); err != nil {
		log.Fatalf("failed to subscribe to presence updates: %v", err)
	}

	// Disconnect cleanup: drop the handle's conversation subscriptions and
	// unregister presence. The guard inside Unregister keeps a newer tab's
	// registration alive if this was a stale handle.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		natsClient.UnsubscribeHandle(conn.ID)
		registry.Unregister(conn.UserID, conn.ID)
	})

	ws.StartHeartbeat(server, ws.DefaultHeartbeatConfig())

	// --- HTTP surface ---
	api := httpapi.New(verifier, finder, lifecycle, connStore, msgStore)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/ws", server.HandleUpgrade)
	mux.Handle("/metrics", metrics.Handler())

	startedAt := time.Now()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := struct {
			Status      string `json:"status"`
			Connections int    `json:"connections"`
			Online      int    `json:"online"`
			Uptime      string `json:"uptime"`
		}{
			Status:      "ok",
			Connections: server.Connections().Count(),
			Online:      registry.Count(),
			Uptime:      time.Since(startedAt).Round(time.Second).String(),
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		server.Shutdown()
		natsClient.Close()
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
