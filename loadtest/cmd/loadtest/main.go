// Command loadtest drives the lingua server over its WebSocket protocol.
//
// Two modes:
//
//	connect — open N authenticated sockets, join presence, and hold them
//	          for a duration, reporting connect latency percentiles.
//	chat    — two users exchange messages over one accepted connection,
//	          reporting end-to-end delivery latency percentiles.
//
// Tokens are minted locally with the server's JWT secret, so the tool needs
// JWT_SECRET (or -secret) to match the target server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tandem/lingua-app/loadtest/client"
)

func main() {
	var (
		mode       = flag.String("mode", "connect", "connect | chat")
		wsURL      = flag.String("url", "ws://localhost:8080/ws", "WebSocket endpoint")
		secret     = flag.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
		clients    = flag.Int("clients", 100, "connect mode: number of sockets")
		duration   = flag.Duration("duration", 30*time.Second, "connect mode: hold time")
		connID     = flag.String("connection", "", "chat mode: accepted connection id")
		userA      = flag.String("user-a", "", "chat mode: sender user id")
		userB      = flag.String("user-b", "", "chat mode: receiver user id")
		messages   = flag.Int("messages", 100, "chat mode: messages to send")
		interval   = flag.Duration("interval", 50*time.Millisecond, "chat mode: send interval")
		targetLang = flag.String("target-lang", "en", "chat mode: translation target")
	)
	flag.Parse()

	if *secret == "" {
		log.Fatal("a JWT secret is required (-secret or JWT_SECRET)")
	}

	switch *mode {
	case "connect":
		runConnect(*wsURL, *secret, *clients, *duration)
	case "chat":
		if *connID == "" || *userA == "" || *userB == "" {
			log.Fatal("chat mode requires -connection, -user-a and -user-b")
		}
		runChat(*wsURL, *secret, *connID, *userA, *userB, *messages, *interval, *targetLang)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

// mintToken signs a short-lived HS256 token for the given user id.
func mintToken(secret, userID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token for %s: %v", userID, err)
	}
	return signed
}

// runConnect opens socket after socket, joins presence on each, and holds
// them all open for the configured duration.
func runConnect(wsURL, secret string, n int, hold time.Duration) {
	log.Printf("connect mode: %d clients against %s", n, wsURL)

	ctx := context.Background()
	conns := make([]*client.Client, 0, n)
	latencies := make([]time.Duration, 0, n)
	failures := 0

	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("loadtest-%04d", i)
		c, err := client.New(ctx, wsURL, mintToken(secret, userID))
		if err != nil {
			failures++
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = c.WaitForWelcome(waitCtx)
		cancel()
		if err != nil {
			failures++
			c.Close()
			continue
		}

		_ = c.Join()
		conns = append(conns, c)
		latencies = append(latencies, c.GetMetrics().ConnectLatency)
	}

	log.Printf("connected %d/%d sockets (%d failures), holding for %s",
		len(conns), n, failures, hold)
	report("connect latency", latencies)

	time.Sleep(hold)

	for _, c := range conns {
		c.Close()
	}
	log.Printf("done")
}

// runChat subscribes both participants to the connection, then has user A
// send timestamped messages. User B measures delivery latency by comparing
// arrival time against the send time carried in the message text.
func runChat(wsURL, secret, connID, userA, userB string, n int, interval time.Duration, targetLang string) {
	log.Printf("chat mode: %d messages on connection %s (%s -> %s)", n, connID, userA, userB)

	ctx := context.Background()

	sender, err := client.New(ctx, wsURL, mintToken(secret, userA))
	if err != nil {
		log.Fatalf("sender connect: %v", err)
	}
	defer sender.Close()

	receiver, err := client.New(ctx, wsURL, mintToken(secret, userB))
	if err != nil {
		log.Fatalf("receiver connect: %v", err)
	}
	defer receiver.Close()

	for _, c := range []*client.Client{sender, receiver} {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.WaitForWelcome(waitCtx)
		cancel()
		if err != nil {
			log.Fatalf("welcome: %v", err)
		}
		_ = c.Join()
		if err := c.Subscribe(connID); err != nil {
			log.Fatalf("subscribe: %v", err)
		}
	}

	received := make(chan time.Duration, n)

	receiver.On(client.TypeMessageReceived, func(raw json.RawMessage) {
		var evt struct {
			Message struct {
				SenderID     string `json:"sender_id"`
				OriginalText string `json:"original_text"`
			} `json:"message"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		if evt.Message.SenderID != userA {
			return
		}
		sentNanos, err := strconv.ParseInt(evt.Message.OriginalText, 10, 64)
		if err != nil {
			return
		}
		received <- time.Since(time.Unix(0, sentNanos))
	})

	receiver.On(client.TypeError, func(raw json.RawMessage) {
		log.Printf("receiver error: %s", raw)
	})
	sender.On(client.TypeError, func(raw json.RawMessage) {
		log.Printf("sender error: %s", raw)
	})

	// Let the subscribe acks land before the first send.
	time.Sleep(200 * time.Millisecond)

	for i := 0; i < n; i++ {
		content := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := sender.SendChat(connID, content, "", targetLang); err != nil {
			log.Printf("send %d: %v", i, err)
		}
		time.Sleep(interval)
	}

	// Collect deliveries, allowing time for stragglers.
	latencies := make([]time.Duration, 0, n)
	deadline := time.After(10 * time.Second)
	for len(latencies) < n {
		select {
		case d := <-received:
			latencies = append(latencies, d)
		case <-deadline:
			log.Printf("timed out waiting for deliveries (%d/%d)", len(latencies), n)
			report("delivery latency", latencies)
			return
		}
	}

	report("delivery latency", latencies)
}

// report prints min/p50/p95/max for a set of latency samples.
func report(label string, samples []time.Duration) {
	if len(samples) == 0 {
		log.Printf("%s: no samples", label)
		return
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pct := func(p float64) time.Duration {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	log.Printf("%s: n=%d min=%s p50=%s p95=%s max=%s",
		label, len(sorted), sorted[0], pct(0.50), pct(0.95), sorted[len(sorted)-1])
}
