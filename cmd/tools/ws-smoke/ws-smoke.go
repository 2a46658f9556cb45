// Package main provides a CI-friendly smoke test for the mithas chat server.
//
// It validates:
//   - REST find-or-create of a two-party conversation
//   - websocket handshake with a bearer token in the query string
//   - presence fanout on connect
//   - message send -> durable echo to both participants
//   - typing indicator fanout excluding the sender
//   - read receipt fanout and REST unread-count convergence
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"mithas/cmd/internal/auth"
)

const maxReadBytes = 1 << 20 // 1MiB

type event map[string]any

func (e event) kind() string {
	s, _ := e["type"].(string)
	return s
}

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn

	inbox chan event
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		secret  = flag.String("secret", os.Getenv("MITHAS_JWT_SECRET"), "JWT signing secret (defaults to MITHAS_JWT_SECRET)")
		text    = flag.String("text", "hello mithas 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if len(*secret) < 32 {
		fatalf("-secret must be at least 32 bytes (set MITHAS_JWT_SECRET)")
	}

	root := context.Background()

	a := newSmokeClient("A", *secret)
	b := newSmokeClient("B", *secret)

	convID := mustOpenConversation(root, *baseURL, a, b.userID, *timeout)
	if *verbose {
		fmt.Printf("conversation: %s (A=%s B=%s)\n", convID, a.userID, b.userID)
	}

	mustConnect(root, a, *baseURL, convID, *origin, *timeout)
	defer closeWS(a.conn)

	mustConnect(root, b, *baseURL, convID, *origin, *timeout)
	defer closeWS(b.conn)

	// A sees B come online.
	online := a.mustReadUntilType(root, "user_online", *timeout)
	if got, _ := online["user_id"].(string); got != b.userID {
		fatalf("user_online mismatch: got=%q want=%q", got, b.userID)
	}

	// Message fanout includes the sender.
	mustWriteJSON(root, a.conn, event{"type": "message", "content": *text}, *timeout)

	msgAtB := b.mustReadUntilType(root, "message", *timeout)
	msgAtA := a.mustReadUntilType(root, "message", *timeout)
	messageID, _ := msgAtB["id"].(string)
	if messageID == "" {
		fatalf("message event missing id")
	}
	if got, _ := msgAtB["content"].(string); got != *text {
		fatalf("message content mismatch at B: got=%q want=%q", got, *text)
	}
	if gotID, _ := msgAtA["id"].(string); gotID != messageID {
		fatalf("sender echo id mismatch: got=%q want=%q", gotID, messageID)
	}

	// Typing indicator reaches only the peer.
	mustWriteJSON(root, b.conn, event{"type": "typing"}, *timeout)
	typing := a.mustReadUntilType(root, "typing", *timeout)
	if got, _ := typing["user_id"].(string); got != b.userID {
		fatalf("typing user mismatch: got=%q want=%q", got, b.userID)
	}
	b.mustAssertNoType(root, "typing", 1200*time.Millisecond)

	// Read receipt fanout, both directions.
	mustWriteJSON(root, b.conn, event{"type": "read", "message_id": messageID}, *timeout)
	for _, c := range []*smokeClient{a, b} {
		r := c.mustReadUntilType(root, "message_read", *timeout)
		if got, _ := r["message_id"].(string); got != messageID {
			fatalf("receipt mismatch (%s): got=%q want=%q", c.name, got, messageID)
		}
	}

	// REST agrees the message is read.
	if n := mustUnreadCount(root, *baseURL, b, convID, *timeout); n != 0 {
		fatalf("unread count after receipt: got=%d want=0", n)
	}

	fmt.Printf("OK: conv_id=%s message_id=%s A=%s B=%s\n", convID, messageID, a.userID, b.userID)
}

func newSmokeClient(name, secret string) *smokeClient {
	userID := uuid.NewString()
	token, err := auth.SignTestToken([]byte(secret), userID, time.Now().Add(time.Hour))
	if err != nil {
		fatalf("sign token (%s): %v", name, err)
	}
	return &smokeClient{
		name:   name,
		userID: userID,
		token:  token,
		inbox:  make(chan event, 512),
		errCh:  make(chan error, 1),
	}
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsBase(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

func mustOpenConversation(parent context.Context, base string, c *smokeClient, peerID string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/chat/conversations/"+peerID, nil)
	if err != nil {
		fatalf("build open request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("open conversation: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fatalf("open conversation: status=%d body=%s", resp.StatusCode, body)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode conversation: %v", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		fatalf("conversation response missing id")
	}
	return out.ID
}

func mustUnreadCount(parent context.Context, base string, c *smokeClient, convID string, stepTimeout time.Duration) int64 {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/chat/conversations/"+convID+"/unread-count", nil)
	if err != nil {
		fatalf("build unread request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("unread count: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("unread count: status=%d", resp.StatusCode)
	}

	var out struct {
		UnreadCount int64 `json:"unread_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode unread count: %v", err)
	}
	return out.UnreadCount
}

func mustConnect(parent context.Context, c *smokeClient, base, convID, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	wsURL := wsBase(base) + "/ws/chat/" + convID + "?token=" + url.QueryEscape(c.token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.startReadLoop()
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var e event
			if err := json.Unmarshal(data, &e); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- e:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case e, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if e.kind() == "error" {
				fatalf("server error (%s): code=%v msg=%v", c.name, e["code"], e["message"])
			}
			if e.kind() == wantType {
				return e
			}
			// Presence and other interleaved events are skipped.
		}
	}
}

func (c *smokeClient) mustAssertNoType(parent context.Context, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case e, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if e.kind() == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func mustWriteJSON(parent context.Context, conn *websocket.Conn, e event, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(e)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
