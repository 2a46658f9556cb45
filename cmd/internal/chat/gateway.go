package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Connection setup rejection codes. Each closes the connection with a
// distinct status before the session is admitted.
const (
	StatusUnauthenticated     websocket.StatusCode = 4001
	StatusNotAParticipant     websocket.StatusCode = 4003
	StatusUnknownConversation websocket.StatusCode = 4004
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed, which is
	// secure-by-default for dev.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// CredentialVerifier turns a bearer credential into a verified user id.
// Authentication itself lives outside this core; the session only consumes
// the resulting identity.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string, now time.Time) (userID string, err error)
}

// Gateway is the websocket entrypoint for conversation sessions.
//
// One session serves exactly one conversation for one authenticated
// participant. The session decodes inbound frames sequentially, persists
// state changes through the MessageLog and ConversationDirectory, and fans
// resulting events out through the Registry. Lifecycle:
//
//	Connecting -> Admitted -> Closed
//
// Setup failures (bad credential, unknown conversation, non-participant)
// close the connection with a distinct code and never reach Admitted.
// In-loop failures are recovered locally and never tear the session down.
type Gateway struct {
	log       *slog.Logger
	registry  *Registry
	presence  *PresenceTracker
	directory ConversationDirectory
	messages  MessageLog
	verifier  CredentialVerifier
	metrics   *Metrics

	originRequired bool
	allowedOrigins []string
	originPatterns []string
	devInsecure    bool

	writeTimeout  time.Duration
	sendQueueSize int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults. metrics may be nil.
func NewGateway(
	log *slog.Logger,
	registry *Registry,
	presence *PresenceTracker,
	directory ConversationDirectory,
	messages MessageLog,
	verifier CredentialVerifier,
	metrics *Metrics,
) *Gateway {
	if log == nil {
		log = slog.Default()
	}

	g := &Gateway{
		log:       log,
		registry:  registry,
		presence:  presence,
		directory: directory,
		messages:  messages,
		verifier:  verifier,
		metrics:   metrics,
	}

	g.devInsecure = envBoolWS("MITHAS_WS_DEV_INSECURE", false)
	g.originRequired = envBoolWS("MITHAS_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("MITHAS_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = originPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("MITHAS_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)

	g.sendQueueSize = envIntWS("MITHAS_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("MITHAS_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("MITHAS_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("MITHAS_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("MITHAS_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Register mounts the gateway route onto mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/chat/{conversation_id}", g.HandleWS)
}

// HandleWS upgrades the request and runs the session for one conversation.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conversationID := strings.TrimSpace(r.PathValue("conversation_id"))
	token := bearerCredential(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
		// Dev-only escape hatch for TLS verification, not an origin policy.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	now := time.Now().UTC()

	// Connecting: authenticate, resolve the conversation, confirm
	// membership. Each failure has its own close code.
	userID, err := g.verifier.Verify(ctx, token, now)
	if err != nil {
		g.log.Info("ws.reject.credential", "conversation_id", conversationID, "err", err)
		_ = conn.Close(StatusUnauthenticated, "unauthenticated")
		return
	}

	conv, err := g.directory.Get(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		g.log.Info("ws.reject.conversation", "conversation_id", conversationID, "user_id", userID)
		_ = conn.Close(StatusUnknownConversation, "unknown conversation")
		return
	}
	if err != nil {
		g.log.Error("ws.setup.directory_fail", "conversation_id", conversationID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "directory unavailable")
		return
	}
	if !conv.HasParticipant(userID) {
		g.log.Info("ws.reject.membership", "conversation_id", conversationID, "user_id", userID)
		_ = conn.Close(StatusNotAParticipant, "not a participant")
		return
	}

	// Admitted: register the handle, retire any prior one for this
	// participant, and announce presence.
	client := NewClient(userID, g.sendQueueSize)
	if replaced := g.registry.Admit(conversationID, userID, client); replaced != nil {
		replaced.Close()
	}

	var closeOnce sync.Once

	// shutdown is idempotent. Evict is handle-matched, so a session whose
	// handle was already replaced or already evicted on delivery failure
	// does not announce a spurious offline.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if g.registry.Evict(conversationID, userID, client) {
				g.presence.OnEvict(conversationID, userID)
			}
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// The handle was retired externally: displaced by a newer
				// connection for the same participant, or evicted after a
				// delivery failure. Tear the whole session down.
				shutdown(websocket.StatusNormalClosure, "superseded")
				return
			case event := <-client.Send:
				if err := g.writeEvent(ctx, conn, event); err != nil {
					g.log.Info("ws.write.fail",
						"conversation_id", conversationID,
						"user_id", userID,
						"close_status", websocket.CloseStatus(err),
						"err", err,
					)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "user_id", userID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.presence.OnAdmit(conversationID, userID)

	limiter := newFrameLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "user_id", userID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if ok, retryAfter := limiter.admit(now); !ok {
			g.metrics.FrameRejected("rate_limited")
			g.log.Info("ws.rate_limit.close",
				"conversation_id", conversationID,
				"user_id", userID,
				"retry_after", retryAfter,
			)
			g.trySendError(client, "rate_limited", "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			// Permissive parsing: one bad frame never ends the session.
			g.metrics.FrameRejected("malformed")
			g.log.Debug("ws.frame.malformed", "user_id", userID, "err", err)
			continue readLoop
		}

		switch frame.Type {
		case FrameMessage:
			g.onMessage(ctx, conversationID, userID, frame, now, client)
		case FrameTyping:
			g.registry.Broadcast(conversationID, encodeTypingEvent(userID, frame.Typing()), userID)
		case FrameRead:
			g.onRead(ctx, conversationID, userID, frame, client)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// onMessage persists the message, bumps conversation activity, and echoes
// the stored message to the whole conversation (sender included, so other
// devices of the sender converge).
func (g *Gateway) onMessage(ctx context.Context, conversationID, userID string, frame Frame, now time.Time, client *Client) {
	if contentLength(frame.Content) > maxContentChars {
		g.metrics.FrameRejected("too_long")
		g.trySendError(client, "message_too_long", "content exceeds limit")
		return
	}

	kind := KindText
	if frame.MediaURL != "" {
		kind = KindMedia
	}

	msg, err := g.messages.Append(ctx, AppendInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        frame.Content,
		Kind:           kind,
		MediaURL:       frame.MediaURL,
		Now:            now,
	})
	if err != nil {
		// Fatal for this frame only: no broadcast, session stays up.
		g.metrics.FrameRejected("persist_failed")
		g.log.Error("ws.message.persist_fail", "conversation_id", conversationID, "user_id", userID, "err", err)
		g.trySendError(client, "persist_failed", "message not stored")
		return
	}
	g.metrics.MessageAppended()

	if err := g.directory.TouchLastMessage(ctx, conversationID, msg.CreatedAt); err != nil {
		g.log.Warn("ws.message.touch_fail", "conversation_id", conversationID, "err", err)
	}

	g.registry.Broadcast(conversationID, encodeMessageEvent(msg), "")
}

// onRead flips a message's read flag and broadcasts the receipt to the whole
// conversation. Forbidden and unknown ids are ignored; the session survives.
func (g *Gateway) onRead(ctx context.Context, conversationID, userID string, frame Frame, client *Client) {
	messageID := strings.TrimSpace(frame.MessageID)
	if messageID == "" {
		g.metrics.FrameRejected("malformed")
		return
	}

	// Scope check first: a session may only mark messages of its own
	// conversation.
	msg, err := g.messages.Get(ctx, messageID)
	if errors.Is(err, ErrMessageNotFound) || (err == nil && msg.ConversationID != conversationID) {
		g.metrics.FrameRejected("read_unknown")
		g.log.Debug("ws.read.unknown_message", "conversation_id", conversationID, "message_id", messageID)
		return
	}
	if err != nil {
		g.metrics.FrameRejected("persist_failed")
		g.trySendError(client, "persist_failed", "read not stored")
		return
	}

	if _, err := g.messages.MarkRead(ctx, messageID, userID); err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			g.metrics.FrameRejected("read_forbidden")
			g.log.Debug("ws.read.own_message", "conversation_id", conversationID, "user_id", userID, "message_id", messageID)
		case errors.Is(err, ErrMessageNotFound):
			g.metrics.FrameRejected("read_unknown")
		default:
			g.metrics.FrameRejected("persist_failed")
			g.trySendError(client, "persist_failed", "read not stored")
		}
		return
	}

	g.registry.Broadcast(conversationID, encodeReadEvent(messageID), "")
}

// ---- send helpers ----

func (g *Gateway) trySendError(client *Client, code, msg string) {
	if !client.enqueue(encodeErrorEvent(code, msg)) {
		g.log.Debug("ws.error_frame.drop", "code", code)
	}
}

func (g *Gateway) writeEvent(parent context.Context, conn *websocket.Conn, event []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, event)
}

// ---- credential extraction ----

// bearerCredential reads the token from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query param.
func bearerCredential(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (empty allowlist)")
	}

	host := originHost(origin)
	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*":
			// Strongly discouraged, honored only when configured explicitly.
			return nil
		case a == origin:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return errors.New("origin not allowed: " + origin)
}

// originHost extracts the lowercased host (without port) from an origin
// value in URL or host[:port] form.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist
// so both origin layers agree.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
