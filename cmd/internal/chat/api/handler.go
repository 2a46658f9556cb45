// Package chatapi is the REST companion to the websocket gateway: listing
// conversations, opening one with another user, paging message history, and
// marking messages read without holding a live connection.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mithas/cmd/internal/chat"
)

// Handler serves the chat REST endpoints. All routes require a bearer
// credential; identity comes from the same verifier the gateway uses.
type Handler struct {
	log       *slog.Logger
	verifier  chat.CredentialVerifier
	directory chat.ConversationDirectory
	messages  chat.MessageLog
	registry  *chat.Registry
}

// NewHandler constructs the chat REST handler. registry may be nil, in which
// case peer_online always reports false.
func NewHandler(
	log *slog.Logger,
	verifier chat.CredentialVerifier,
	directory chat.ConversationDirectory,
	messages chat.MessageLog,
	registry *chat.Registry,
) (*Handler, error) {
	if verifier == nil || directory == nil || messages == nil {
		return nil, errors.New("chatapi: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:       log,
		verifier:  verifier,
		directory: directory,
		messages:  messages,
		registry:  registry,
	}, nil
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/chat/conversations", h.handleListConversations)
	mux.HandleFunc("POST /api/chat/conversations/{user_id}", h.handleOpenConversation)
	mux.HandleFunc("GET /api/chat/conversations/{conversation_id}/messages", h.handleListMessages)
	mux.HandleFunc("GET /api/chat/conversations/{conversation_id}/unread-count", h.handleUnreadCount)
	mux.HandleFunc("PUT /api/chat/messages/{message_id}/read", h.handleMarkRead)
}

// caller authenticates the request and returns the user id, or writes a 401
// and returns false.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	token := ""
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		token = strings.TrimSpace(raw[len("bearer "):])
	}
	userID, err := h.verifier.Verify(r.Context(), token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credential")
		return "", false
	}
	return userID, true
}

// peerOnline is a point-in-time snapshot from the live registry.
func (h *Handler) peerOnline(conversationID, peerID string) bool {
	if h.registry == nil {
		return false
	}
	return h.registry.IsOnline(conversationID, peerID)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	convs, err := h.directory.ListByParticipant(r.Context(), userID)
	if err != nil {
		h.log.Error("chatapi.list.fail", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "conversation list unavailable")
		return
	}

	out := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		peer := c.Peer(userID)
		unread, err := h.messages.UnreadCount(r.Context(), c.ID, userID)
		if err != nil {
			h.log.Warn("chatapi.list.unread_fail", "conversation_id", c.ID, "err", err)
		}
		out = append(out, conversationView{
			ID:            c.ID,
			PeerID:        peer,
			PeerOnline:    h.peerOnline(c.ID, peer),
			UnreadCount:   unread,
			LastMessageAt: c.LastMessageAt,
			CreatedAt:     c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, conversationListResponse{Conversations: out})
}

func (h *Handler) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	peerID := strings.TrimSpace(r.PathValue("user_id"))

	conv, err := h.directory.FindOrCreate(r.Context(), userID, peerID)
	if errors.Is(err, chat.ErrInvalidParticipants) {
		writeError(w, http.StatusBadRequest, "invalid_participant", "cannot open a conversation with yourself or a blank user")
		return
	}
	if err != nil {
		h.log.Error("chatapi.open.fail", "user_id", userID, "peer_id", peerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "conversation unavailable")
		return
	}

	peer := conv.Peer(userID)
	unread, err := h.messages.UnreadCount(r.Context(), conv.ID, userID)
	if err != nil {
		h.log.Warn("chatapi.open.unread_fail", "conversation_id", conv.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, conversationView{
		ID:            conv.ID,
		PeerID:        peer,
		PeerOnline:    h.peerOnline(conv.ID, peer),
		UnreadCount:   unread,
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
	})
}

// resolveMember loads the conversation and confirms the caller belongs to
// it, writing the appropriate error otherwise.
func (h *Handler) resolveMember(w http.ResponseWriter, r *http.Request, userID string) (chat.Conversation, bool) {
	conversationID := strings.TrimSpace(r.PathValue("conversation_id"))

	conv, err := h.directory.Get(r.Context(), conversationID)
	if errors.Is(err, chat.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation_not_found", "unknown conversation")
		return chat.Conversation{}, false
	}
	if err != nil {
		h.log.Error("chatapi.resolve.fail", "conversation_id", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "conversation unavailable")
		return chat.Conversation{}, false
	}
	if !conv.HasParticipant(userID) {
		writeError(w, http.StatusForbidden, "not_a_participant", "not a participant of this conversation")
		return chat.Conversation{}, false
	}
	return conv, true
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	conv, ok := h.resolveMember(w, r, userID)
	if !ok {
		return
	}

	in := chat.ListInput{ConversationID: conv.ID}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		in.Limit = n
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_before", "before must be an RFC 3339 timestamp")
			return
		}
		in.Before = &t
	}

	msgs, err := h.messages.List(r.Context(), in)
	if err != nil {
		h.log.Error("chatapi.messages.fail", "conversation_id", conv.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "history unavailable")
		return
	}

	// The log serves the page newest-first; clients render oldest-first.
	out := make([]messageView, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, toMessageView(msgs[i]))
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: out})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	conv, ok := h.resolveMember(w, r, userID)
	if !ok {
		return
	}

	n, err := h.messages.UnreadCount(r.Context(), conv.ID, userID)
	if err != nil {
		h.log.Error("chatapi.unread.fail", "conversation_id", conv.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "unread count unavailable")
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{UnreadCount: n})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	messageID := strings.TrimSpace(r.PathValue("message_id"))

	msg, err := h.messages.Get(r.Context(), messageID)
	if errors.Is(err, chat.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "message_not_found", "unknown message")
		return
	}
	if err != nil {
		h.log.Error("chatapi.read.get_fail", "message_id", messageID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "message unavailable")
		return
	}

	member, err := h.directory.IsParticipant(r.Context(), msg.ConversationID, userID)
	if err != nil {
		h.log.Error("chatapi.read.member_fail", "conversation_id", msg.ConversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "conversation unavailable")
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "not_a_participant", "not a participant of this conversation")
		return
	}

	updated, err := h.messages.MarkRead(r.Context(), messageID, userID)
	switch {
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "own_message", "cannot mark your own message as read")
		return
	case errors.Is(err, chat.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message_not_found", "unknown message")
		return
	case err != nil:
		h.log.Error("chatapi.read.fail", "message_id", messageID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "read not stored")
		return
	}

	writeJSON(w, http.StatusOK, toMessageView(updated))
}
