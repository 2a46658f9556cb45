package chatapi

import (
	"time"

	"mithas/cmd/internal/chat"
)

// conversationView is one row of the caller's conversation list, shaped
// relative to the caller: the peer is the other participant.
type conversationView struct {
	ID            string     `json:"id"`
	PeerID        string     `json:"peer_id"`
	PeerOnline    bool       `json:"peer_online"`
	UnreadCount   int64      `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

type conversationListResponse struct {
	Conversations []conversationView `json:"conversations"`
}

type messageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	MediaURL       string    `json:"media_url,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

type messageListResponse struct {
	Messages []messageView `json:"messages"`
}

type unreadCountResponse struct {
	UnreadCount int64 `json:"unread_count"`
}

func toMessageView(m chat.Message) messageView {
	return messageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Kind:           string(m.Kind),
		MediaURL:       m.MediaURL,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}
