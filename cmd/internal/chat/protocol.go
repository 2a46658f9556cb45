package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire protocol: one JSON object per websocket frame, discriminated by
// "type". Inbound frames come from the client; outbound events are what the
// server fans out to conversation members.
const (
	// Inbound frame kinds.
	FrameMessage = "message"
	FrameTyping  = "typing"
	FrameRead    = "read"

	// Outbound event kinds.
	EventMessage     = "message"
	EventTyping      = "typing"
	EventMessageRead = "message_read"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventError       = "error"
)

// Frame is one inbound protocol unit.
type Frame struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	MediaURL string `json:"media_url,omitempty"`
	// IsTyping defaults to true when absent, matching client behavior of
	// sending bare {"type":"typing"} when a keystroke happens.
	IsTyping  *bool  `json:"is_typing,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// DecodeFrame parses an inbound frame. Errors mean a malformed frame, which
// sessions ignore rather than terminate on.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameMessage, FrameTyping, FrameRead:
	case "":
		return Frame{}, errors.New("decode frame: missing type")
	default:
		return Frame{}, fmt.Errorf("decode frame: unknown type %q", f.Type)
	}
	return f, nil
}

// Typing returns the effective typing flag (absent means true).
func (f Frame) Typing() bool {
	if f.IsTyping == nil {
		return true
	}
	return *f.IsTyping
}

// MessageEvent echoes a persisted message to the whole conversation,
// including the sender's other live handles.
type MessageEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	MediaURL  string    `json:"media_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

// TypingEvent relays a typing indicator to the other participant.
type TypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadEvent announces that a message's read flag flipped.
type ReadEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// PresenceEvent announces a participant going online or offline. Synthesized
// from registry transitions, never stored.
type PresenceEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports an in-loop failure to the originating connection only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeMessageEvent(m Message) []byte {
	data, _ := json.Marshal(MessageEvent{
		Type:      EventMessage,
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Kind:      string(m.Kind),
		MediaURL:  m.MediaURL,
		Timestamp: m.CreatedAt,
		IsRead:    m.IsRead,
	})
	return data
}

func encodeTypingEvent(userID string, isTyping bool) []byte {
	data, _ := json.Marshal(TypingEvent{Type: EventTyping, UserID: userID, IsTyping: isTyping})
	return data
}

func encodeReadEvent(messageID string) []byte {
	data, _ := json.Marshal(ReadEvent{Type: EventMessageRead, MessageID: messageID})
	return data
}

func encodePresenceEvent(kind, userID string, at time.Time) []byte {
	data, _ := json.Marshal(PresenceEvent{Type: kind, UserID: userID, Timestamp: at})
	return data
}

func encodeErrorEvent(code, msg string) []byte {
	data, _ := json.Marshal(ErrorEvent{Type: EventError, Code: code, Message: msg})
	return data
}

// contentLength counts content in runes, the unit the protocol limit uses.
func contentLength(s string) int {
	return len([]rune(s))
}
