// Package chat implements the realtime conversational messaging core:
// the live connection registry, presence tracking, and the websocket
// session that multiplexes messages, typing indicators, and read receipts
// over one conversation-scoped connection, backed by a durable message log.
package chat

import (
	"strings"
	"time"
)

// Conversation is a two-party messaging channel. Participants are stored as
// a canonically ordered pair so (A,B) and (B,A) resolve to the same row.
type Conversation struct {
	ID string

	// ParticipantA sorts strictly below ParticipantB.
	ParticipantA string
	ParticipantB string

	// LastMessageAt is bumped on every persisted message and drives
	// conversation-list ordering. Nil until the first message.
	LastMessageAt *time.Time
	CreatedAt     time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Peer returns the other participant relative to userID, or "" when userID
// is not a participant.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// CanonicalPair orders two participant ids so the unordered pair has exactly
// one representation. It rejects self-conversations and blank ids.
func CanonicalPair(a, b string) (lo, hi string, err error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return "", "", ErrInvalidParticipants
	}
	if a < b {
		return a, b, nil
	}
	return b, a, nil
}

// MessageKind discriminates text messages from out-of-band media references.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media"
)

// Message is one persisted chat message. Immutable after creation except for
// the read flag, which transitions false to true exactly once; the only
// possible reader is the non-sender because conversations are two-party.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Kind           MessageKind
	MediaURL       string
	IsRead         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
