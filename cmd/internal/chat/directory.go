package chat

import (
	"context"
	"time"
)

// ConversationDirectory is the durable mapping from an unordered participant
// pair to a conversation.
//
// Requirements:
//   - At most one conversation per unordered pair, enforced by the
//     implementation (uniqueness constraint or equivalent), including under
//     concurrent FindOrCreate calls for the same pair.
//   - FindOrCreate(A, B) == FindOrCreate(B, A).
//   - Self-conversations are rejected with ErrInvalidParticipants.
type ConversationDirectory interface {
	// FindOrCreate returns the conversation for the unordered pair,
	// creating it on first contact.
	FindOrCreate(ctx context.Context, participantA, participantB string) (Conversation, error)

	// Get resolves a conversation id. Returns ErrConversationNotFound.
	Get(ctx context.Context, conversationID string) (Conversation, error)

	// IsParticipant reports whether userID is a member of the conversation.
	// Unknown conversations report false without error.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// TouchLastMessage bumps the conversation's last-activity timestamp.
	TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error

	// ListByParticipant returns all conversations the user belongs to,
	// most recent activity first.
	ListByParticipant(ctx context.Context, userID string) ([]Conversation, error)
}
