package chat

import (
	"context"
	"time"
)

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Kind           MessageKind
	MediaURL       string

	// Now is the persistence timestamp; zero means time.Now().UTC().
	Now time.Time
}

// ListInput describes a history query. Results are newest-first.
type ListInput struct {
	ConversationID string

	// Before restricts results to messages created strictly before the
	// given instant. Nil means "from the latest".
	Before *time.Time
	Limit  int
}

// MessageLog is the durable, append-only store of chat messages.
//
// Implementations provide their own concurrency safety; the session treats
// the log as an opaque, safely concurrent collaborator. An append failure is
// fatal to the in-flight frame only, never to the connection.
type MessageLog interface {
	// Append persists a new message and returns it with id and timestamps
	// assigned.
	Append(ctx context.Context, in AppendInput) (Message, error)

	// Get resolves a message id. Returns ErrMessageNotFound.
	Get(ctx context.Context, messageID string) (Message, error)

	// MarkRead flips the read flag of a message. Returns ErrMessageNotFound
	// for unknown ids and ErrForbidden when readerID is the message sender.
	MarkRead(ctx context.Context, messageID, readerID string) (Message, error)

	// List returns a history window ordered newest-first.
	List(ctx context.Context, in ListInput) ([]Message, error)

	// UnreadCount counts messages in the conversation that were sent by the
	// other party and not yet read.
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)

	Close() error
}
