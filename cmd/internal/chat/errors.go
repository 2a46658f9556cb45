package chat

import "errors"

// Error taxonomy for the messaging core.
//
// Setup-time errors (authentication, unknown conversation, not a participant)
// are fatal to a connection attempt and surface as websocket close codes.
// In-loop errors are recovered locally by the session.
var (
	// ErrInvalidParticipants is returned when a conversation is requested
	// between a participant and themself.
	ErrInvalidParticipants = errors.New("chat: conversation requires two distinct participants")

	// ErrConversationNotFound is returned when a conversation id does not resolve.
	ErrConversationNotFound = errors.New("chat: conversation not found")

	// ErrMessageNotFound is returned when a message id does not resolve.
	ErrMessageNotFound = errors.New("chat: message not found")

	// ErrNotAParticipant is returned when a user is not a member of the
	// conversation they are trying to act on.
	ErrNotAParticipant = errors.New("chat: not a conversation participant")

	// ErrForbidden is returned when a sender tries to mark their own
	// message as read.
	ErrForbidden = errors.New("chat: sender cannot mark own message as read")
)
