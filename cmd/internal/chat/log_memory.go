package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"mithas/cmd/internal/ids"
)

const memMaxMessagesPerConversation = 10_000

// InMemoryLog is a dev/test MessageLog. It keeps per-conversation slices
// ordered by creation time and bounds memory to avoid unbounded growth in
// long dev sessions.
type InMemoryLog struct {
	mu    sync.Mutex
	byID  map[string]*Message
	convs map[string][]*Message
}

// NewInMemoryLog constructs an empty in-memory message log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		byID:  make(map[string]*Message),
		convs: make(map[string][]*Message),
	}
}

// Close closes the log (noop for in-memory).
func (l *InMemoryLog) Close() error { return nil }

// Append persists a new message.
func (l *InMemoryLog) Append(ctx context.Context, in AppendInput) (Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, errors.New("chat: invalid append input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	kind := in.Kind
	if kind == "" {
		kind = KindText
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m := &Message{
		ID:             ids.MustULID(now),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Kind:           kind,
		MediaURL:       in.MediaURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	l.byID[m.ID] = m

	msgs := append(l.convs[in.ConversationID], m)
	if len(msgs) > memMaxMessagesPerConversation {
		drop := msgs[:len(msgs)-memMaxMessagesPerConversation]
		for _, old := range drop {
			delete(l.byID, old.ID)
		}
		msgs = msgs[len(drop):]
	}
	l.convs[in.ConversationID] = msgs

	return *m, nil
}

// Get resolves a message id.
func (l *InMemoryLog) Get(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return *m, nil
}

// MarkRead flips the read flag; the sender may not read their own message.
func (l *InMemoryLog) MarkRead(ctx context.Context, messageID, readerID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	if m.SenderID == readerID {
		return Message{}, ErrForbidden
	}

	if !m.IsRead {
		m.IsRead = true
		m.UpdatedAt = time.Now().UTC()
	}
	return *m, nil
}

// List returns a newest-first history window.
func (l *InMemoryLog) List(ctx context.Context, in ListInput) ([]Message, error) {
	if in.ConversationID == "" {
		return nil, errors.New("chat: missing conversation id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Slices are append-ordered, so walking backwards yields newest-first
	// even when adjacent messages share a timestamp.
	msgs := l.convs[in.ConversationID]
	snap := make([]Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(snap) < limit; i-- {
		m := msgs[i]
		if in.Before != nil && !m.CreatedAt.Before(*in.Before) {
			continue
		}
		snap = append(snap, *m)
	}
	return snap, nil
}

// UnreadCount counts unread messages sent by the other party.
func (l *InMemoryLog) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for _, m := range l.convs[conversationID] {
		if !m.IsRead && m.SenderID != userID {
			n++
		}
	}
	return n, nil
}
