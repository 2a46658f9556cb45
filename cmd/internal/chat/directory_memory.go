package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryDirectory is a dev/test ConversationDirectory.
// It mirrors the durable implementation's guarantees: canonical pair keys
// and at-most-one conversation per pair under concurrency.
type InMemoryDirectory struct {
	mu     sync.Mutex
	byPair map[[2]string]*Conversation
	byID   map[string]*Conversation
}

// NewInMemoryDirectory constructs an empty in-memory directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		byPair: make(map[[2]string]*Conversation),
		byID:   make(map[string]*Conversation),
	}
}

// FindOrCreate returns the conversation for the unordered pair, creating it
// on first contact.
func (d *InMemoryDirectory) FindOrCreate(ctx context.Context, participantA, participantB string) (Conversation, error) {
	lo, hi, err := CanonicalPair(participantA, participantB)
	if err != nil {
		return Conversation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	key := [2]string{lo, hi}

	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.byPair[key]; ok {
		return *c, nil
	}

	c := &Conversation{
		ID:           uuid.NewString(),
		ParticipantA: lo,
		ParticipantB: hi,
		CreatedAt:    time.Now().UTC(),
	}
	d.byPair[key] = c
	d.byID[c.ID] = c
	return *c, nil
}

// Get resolves a conversation id.
func (d *InMemoryDirectory) Get(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.byID[conversationID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *c, nil
}

// IsParticipant reports membership; unknown conversations report false.
func (d *InMemoryDirectory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	c, err := d.Get(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.HasParticipant(userID), nil
}

// TouchLastMessage bumps the last-activity timestamp.
func (d *InMemoryDirectory) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.byID[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	at = at.UTC()
	if c.LastMessageAt == nil || c.LastMessageAt.Before(at) {
		c.LastMessageAt = &at
	}
	return nil
}

// ListByParticipant returns the user's conversations, most recent activity
// first; conversations with no messages sort by creation time.
func (d *InMemoryDirectory) ListByParticipant(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range d.byID {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	d.mu.Unlock()

	activity := func(c Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool { return activity(out[i]).After(activity(out[j])) })
	return out, nil
}
