package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryLogAppend(t *testing.T) {
	t.Parallel()

	l := NewInMemoryLog()
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m, err := l.Append(ctx, AppendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Content:        "hello",
		Now:            now,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(m.ID) != 26 {
		t.Fatalf("id = %q, want a ULID", m.ID)
	}
	if m.Kind != KindText {
		t.Fatalf("kind = %q, want text default", m.Kind)
	}
	if m.IsRead {
		t.Fatal("new message is_read = true")
	}
	if !m.CreatedAt.Equal(now) || !m.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps = %v/%v", m.CreatedAt, m.UpdatedAt)
	}

	media, err := l.Append(ctx, AppendInput{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Kind:           KindMedia,
		MediaURL:       "https://cdn/x.png",
	})
	if err != nil {
		t.Fatalf("Append media: %v", err)
	}
	if media.Kind != KindMedia || media.MediaURL == "" {
		t.Fatalf("media message = %+v", media)
	}

	if _, err := l.Append(ctx, AppendInput{SenderID: "alice"}); err == nil {
		t.Fatal("Append accepted a missing conversation id")
	}
}

func TestInMemoryLogMarkRead(t *testing.T) {
	t.Parallel()

	l := NewInMemoryLog()
	ctx := context.Background()

	m, err := l.Append(ctx, AppendInput{ConversationID: "conv-1", SenderID: "alice", Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := l.MarkRead(ctx, m.ID, "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("own-message err = %v, want ErrForbidden", err)
	}
	if _, err := l.MarkRead(ctx, "ghost", "bob"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("unknown err = %v, want ErrMessageNotFound", err)
	}

	read, err := l.MarkRead(ctx, m.ID, "bob")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !read.IsRead {
		t.Fatal("is_read = false after mark")
	}

	// Second mark is a no-op, not an error.
	again, err := l.MarkRead(ctx, m.ID, "bob")
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if !again.UpdatedAt.Equal(read.UpdatedAt) {
		t.Fatal("idempotent mark bumped updated_at")
	}

	got, err := l.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsRead {
		t.Fatal("Get does not reflect the read flag")
	}
}

func TestInMemoryLogGetUnknown(t *testing.T) {
	t.Parallel()

	l := NewInMemoryLog()
	if _, err := l.Get(context.Background(), "ghost"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestInMemoryLogListWindow(t *testing.T) {
	t.Parallel()

	l := NewInMemoryLog()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var appended []Message
	for i := 0; i < 5; i++ {
		m, err := l.Append(ctx, AppendInput{
			ConversationID: "conv-1",
			SenderID:       "alice",
			Content:        fmt.Sprintf("m%d", i),
			Now:            base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		appended = append(appended, m)
	}

	// Newest-first, full window.
	page, err := l.List(ctx, ListInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 5 || page[0].ID != appended[4].ID || page[4].ID != appended[0].ID {
		t.Fatalf("order wrong: first=%s last=%s", page[0].Content, page[4].Content)
	}

	// Limited window keeps the newest.
	page, err = l.List(ctx, ListInput{ConversationID: "conv-1", Limit: 2})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(page) != 2 || page[0].ID != appended[4].ID || page[1].ID != appended[3].ID {
		t.Fatalf("limited window wrong: %+v", page)
	}

	// Before excludes anything at or after the pivot.
	pivot := appended[3].CreatedAt
	page, err = l.List(ctx, ListInput{ConversationID: "conv-1", Before: &pivot})
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	if len(page) != 3 || page[0].ID != appended[2].ID {
		t.Fatalf("before window wrong: %+v", page)
	}

	// Unknown conversation yields an empty page.
	page, err = l.List(ctx, ListInput{ConversationID: "ghost"})
	if err != nil || len(page) != 0 {
		t.Fatalf("ghost list = %d, %v", len(page), err)
	}
}

func TestInMemoryLogUnreadCount(t *testing.T) {
	t.Parallel()

	l := NewInMemoryLog()
	ctx := context.Background()

	var first Message
	for i := 0; i < 3; i++ {
		m, err := l.Append(ctx, AppendInput{ConversationID: "conv-1", SenderID: "alice", Content: "x"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i == 0 {
			first = m
		}
	}

	n, err := l.UnreadCount(ctx, "conv-1", "bob")
	if err != nil || n != 3 {
		t.Fatalf("unread(bob) = %d, %v", n, err)
	}
	// The sender's own messages never count against them.
	n, err = l.UnreadCount(ctx, "conv-1", "alice")
	if err != nil || n != 0 {
		t.Fatalf("unread(alice) = %d, %v", n, err)
	}

	if _, err := l.MarkRead(ctx, first.ID, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	n, err = l.UnreadCount(ctx, "conv-1", "bob")
	if err != nil || n != 2 {
		t.Fatalf("unread after read = %d, %v", n, err)
	}
}

func TestInMemoryLogBoundsPerConversation(t *testing.T) {
	t.Parallel()

	l := NewInMemoryLog()
	ctx := context.Background()

	total := memMaxMessagesPerConversation + 10
	var firstID string
	for i := 0; i < total; i++ {
		m, err := l.Append(ctx, AppendInput{ConversationID: "conv-1", SenderID: "alice", Content: "x"})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if i == 0 {
			firstID = m.ID
		}
	}

	if got := len(l.convs["conv-1"]); got != memMaxMessagesPerConversation {
		t.Fatalf("retained = %d, want %d", got, memMaxMessagesPerConversation)
	}
	// The oldest overflowed messages are fully forgotten.
	if _, err := l.Get(ctx, firstID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("overflowed message still resolvable: %v", err)
	}
}
