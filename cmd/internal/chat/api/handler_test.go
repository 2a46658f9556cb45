package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mithas/cmd/internal/chat"
)

// staticVerifier resolves a fixed token->user table; anything else fails.
type staticVerifier map[string]string

func (v staticVerifier) Verify(_ context.Context, token string, _ time.Time) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

const (
	alice = "7a3c9d24-0000-4000-8000-000000000001"
	bob   = "7a3c9d24-0000-4000-8000-000000000002"
	carol = "7a3c9d24-0000-4000-8000-000000000003"
)

type fixture struct {
	directory *chat.InMemoryDirectory
	messages  *chat.InMemoryLog
	registry  *chat.Registry
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	directory := chat.NewInMemoryDirectory()
	messages := chat.NewInMemoryLog()
	registry := chat.NewRegistry(nil, nil)

	verifier := staticVerifier{
		"token-alice": alice,
		"token-bob":   bob,
		"token-carol": carol,
	}

	h, err := NewHandler(nil, verifier, directory, messages, registry)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{directory: directory, messages: messages, registry: registry, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestRoutesRequireCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/chat/conversations"},
		{http.MethodPost, "/api/chat/conversations/" + bob},
		{http.MethodGet, "/api/chat/conversations/some-id/messages"},
		{http.MethodGet, "/api/chat/conversations/some-id/unread-count"},
		{http.MethodPut, "/api/chat/messages/some-id/read"},
	}
	for _, p := range paths {
		resp := f.do(t, p.method, p.path, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, resp.StatusCode)
		}
	}
}

func TestOpenConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/chat/conversations/"+bob, "token-alice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	first := decodeBody[conversationView](t, resp)
	if first.PeerID != bob {
		t.Fatalf("peer_id = %q, want %q", first.PeerID, bob)
	}
	if first.ID == "" {
		t.Fatal("empty conversation id")
	}

	// Opening from the other side resolves to the same conversation.
	resp = f.do(t, http.MethodPost, "/api/chat/conversations/"+alice, "token-bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	second := decodeBody[conversationView](t, resp)
	if second.ID != first.ID {
		t.Fatalf("conversation id = %q, want %q", second.ID, first.ID)
	}
	if second.PeerID != alice {
		t.Fatalf("peer_id = %q, want %q", second.PeerID, alice)
	}
}

func TestOpenConversationWithSelf(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/chat/conversations/"+alice, "token-alice")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[errorResponse](t, resp)
	if body.Error.Code != "invalid_participant" {
		t.Fatalf("code = %q, want invalid_participant", body.Error.Code)
	}
}

func TestListConversationsOrderAndUnread(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	withBob, err := f.directory.FindOrCreate(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	withCarol, err := f.directory.FindOrCreate(ctx, alice, carol)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	// Carol's conversation has the most recent activity and one unread.
	msg, err := f.messages.Append(ctx, chat.AppendInput{
		ConversationID: withCarol.ID,
		SenderID:       carol,
		Content:        "hey",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.directory.TouchLastMessage(ctx, withCarol.ID, msg.CreatedAt); err != nil {
		t.Fatalf("TouchLastMessage: %v", err)
	}

	resp := f.do(t, http.MethodGet, "/api/chat/conversations", "token-alice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[conversationListResponse](t, resp)
	if len(body.Conversations) != 2 {
		t.Fatalf("len = %d, want 2", len(body.Conversations))
	}
	if body.Conversations[0].ID != withCarol.ID {
		t.Fatalf("first = %q, want the active conversation %q", body.Conversations[0].ID, withCarol.ID)
	}
	if got := body.Conversations[0].UnreadCount; got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
	if got := body.Conversations[1].ID; got != withBob.ID {
		t.Fatalf("second = %q, want %q", got, withBob.ID)
	}
}

func TestListMessagesScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.directory.FindOrCreate(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	for _, content := range []string{"one", "two", "three"} {
		if _, err := f.messages.Append(ctx, chat.AppendInput{
			ConversationID: conv.ID,
			SenderID:       alice,
			Content:        content,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	resp := f.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID+"/messages", "token-bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[messageListResponse](t, resp)
	if len(body.Messages) != 3 {
		t.Fatalf("len = %d, want 3", len(body.Messages))
	}
	// Oldest first for rendering.
	if body.Messages[0].Content != "one" || body.Messages[2].Content != "three" {
		t.Fatalf("order = [%q .. %q], want oldest first", body.Messages[0].Content, body.Messages[2].Content)
	}

	// A non-participant is rejected.
	resp = f.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID+"/messages", "token-carol")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider status = %d, want 403", resp.StatusCode)
	}

	// Unknown conversation is a 404.
	resp = f.do(t, http.MethodGet, "/api/chat/conversations/nope/messages", "token-alice")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestListMessagesBadQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.directory.FindOrCreate(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	resp := f.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID+"/messages?limit=zero", "token-alice")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit status = %d, want 400", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID+"/messages?before=yesterday", "token-alice")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("before status = %d, want 400", resp.StatusCode)
	}
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.directory.FindOrCreate(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	msg, err := f.messages.Append(ctx, chat.AppendInput{
		ConversationID: conv.ID,
		SenderID:       alice,
		Content:        "unread",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// The sender cannot read their own message.
	resp := f.do(t, http.MethodPut, "/api/chat/messages/"+msg.ID+"/read", "token-alice")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("sender status = %d, want 403", resp.StatusCode)
	}

	// An outsider cannot touch it either.
	resp = f.do(t, http.MethodPut, "/api/chat/messages/"+msg.ID+"/read", "token-carol")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider status = %d, want 403", resp.StatusCode)
	}

	// The recipient flips the flag.
	resp = f.do(t, http.MethodPut, "/api/chat/messages/"+msg.ID+"/read", "token-bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recipient status = %d, want 200", resp.StatusCode)
	}
	view := decodeBody[messageView](t, resp)
	if !view.IsRead {
		t.Fatal("is_read = false, want true")
	}

	// Unknown message id is a 404.
	resp = f.do(t, http.MethodPut, "/api/chat/messages/does-not-exist/read", "token-bob")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestUnreadCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.directory.FindOrCreate(ctx, alice, bob)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	for range 3 {
		if _, err := f.messages.Append(ctx, chat.AppendInput{
			ConversationID: conv.ID,
			SenderID:       alice,
			Content:        "ping",
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	resp := f.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID+"/unread-count", "token-bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[unreadCountResponse](t, resp)
	if body.UnreadCount != 3 {
		t.Fatalf("unread = %d, want 3", body.UnreadCount)
	}

	// The sender's own view counts nothing.
	resp = f.do(t, http.MethodGet, "/api/chat/conversations/"+conv.ID+"/unread-count", "token-alice")
	body = decodeBody[unreadCountResponse](t, resp)
	if body.UnreadCount != 0 {
		t.Fatalf("sender unread = %d, want 0", body.UnreadCount)
	}
}
