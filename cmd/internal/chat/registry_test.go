package chat

import (
	"fmt"
	"sync"
	"testing"
)

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case e := <-c.Send:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestAdmitAndIsOnline(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	c := NewClient("user-a", 8)

	if replaced := r.Admit("conv-1", "user-a", c); replaced != nil {
		t.Fatalf("replaced = %v, want nil", replaced)
	}
	if !r.IsOnline("conv-1", "user-a") {
		t.Fatal("user-a not online after admit")
	}
	if r.IsOnline("conv-1", "user-b") {
		t.Fatal("user-b online without admit")
	}
	if r.IsOnline("conv-2", "user-a") {
		t.Fatal("online in a conversation never joined")
	}
}

func TestAdmitReplacesPriorHandle(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	first := NewClient("user-a", 8)
	second := NewClient("user-a", 8)

	r.Admit("conv-1", "user-a", first)
	replaced := r.Admit("conv-1", "user-a", second)
	if replaced != first {
		t.Fatalf("replaced = %v, want the first handle", replaced)
	}

	// The stale handle no longer matches, so its teardown is a no-op.
	if r.Evict("conv-1", "user-a", first) {
		t.Fatal("evicting the replaced handle removed the live one")
	}
	if !r.IsOnline("conv-1", "user-a") {
		t.Fatal("live handle lost after stale evict")
	}

	if !r.Evict("conv-1", "user-a", second) {
		t.Fatal("evicting the live handle reported false")
	}
	if r.IsOnline("conv-1", "user-a") {
		t.Fatal("still online after evict")
	}
}

func TestEvictUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	if r.Evict("conv-1", "user-a", NewClient("user-a", 8)) {
		t.Fatal("evict on empty registry reported true")
	}
	if r.Evict("conv-1", "user-a", nil) {
		t.Fatal("nil handle evict reported true")
	}
}

func TestBroadcastExclusion(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	a := NewClient("user-a", 8)
	b := NewClient("user-b", 8)
	r.Admit("conv-1", "user-a", a)
	r.Admit("conv-1", "user-b", b)

	r.Broadcast("conv-1", []byte("typing"), "user-a")

	if got := drain(a); len(got) != 0 {
		t.Fatalf("excluded sender received %d events", len(got))
	}
	if got := drain(b); len(got) != 1 || string(got[0]) != "typing" {
		t.Fatalf("peer events = %v", got)
	}

	// Empty exclusion delivers to everyone.
	r.Broadcast("conv-1", []byte("msg"), "")
	if got := drain(a); len(got) != 1 {
		t.Fatalf("sender events = %d, want 1", len(got))
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("peer events = %d, want 1", len(got))
	}
}

func TestBroadcastIsolatesFailure(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)

	var evictedMu sync.Mutex
	var evicted []string
	r.OnEvict(func(conversationID, participantID string) {
		evictedMu.Lock()
		evicted = append(evicted, conversationID+"/"+participantID)
		evictedMu.Unlock()
	})

	healthy := NewClient("user-a", 8)
	stuck := NewClient("user-b", 1)
	r.Admit("conv-1", "user-a", healthy)
	r.Admit("conv-1", "user-b", stuck)

	// Fill the stuck member's queue so the next delivery fails.
	if !stuck.enqueue([]byte("fill")) {
		t.Fatal("priming enqueue failed")
	}

	r.Broadcast("conv-1", []byte("event"), "")

	if got := drain(healthy); len(got) != 1 {
		t.Fatalf("healthy member got %d events, want 1", len(got))
	}
	if r.IsOnline("conv-1", "user-b") {
		t.Fatal("stuck member still online after failed delivery")
	}
	select {
	case <-stuck.Done():
	default:
		t.Fatal("stuck member was not closed")
	}

	evictedMu.Lock()
	defer evictedMu.Unlock()
	if len(evicted) != 1 || evicted[0] != "conv-1/user-b" {
		t.Fatalf("onEvict calls = %v", evicted)
	}
}

func TestBroadcastSkipsClosedClient(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	c := NewClient("user-a", 8)
	r.Admit("conv-1", "user-a", c)

	c.Close()
	r.Broadcast("conv-1", []byte("event"), "")

	if r.IsOnline("conv-1", "user-a") {
		t.Fatal("closed client still registered after broadcast")
	}
	if got := drain(c); len(got) != 0 {
		t.Fatalf("closed client received %d events", len(got))
	}
}

func TestBroadcastUnknownConversation(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	// Must not panic or create state.
	r.Broadcast("ghost", []byte("event"), "")
	if r.IsOnline("ghost", "anyone") {
		t.Fatal("broadcast created registry state")
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)

	const conversations = 4
	const workers = 8
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			pid := fmt.Sprintf("user-%d", w)
			for i := 0; i < rounds; i++ {
				conv := fmt.Sprintf("conv-%d", i%conversations)
				c := NewClient(pid, 4)
				if old := r.Admit(conv, pid, c); old != nil {
					old.Close()
				}
				r.Broadcast(conv, []byte("x"), "")
				drain(c)
				if r.Evict(conv, pid, c) {
					c.Close()
				}
			}
		}()
	}
	wg.Wait()

	// All sessions ended; no conversation should report anyone online.
	for i := 0; i < conversations; i++ {
		conv := fmt.Sprintf("conv-%d", i)
		for w := 0; w < workers; w++ {
			if r.IsOnline(conv, fmt.Sprintf("user-%d", w)) {
				t.Fatalf("ghost member in %s", conv)
			}
		}
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	t.Parallel()

	c := NewClient("user-a", 2)
	c.Close()
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	if c.enqueue([]byte("late")) {
		t.Fatal("enqueue succeeded after close")
	}
}
