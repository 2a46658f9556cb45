package chat

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide table of live connections, keyed by
// (conversation, participant). It is the single source of truth for who is
// reachable right now and the only state in this core mutated concurrently
// by multiple sessions.
//
// Concurrency model:
//   - One mutex per conversation table serializes admit/evict/broadcast for
//     that conversation; broadcasts on different conversations never contend.
//   - The outer map lock is held only for table lookup and insert/drop, so
//     it is never held across a fanout.
//   - Admit replaces any prior handle for the pair and returns it; Evict
//     removes an entry only while it still matches the given handle, which
//     keeps a slow disconnect of a stale connection from evicting the live
//     one after a reconnect.
//   - Broadcast never fails as a whole: a member whose queue is full or
//     whose client is shutting down is evicted in place and the remaining
//     deliveries proceed.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	// onEvict is invoked (outside all registry locks) after a member is
	// evicted because delivery to it failed. Explicit disconnects notify
	// presence through the session instead.
	onEvict func(conversationID, participantID string)

	mu            sync.RWMutex
	conversations map[string]*memberTable
}

type memberTable struct {
	mu      sync.Mutex
	members map[string]*Client // participant id -> live handle
}

// NewRegistry constructs an empty Registry. metrics may be nil.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:           log,
		metrics:       metrics,
		conversations: make(map[string]*memberTable),
	}
}

// OnEvict installs the hook fired for delivery-failure evictions.
// Must be called during wiring, before any session is admitted.
func (r *Registry) OnEvict(fn func(conversationID, participantID string)) {
	r.onEvict = fn
}

// Admit registers the handle for (conversationID, participantID). If a prior
// handle existed for the pair it is returned and the new handle atomically
// takes its place; the caller is responsible for closing the replaced one.
func (r *Registry) Admit(conversationID, participantID string, c *Client) (replaced *Client) {
	if c == nil || conversationID == "" || participantID == "" {
		return nil
	}

	r.mu.Lock()
	t := r.conversations[conversationID]
	if t == nil {
		t = &memberTable{members: make(map[string]*Client)}
		r.conversations[conversationID] = t
	}
	t.mu.Lock()
	replaced = t.members[participantID]
	t.members[participantID] = c
	t.mu.Unlock()
	r.mu.Unlock()

	r.metrics.ConnAdmitted(replaced != nil)
	r.log.Info("registry.admit",
		"conversation_id", conversationID,
		"participant_id", participantID,
		"connection_id", c.ID,
		"replaced", replaced != nil,
	)
	return replaced
}

// Evict removes the entry for the pair only if it still matches handle.
// It reports whether an eviction actually happened; a mismatch (the handle
// was already replaced or removed) is a no-op.
func (r *Registry) Evict(conversationID, participantID string, handle *Client) bool {
	if handle == nil {
		return false
	}

	r.mu.Lock()
	t := r.conversations[conversationID]
	if t == nil {
		r.mu.Unlock()
		return false
	}
	t.mu.Lock()
	current, ok := t.members[participantID]
	evicted := ok && current == handle
	if evicted {
		delete(t.members, participantID)
	}
	empty := len(t.members) == 0
	t.mu.Unlock()
	if empty {
		delete(r.conversations, conversationID)
	}
	r.mu.Unlock()

	if evicted {
		r.metrics.ConnEvicted()
		r.log.Info("registry.evict",
			"conversation_id", conversationID,
			"participant_id", participantID,
			"connection_id", handle.ID,
		)
	}
	return evicted
}

// Broadcast delivers event to every live member of the conversation except
// excludeParticipant (empty string excludes no one).
//
// Per-recipient failure is isolated: the failing member is evicted from the
// table, its client is closed, and the onEvict hook runs so presence can
// announce the implicit disconnect. Delivery to the remaining members always
// proceeds.
func (r *Registry) Broadcast(conversationID string, event []byte, excludeParticipant string) {
	r.mu.RLock()
	t := r.conversations[conversationID]
	r.mu.RUnlock()
	if t == nil {
		return
	}

	type failure struct {
		participantID string
		handle        *Client
	}
	var failed []failure

	t.mu.Lock()
	for pid, m := range t.members {
		if pid == excludeParticipant {
			continue
		}
		if m.enqueue(event) {
			r.metrics.BroadcastDelivered()
			continue
		}
		delete(t.members, pid)
		failed = append(failed, failure{participantID: pid, handle: m})
	}
	t.mu.Unlock()

	for _, f := range failed {
		f.handle.Close()
		r.metrics.ConnEvicted()
		r.metrics.BroadcastDropped()
		r.log.Warn("registry.broadcast.drop",
			"conversation_id", conversationID,
			"participant_id", f.participantID,
			"connection_id", f.handle.ID,
		)
		if r.onEvict != nil {
			r.onEvict(conversationID, f.participantID)
		}
	}
}

// IsOnline reports whether the participant has a live handle in the
// conversation.
func (r *Registry) IsOnline(conversationID, participantID string) bool {
	r.mu.RLock()
	t := r.conversations[conversationID]
	r.mu.RUnlock()
	if t == nil {
		return false
	}

	t.mu.Lock()
	_, ok := t.members[participantID]
	t.mu.Unlock()
	return ok
}
