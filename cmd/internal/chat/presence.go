package chat

import (
	"log/slog"
	"time"
)

// PresenceTracker derives online/offline events from registry transitions.
// It keeps no state of its own: presence is purely a function of live
// connection membership.
type PresenceTracker struct {
	log      *slog.Logger
	registry *Registry

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewPresenceTracker constructs a tracker bound to the registry it announces
// through. It also registers itself as the registry's eviction hook so
// delivery-failure evictions produce the same offline broadcast as explicit
// disconnects.
func NewPresenceTracker(log *slog.Logger, registry *Registry) *PresenceTracker {
	if log == nil {
		log = slog.Default()
	}
	p := &PresenceTracker{
		log:      log,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
	registry.OnEvict(p.OnEvict)
	return p
}

// OnAdmit announces the participant going online to everyone else in the
// conversation.
func (p *PresenceTracker) OnAdmit(conversationID, participantID string) {
	at := p.now()
	p.registry.Broadcast(conversationID, encodePresenceEvent(EventUserOnline, participantID, at), participantID)
	p.log.Debug("presence.online", "conversation_id", conversationID, "participant_id", participantID)
}

// OnEvict announces the participant going offline to everyone else in the
// conversation.
func (p *PresenceTracker) OnEvict(conversationID, participantID string) {
	at := p.now()
	p.registry.Broadcast(conversationID, encodePresenceEvent(EventUserOffline, participantID, at), participantID)
	p.log.Debug("presence.offline", "conversation_id", conversationID, "participant_id", participantID)
}
