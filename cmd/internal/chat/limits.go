package chat

import "time"

// Transport and protocol limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxContentChars = 4000

	// History paging bounds.
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

const (
	// Heartbeat defaults (overridable by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound frame limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
