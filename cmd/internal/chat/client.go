package chat

import (
	"sync"
	"time"

	"mithas/cmd/internal/ids"
)

// Client is the process-local handle for one live connection: a participant
// bound to an open transport channel for one conversation.
//
// Design notes:
//   - Send is intentionally NOT closed by the server so concurrent
//     broadcasters can never panic on a closed channel.
//   - done signals the owning goroutines to stop.
//   - Close is idempotent.
type Client struct {
	// ID distinguishes this handle from any later handle for the same
	// (conversation, participant) pair; the registry's handle-matched
	// eviction relies on pointer identity, the id is for logs.
	ID            string
	ParticipantID string
	Send          chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(participantID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:            ids.MustULID(time.Now().UTC()),
		ParticipantID: participantID,
		Send:          make(chan []byte, sendQueueSize),
		done:          make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send, keeping broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue attempts a non-blocking delivery. False means the client is
// shutting down or its queue is full; the registry treats either as an
// implicit disconnect.
func (c *Client) enqueue(payload []byte) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}
