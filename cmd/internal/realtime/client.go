package realtime

import (
	"sync"

	"lightlink/cmd/internal/outbox"
	v1 "lightlink/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is NOT closed by the server; concurrent broadcasters may still hold the client.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - The bound identity changes on hello, login and rename, so it is guarded.
type Client struct {
	SessionID string
	Addr      string
	Send      chan v1.Envelope

	mu   sync.RWMutex
	name string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, addr string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Addr:      addr,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Name returns the identity the session is bound to, or "" before hello.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Caller describes the session to the command managers.
func (c *Client) Caller() outbox.Caller {
	return outbox.Caller{Session: c.SessionID, Name: c.Name(), Addr: c.Addr}
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
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking. It reports false when the queue is full
// or the client is shutting down.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.Done():
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
