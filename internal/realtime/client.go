package realtime

import (
	"sync"
	"time"

	"github.com/bunbase/bunbase/internal/rules"
)

// Client is one connected SSE subscriber: it owns its send channel,
// subscriptions, captured auth, and last-activity timestamp.
type Client struct {
	ID string

	send chan []byte

	mu           sync.Mutex
	subscription map[string]Topic // topic string -> parsed Topic
	auth         *rules.Principal
	authCaptured bool
	lastActivity time.Time
	closed       bool
}

func newClient(id string, bufferSize int) *Client {
	return &Client{
		ID:           id,
		send:         make(chan []byte, bufferSize),
		subscription: make(map[string]Topic),
		lastActivity: time.Now(),
	}
}

// touch records activity, keeping the client alive past the inactivity
// sweep's threshold.
func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Touch exports touch for the SSE transport, which calls it on every ping
// and every client-initiated request it serves on this client's behalf.
func (c *Client) Touch() { c.touch() }

// Frames exposes the outgoing queue for the SSE transport to drain. The
// channel closes when the broker disconnects this client.
func (c *Client) Frames() <-chan []byte { return c.send }

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// captureAuth records the principal on first subscribe, or checks it
// matches on subsequent calls (session-hijacking guard).
// Returns false if a different principal already authenticated this client.
func (c *Client) captureAuth(p *rules.Principal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authCaptured {
		c.auth = p
		c.authCaptured = true
		return true
	}
	return principalsEqual(c.auth, p)
}

func principalsEqual(a, b *rules.Principal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Role == b.Role
}

func (c *Client) setSubscriptions(topics []Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = make(map[string]Topic, len(topics))
	for _, t := range topics {
		c.subscription[t.String()] = t
	}
}

func (c *Client) authSnapshot() *rules.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

func (c *Client) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscription)
}

// enqueue best-effort sends a frame, returning false if the client's buffer
// is full or already closed (the caller then drops the client).
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
