package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirehub/wirehub/auth"
	"github.com/wirehub/wirehub/internal/outbound"
	"github.com/wirehub/wirehub/wire"
)

// ConnectionID is the opaque routing address of one live connection,
// generated at admission and never reused.
type ConnectionID string

func newConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// ConnectionInfo is an external snapshot of one connection's state. The
// registry owns the live record; callers only ever see copies.
type ConnectionInfo struct {
	ID          ConnectionID
	Identity    *auth.Identity // nil until authentication completes
	Topics      []string
	Metadata    map[string]string
	ConnectedAt time.Time
}

// Handle is the transport-facing side of a registered connection. The
// write pump drains Outbound in order and exits when Done closes; frames
// still queued at that point are dropped, never redelivered.
type Handle struct {
	ID       ConnectionID
	Outbound <-chan *wire.Frame
	Done     <-chan struct{}

	c *conn
}

// CloseReason reports why the connection was removed. Meaningful only
// after Done is closed.
func (h *Handle) CloseReason() wire.CloseReason {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.closeReason
}

// conn is the live record. The registry is the only mutator.
type conn struct {
	id          ConnectionID
	connectedAt time.Time

	mu          sync.Mutex
	identity    *auth.Identity
	topics      map[string]struct{}
	metadata    map[string]string
	removed     bool
	closeReason wire.CloseReason

	out  chan *wire.Frame
	done chan struct{}

	dispatcher *outbound.Dispatcher

	// Heartbeat: nonce of the ping we are waiting on, and a wakeup for the
	// matching pong.
	hbMu      sync.Mutex
	hbPending string
	pongCh    chan struct{}
}

func newConn(queueSize int) *conn {
	c := &conn{
		id:          newConnectionID(),
		connectedAt: time.Now(),
		topics:      make(map[string]struct{}),
		metadata:    make(map[string]string),
		out:         make(chan *wire.Frame, queueSize),
		done:        make(chan struct{}),
		pongCh:      make(chan struct{}, 1),
	}
	c.dispatcher = outbound.New(func(f *wire.Frame) error { return c.enqueue(f) })
	return c
}

// enqueue blocks until the frame is queued or the connection is closed.
// Waiting for queue space is an expected suspension point; closure wins.
func (c *conn) enqueue(f *wire.Frame) error {
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return ErrTransportClosed
	}
}

// tryEnqueue queues the frame without blocking. A full queue reads as a
// slow consumer and is reported like a closed transport so broadcast can
// shed the connection.
func (c *conn) tryEnqueue(f *wire.Frame) error {
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return ErrTransportClosed
	default:
		return ErrTransportClosed
	}
}

// identitySnapshot returns the attached identity, or nil.
func (c *conn) identitySnapshot() *auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *conn) info() *ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	meta := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	return &ConnectionInfo{
		ID:          c.id,
		Identity:    c.identity,
		Topics:      topics,
		Metadata:    meta,
		ConnectedAt: c.connectedAt,
	}
}

// expectPong arms the heartbeat with the nonce the next pong must echo.
func (c *conn) expectPong(nonce string) {
	c.hbMu.Lock()
	c.hbPending = nonce
	c.hbMu.Unlock()
	// Drain a stale wakeup left by a late pong.
	select {
	case <-c.pongCh:
	default:
	}
}

// notePong records an inbound pong; stale nonces are ignored.
func (c *conn) notePong(nonce string) {
	c.hbMu.Lock()
	match := c.hbPending != "" && c.hbPending == nonce
	if match {
		c.hbPending = ""
	}
	c.hbMu.Unlock()
	if !match {
		return
	}
	select {
	case c.pongCh <- struct{}{}:
	default:
	}
}
