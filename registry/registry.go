package registry

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/wirehub/wirehub/auth"
	"github.com/wirehub/wirehub/internal/outbound"
	"github.com/wirehub/wirehub/wire"
)

const numShards = 32

// EventType discriminates lifecycle events.
type EventType string

const (
	// EventEstablished fires when a connection is admitted.
	EventEstablished EventType = "established"
	// EventClosed fires when a connection is removed.
	EventClosed EventType = "closed"
)

// Event is one connection lifecycle notification.
type Event struct {
	Type         EventType
	ConnectionID ConnectionID
	Reason       wire.CloseReason
}

// Observer receives lifecycle events. Observers are invoked synchronously
// on the mutating goroutine and must not block.
type Observer func(Event)

// RequestHandler is the external RPC dispatch boundary: method routing,
// per-method permissions, and handler invocation live outside the
// registry. Each request is dispatched on its own goroutine, so handling
// one request never blocks another arriving on the same connection.
type RequestHandler func(ctx context.Context, connID ConnectionID, req *wire.Frame)

// Config configures a Registry.
type Config struct {
	// Gate re-validates identities on permission-demanding operations. When
	// nil, permission checks fall back to the attached identity's static
	// permission set (no revocation re-check).
	Gate auth.Gate
	// QueueSize bounds each connection's outbound queue.
	QueueSize int
	// HeartbeatInterval spaces server pings. Zero disables heartbeat.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a connection has to answer a ping. A
	// single missed deadline removes the connection; there is no retry.
	HeartbeatTimeout time.Duration
	// TopicPermissions maps a topic to the permissions an inbound subscribe
	// frame must satisfy. A nil return means the topic is open; an empty
	// non-nil return demands a valid identity but no specific permission.
	TopicPermissions func(topic string) []string
	// RequestHandler receives inbound request frames.
	RequestHandler RequestHandler
	Logger         *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 128
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type shard struct {
	mu    sync.RWMutex
	conns map[ConnectionID]*conn
}

// Registry is the single source of truth for connection membership,
// subscription state, and message routing. Safe for concurrent use from
// every per-connection task plus external broadcasters.
type Registry struct {
	cfg Config
	log *slog.Logger

	shards [numShards]shard

	topicMu sync.RWMutex
	topics  map[string]map[ConnectionID]*conn

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	cfg.applyDefaults()
	r := &Registry{
		cfg:    cfg,
		log:    cfg.Logger,
		topics: make(map[string]map[ConnectionID]*conn),
	}
	for i := range r.shards {
		r.shards[i].conns = make(map[ConnectionID]*conn)
	}
	return r
}

func (r *Registry) shardFor(id ConnectionID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%numShards]
}

func (r *Registry) lookup(id ConnectionID) (*conn, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	return c, ok
}

// Register admits a new connection with no identity and no subscriptions.
// It never fails: unauthenticated connections may exist to complete an
// in-band login, restricted from privileged operations until then. The
// assigned id is announced to the peer as the first outbound frame.
func (r *Registry) Register(ctx context.Context) *Handle {
	c := newConn(r.cfg.QueueSize)

	s := r.shardFor(c.id)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	// First frame on the wire; the queue is empty so this cannot block.
	_ = c.enqueue(wire.NewConnectionEstablished(string(c.id)))

	if r.cfg.HeartbeatInterval > 0 {
		go r.heartbeatLoop(c)
	}

	r.emit(Event{Type: EventEstablished, ConnectionID: c.id})
	r.log.Debug("connection registered", slog.String("conn_id", string(c.id)))

	return &Handle{ID: c.id, Outbound: c.out, Done: c.done, c: c}
}

// AttachIdentity sets the connection's authenticated identity exactly once.
// Re-authentication requires a new connection.
func (r *Registry) AttachIdentity(id ConnectionID, identity *auth.Identity) error {
	c, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return ErrUnknownConnection
	}
	if c.identity != nil {
		return ErrAlreadyAuthenticated
	}
	c.identity = identity
	r.log.Debug("identity attached",
		slog.String("conn_id", string(id)),
		slog.String("user_id", identity.UserID),
		slog.String("session_id", identity.SessionID),
	)
	return nil
}

// IdentityOf returns the connection's authenticated identity, if any. This
// is the accessor the external RPC dispatcher uses before invoking a
// handler.
func (r *Registry) IdentityOf(id ConnectionID) (*auth.Identity, bool) {
	c, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	ident := c.identitySnapshot()
	if ident == nil {
		return nil, false
	}
	return ident, true
}

// Info returns a snapshot of the connection's record.
func (r *Registry) Info(id ConnectionID) (*ConnectionInfo, bool) {
	c, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return c.info(), true
}

// SetMetadata records an application-layer key on the connection (e.g.
// client version). Unknown connections are a no-op.
func (r *Registry) SetMetadata(id ConnectionID, key, value string) {
	c, ok := r.lookup(id)
	if !ok {
		return
	}
	c.mu.Lock()
	if !c.removed {
		c.metadata[key] = value
	}
	c.mu.Unlock()
}

// Metadata returns a copy of the connection's metadata map.
func (r *Registry) Metadata(id ConnectionID) (map[string]string, bool) {
	c, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	meta := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	c.mu.Unlock()
	return meta, true
}

// Subscribe adds the connection to a topic. Topics demanding permissions
// require an authenticated identity whose session still checks out at this
// moment, not at admission: pass a non-nil required set (possibly empty,
// meaning authenticated-only). Idempotent.
func (r *Registry) Subscribe(ctx context.Context, id ConnectionID, topic string, required ...string) error {
	c, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}

	if required != nil {
		ident := c.identitySnapshot()
		if ident == nil {
			return auth.ErrAuthenticationRequired
		}
		if err := r.checkPermissions(ctx, ident, required); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return ErrUnknownConnection
	}
	c.topics[topic] = struct{}{}
	c.mu.Unlock()

	r.topicMu.Lock()
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[ConnectionID]*conn)
		r.topics[topic] = subs
	}
	subs[id] = c
	r.topicMu.Unlock()

	// A removal may have raced the index insert; undo so no subscription
	// outlives its connection.
	c.mu.Lock()
	removed := c.removed
	c.mu.Unlock()
	if removed {
		r.dropSubscription(id, topic)
		return ErrUnknownConnection
	}
	return nil
}

// Unsubscribe removes the connection from a topic. Always succeeds:
// unknown topics and unknown connections read as no-ops because an
// unsubscribe may race a disconnect.
func (r *Registry) Unsubscribe(ctx context.Context, id ConnectionID, topic string) {
	if c, ok := r.lookup(id); ok {
		c.mu.Lock()
		delete(c.topics, topic)
		c.mu.Unlock()
	}
	r.dropSubscription(id, topic)
}

func (r *Registry) dropSubscription(id ConnectionID, topic string) {
	r.topicMu.Lock()
	if subs, ok := r.topics[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	r.topicMu.Unlock()
}

// SendTo delivers one frame to a single connection, preserving enqueue
// order relative to every other send to that connection.
func (r *Registry) SendTo(ctx context.Context, id ConnectionID, f *wire.Frame) error {
	c, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	return c.enqueue(f)
}

// Broadcast delivers the frame to every connection currently subscribed to
// the topic, taken as a point-in-time snapshot: subscriptions changed
// during delivery may be missed by this broadcast. Per-connection failures
// are swallowed and shed the failing connection asynchronously; a
// broadcast never fails as a whole because of one bad peer. Returns the
// number of connections the frame was queued for.
func (r *Registry) Broadcast(ctx context.Context, topic string, f *wire.Frame) int {
	r.topicMu.RLock()
	subs := r.topics[topic]
	snapshot := make([]*conn, 0, len(subs))
	for _, c := range subs {
		snapshot = append(snapshot, c)
	}
	r.topicMu.RUnlock()

	delivered := 0
	for _, c := range snapshot {
		if err := c.tryEnqueue(f); err != nil {
			r.log.Debug("broadcast delivery failed, removing connection",
				slog.String("conn_id", string(c.id)),
				slog.String("topic", topic),
				slog.String("err", err.Error()),
			)
			go r.Remove(context.WithoutCancel(ctx), c.id, wire.CloseReasonTransportClosed)
			continue
		}
		delivered++
	}
	return delivered
}

// Notify sends a server-initiated notification frame to one connection.
func (r *Registry) Notify(ctx context.Context, id ConnectionID, method string, params any) error {
	f, err := wire.NewNotification(method, params)
	if err != nil {
		return err
	}
	return r.SendTo(ctx, id, f)
}

// Call issues a server-initiated request on the connection and waits for
// the peer's response. Removal of the connection resolves the call with a
// connection-closed error.
func (r *Registry) Call(ctx context.Context, id ConnectionID, method string, params any) (*wire.Frame, error) {
	c, ok := r.lookup(id)
	if !ok {
		return nil, ErrUnknownConnection
	}
	return c.dispatcher.Call(ctx, method, params)
}

// Remove deregisters the connection, cascades subscription removal,
// cancels pending outbound deliveries and in-flight calls, and emits a
// closed lifecycle event. Idempotent.
func (r *Registry) Remove(ctx context.Context, id ConnectionID, reason wire.CloseReason) {
	s := r.shardFor(id)
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return
	}
	c.removed = true
	c.closeReason = reason
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	for _, t := range topics {
		r.dropSubscription(id, t)
	}

	close(c.done)
	c.dispatcher.Close(outbound.ErrConnectionClosed)

	r.emit(Event{Type: EventClosed, ConnectionID: id, Reason: reason})
	r.log.Debug("connection removed",
		slog.String("conn_id", string(id)),
		slog.String("reason", string(reason)),
	)
}

// CloseSession removes every connection whose attached identity belongs to
// the given session. Used to proactively honor a revocation instead of
// waiting for the next inbound frame.
func (r *Registry) CloseSession(ctx context.Context, sessionID string, reason wire.CloseReason) int {
	closed := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		victims := make([]ConnectionID, 0)
		for id, c := range s.conns {
			if ident := c.identitySnapshot(); ident != nil && ident.SessionID == sessionID {
				victims = append(victims, id)
			}
		}
		s.mu.RUnlock()
		for _, id := range victims {
			r.Remove(ctx, id, reason)
			closed++
		}
	}
	return closed
}

// Shutdown removes every connection with the server-shutdown reason.
func (r *Registry) Shutdown(ctx context.Context) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		ids := make([]ConnectionID, 0, len(s.conns))
		for id := range s.conns {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		for _, id := range ids {
			r.Remove(ctx, id, wire.CloseReasonServerShutdown)
		}
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

// SubscriberCount returns the current number of subscribers to a topic.
func (r *Registry) SubscriberCount(topic string) int {
	r.topicMu.RLock()
	n := len(r.topics[topic])
	r.topicMu.RUnlock()
	return n
}

// Observe registers a lifecycle observer.
func (r *Registry) Observe(obs Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, obs)
	r.obsMu.Unlock()
}

func (r *Registry) emit(ev Event) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()
	for _, obs := range observers {
		obs(ev)
	}
}

func (r *Registry) checkPermissions(ctx context.Context, ident *auth.Identity, required []string) error {
	if r.cfg.Gate != nil {
		return r.cfg.Gate.CheckPermissions(ctx, ident, required)
	}
	return auth.RequireAll(ident, required)
}
