// Package registry owns the set of live connections: their identifiers,
// authenticated identities, topic subscriptions, and outbound delivery
// queues. It is the single component permitted to mutate per-connection
// state; everything else observes copies.
//
// Concurrency discipline: the connection map is sharded so operations on
// different connections never contend, and a broadcast snapshots the
// subscriber list instead of holding the topic index locked across
// delivery. Nothing blocks while holding a lock over more than one
// connection's state.
//
// Egress is a bounded queue per connection. The transport's write pump
// drains Handle.Outbound and exits when Handle.Done closes; removal cancels
// pending deliveries by closing Done rather than joining the writer.
package registry
