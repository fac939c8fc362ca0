// Package outbound coordinates server-initiated requests to a single
// connection: correlation id allocation, response rendezvous, and
// cancellation when the connection goes away.
package outbound

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wirehub/wirehub/wire"
)

// SendFunc emits one frame on the connection's outbound stream.
type SendFunc func(f *wire.Frame) error

var (
	// ErrDispatcherClosed indicates the dispatcher is closed and no further
	// calls are possible.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrConnectionClosed resolves in-flight calls when the connection is
	// removed before a response arrives.
	ErrConnectionClosed = errors.New("connection closed")
)

type pendingCall struct {
	respCh chan *wire.Frame
	errCh  chan error
}

// Dispatcher tracks in-flight server-initiated requests for one connection.
// It is safe for concurrent use.
type Dispatcher struct {
	send SendFunc

	mu       sync.Mutex
	pending  map[string]*pendingCall // id.String() -> call
	closeErr error                   // set once under mu before closed flips

	nextID uint64

	closed atomic.Bool
}

// New constructs a Dispatcher that emits frames through send.
func New(send SendFunc) *Dispatcher {
	return &Dispatcher{send: send, pending: make(map[string]*pendingCall)}
}

// Call sends a request frame and waits for the matching response, context
// cancellation, or dispatcher closure.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*wire.Frame, error) {
	if d.closed.Load() {
		return nil, d.closeError()
	}

	id := wire.NewRequestID(atomic.AddUint64(&d.nextID, 1))
	key := id.String()

	req, err := wire.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{respCh: make(chan *wire.Frame, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, d.closeError()
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.send(req); err != nil {
		d.drop(key)
		return nil, err
	}

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		d.drop(key)
		return nil, ctx.Err()
	}
}

// OnResponse delivers an inbound response to its waiting call. Unmatched
// responses are ignored: they may belong to a call that already timed out.
func (d *Dispatcher) OnResponse(resp *wire.Frame) {
	if resp == nil || resp.ID.IsNil() {
		return
	}
	key := resp.ID.String()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
}

// Close resolves every pending call with err and rejects new calls.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.closeErr = err
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}

func (d *Dispatcher) drop(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

func (d *Dispatcher) closeError() error {
	d.mu.Lock()
	err := d.closeErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return ErrDispatcherClosed
}
