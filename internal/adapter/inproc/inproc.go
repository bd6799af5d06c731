// Package inproc provides an in-memory transport pair. Both the tests and
// the single-binary deployment mode use it to connect the host control
// plane to a worker living in the same process.
package inproc

import (
	"context"
	"errors"
	"sync"

	"github.com/Strob0t/agenthost/internal/port/transport"
)

// ErrClosed is returned by Send after the endpoint is closed.
var ErrClosed = errors.New("inproc transport closed")

// queueDepth bounds the per-endpoint inbound buffer.
const queueDepth = 256

type subscription struct {
	id int
	fn transport.Handler
}

// endpoint is one side of the pair. Inbound messages go through a buffered
// queue drained by a single goroutine, so handlers observe arrival order.
type endpoint struct {
	mu     sync.Mutex
	peer   *endpoint
	subs   []subscription
	nextID int
	queue  chan transport.Message
	done   chan struct{}
	closed bool
}

// Pair returns two connected transports. A message sent on one side is
// delivered, in order, to the handlers registered on the other.
func Pair() (transport.Transport, transport.Transport) {
	a := newEndpoint()
	b := newEndpoint()
	a.peer = b
	b.peer = a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func newEndpoint() *endpoint {
	return &endpoint{
		queue: make(chan transport.Message, queueDepth),
		done:  make(chan struct{}),
	}
}

func (e *endpoint) Send(ctx context.Context, msg transport.Message) error {
	e.mu.Lock()
	closed := e.closed
	peer := e.peer
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case peer.queue <- msg:
		return nil
	case <-peer.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *endpoint) OnMessage(fn transport.Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	close(e.done)
	return nil
}

// dispatch drains the inbound queue until the endpoint closes. Handlers run
// sequentially on this goroutine.
func (e *endpoint) dispatch() {
	for {
		select {
		case msg := <-e.queue:
			e.mu.Lock()
			subs := make([]subscription, len(e.subs))
			copy(subs, e.subs)
			e.mu.Unlock()
			for _, s := range subs {
				s.fn(msg)
			}
		case <-e.done:
			return
		}
	}
}
