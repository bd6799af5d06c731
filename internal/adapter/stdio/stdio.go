// Package stdio carries the agent-host message channel over the worker's
// JSON-RPC control connection, so one stdio stream serves both the generic
// RPC traffic and the typed agent-host messages.
package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/Strob0t/agenthost/internal/port/transport"
	"github.com/Strob0t/agenthost/internal/rpc"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("stdio transport closed")

// notificationMethod is the JSON-RPC method every agent-host message rides
// on. Messages are notifications: correlation happens at the payload
// level, not the RPC level.
const notificationMethod = "agenthost.message"

// Channel is the slice of the RPC connection the transport needs. Both
// rpc.Conn and the process supervisor satisfy it; the supervisor variant
// keeps the transport attached across worker restarts.
type Channel interface {
	Notify(method string, params any) error
	HandleNotification(method string, fn rpc.NotificationHandler)
}

type subscription struct {
	id int
	fn transport.Handler
}

// Transport adapts a Channel to the transport.Transport interface.
type Transport struct {
	mu     sync.Mutex
	ch     Channel
	subs   []subscription
	nextID int
	closed bool
	log    *slog.Logger
}

// New attaches a transport to the channel.
func New(ch Channel, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{ch: ch, log: log}
	ch.HandleNotification(notificationMethod, t.dispatch)
	return t
}

// Send delivers one message as a notification. Sends never wait for the
// peer to process the message.
func (t *Transport) Send(_ context.Context, msg transport.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return t.ch.Notify(notificationMethod, msg)
}

// OnMessage registers a handler; the returned function detaches it.
func (t *Transport) OnMessage(fn transport.Handler) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Close detaches from the channel. The underlying RPC connection stays
// open for other traffic.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.ch.HandleNotification(notificationMethod, nil)
	return nil
}

// dispatch runs on the RPC read loop, preserving arrival order.
func (t *Transport) dispatch(params json.RawMessage) {
	var msg transport.Message
	if err := json.Unmarshal(params, &msg); err != nil {
		t.log.Warn("stdio transport: dropping undecodable message", "error", err)
		return
	}

	t.mu.Lock()
	subs := make([]subscription, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(msg)
	}
}
