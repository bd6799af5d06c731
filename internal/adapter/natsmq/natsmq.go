// Package natsmq carries the agent-host message channel over NATS core
// pub/sub, for deployments where the worker runs on another host. Each side
// publishes on its out subject and subscribes to its in subject; the peer
// is configured with the subjects swapped.
package natsmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/agenthost/internal/port/transport"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("nats transport closed")

// Default subjects of the host side; the worker side swaps them.
const (
	SubjectToWorker = "agenthost.worker"
	SubjectToHost   = "agenthost.host"
)

// Dial connects to a NATS server with the retry posture a long-lived
// host process wants.
func Dial(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("agenthost"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

type subscription struct {
	id int
	fn transport.Handler
}

// Transport implements transport.Transport over a NATS connection.
type Transport struct {
	mu     sync.Mutex
	nc     *nats.Conn
	out    string
	sub    *nats.Subscription
	subs   []subscription
	nextID int
	closed bool
	log    *slog.Logger
}

// New subscribes to in and publishes to out. The NATS connection is owned
// by the caller; Close only drops the subscription.
func New(nc *nats.Conn, out, in string, log *slog.Logger) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{nc: nc, out: out, log: log}

	// A single subscription callback keeps delivery in arrival order.
	sub, err := nc.Subscribe(in, func(m *nats.Msg) { t.dispatch(m.Data) })
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", in, err)
	}
	t.sub = sub
	return t, nil
}

func (t *Transport) Send(_ context.Context, msg transport.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := t.nc.Publish(t.out, data); err != nil {
		return fmt.Errorf("publish to %s: %w", t.out, err)
	}
	return nil
}

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

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sub := t.sub
	t.mu.Unlock()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

func (t *Transport) dispatch(data []byte) {
	var msg transport.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.log.Warn("nats transport: dropping undecodable message", "error", err)
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
