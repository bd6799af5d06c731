// Package broker correlates tool-call envelopes with their results over a
// message transport. The Client side issues calls and enforces at-most-once
// delivery per call id; the Executor side serves them.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/agenthost/internal/domain/call"
	"github.com/Strob0t/agenthost/internal/port/transport"
)

// ErrDuplicateCallID rejects a second Execute for a call id that is still
// in flight.
var ErrDuplicateCallID = errors.New("duplicate call id")

// ErrDisposed is returned for calls pending at Dispose time and for
// Execute attempts afterwards.
var ErrDisposed = errors.New("tool broker disposed")

// DefaultCallTimeout bounds a tool call round-trip unless configured
// otherwise.
const DefaultCallTimeout = 30 * time.Second

// Client issues tool calls over a transport and resolves each one exactly
// once: with the matching result, a timeout, or a dispose.
type Client struct {
	mu       sync.Mutex
	tr       transport.Transport
	timeout  time.Duration
	pending  map[string]chan callOutcome
	disposed bool
	unsub    func()
	log      *slog.Logger
}

type callOutcome struct {
	result *call.Result
	err    error
}

// NewClient creates a broker client bound to the transport and starts
// listening for results. A timeout of zero selects DefaultCallTimeout.
func NewClient(tr transport.Transport, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		tr:      tr,
		timeout: timeout,
		pending: make(map[string]chan callOutcome),
		log:     log,
	}
	c.unsub = tr.OnMessage(c.onMessage)
	return c
}

// Execute sends the envelope and blocks until the correlated result, the
// call timeout, ctx cancellation, or Dispose, whichever comes first. Each
// call id resolves at most once.
func (c *Client) Execute(ctx context.Context, env *call.Envelope) (*call.Result, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool call: %w", err)
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if _, exists := c.pending[env.CallID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, env.CallID)
	}
	ch := make(chan callOutcome, 1)
	c.pending[env.CallID] = ch
	c.mu.Unlock()

	msg, err := transport.NewMessage(transport.TypeToolCall, env)
	if err != nil {
		c.drop(env.CallID)
		return nil, fmt.Errorf("encode tool call %s: %w", env.CallID, err)
	}
	if err := c.tr.Send(ctx, msg); err != nil {
		c.drop(env.CallID)
		return nil, fmt.Errorf("send tool call %s: %w", env.CallID, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		c.drop(env.CallID)
		return nil, fmt.Errorf("tool call %s (%s) timed out after %s", env.CallID, env.ToolID, c.timeout)
	case <-ctx.Done():
		c.drop(env.CallID)
		return nil, ctx.Err()
	}
}

// Pending reports the number of calls currently awaiting a result.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispose stops the result listener and rejects every pending call with
// ErrDisposed. Idempotent.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	c.pending = make(map[string]chan callOutcome)
	unsub := c.unsub
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, ch := range pending {
		ch <- callOutcome{err: ErrDisposed}
	}
}

func (c *Client) onMessage(msg transport.Message) {
	if msg.Type != transport.TypeToolResult {
		return
	}

	var res call.Result
	if err := json.Unmarshal(msg.Payload, &res); err != nil {
		c.log.Warn("broker: dropping undecodable tool result", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[res.CallID]
	if ok {
		delete(c.pending, res.CallID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn("broker: dropping tool result with no pending call", "call_id", res.CallID)
		return
	}

	if err := res.Validate(); err != nil {
		ch <- callOutcome{err: fmt.Errorf("invalid tool result for call %s: %w", res.CallID, err)}
		return
	}
	ch <- callOutcome{result: &res}
}

func (c *Client) drop(callID string) {
	c.mu.Lock()
	delete(c.pending, callID)
	c.mu.Unlock()
}
