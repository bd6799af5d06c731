package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned for every request pending when the connection
// closes, and for sends attempted afterwards.
var ErrClosed = errors.New("rpc connection closed")

// DefaultRequestTimeout bounds a request round-trip unless overridden.
const DefaultRequestTimeout = 30 * time.Second

// maxLineBytes bounds a single inbound frame.
const maxLineBytes = 16 << 20

type pendingReply struct {
	result json.RawMessage
	err    error
}

// Conn multiplexes requests, responses and notifications over one duplex
// stream. All mutable state is owned by the Conn and guarded by a single
// mutex; the read loop is the only goroutine parsing inbound frames.
type Conn struct {
	mu      sync.Mutex
	rwc     io.ReadWriteCloser
	nextID  int64
	pending map[int64]chan pendingReply
	reqs    map[string]RequestHandler
	notes   map[string]NotificationHandler
	closed  bool
	timeout time.Duration
	log     *slog.Logger
}

// NewConn creates a connection over the given stream and starts its read
// loop. The timeout applies to every request round-trip; zero selects
// DefaultRequestTimeout.
func NewConn(rwc io.ReadWriteCloser, timeout time.Duration, log *slog.Logger) *Conn {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		rwc:     rwc,
		pending: make(map[int64]chan pendingReply),
		reqs:    make(map[string]RequestHandler),
		notes:   make(map[string]NotificationHandler),
		timeout: timeout,
		log:     log,
	}
	go c.readLoop()
	return c
}

// Request sends a request and waits for the correlated response, the
// connection timeout, or ctx cancellation, whichever comes first.
func (c *Conn) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan pendingReply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(frame{JSONRPC: Version, ID: &id, Method: method, Params: marshalParams(params)}); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("send request %q: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-timer.C:
		c.dropPending(id)
		return nil, fmt.Errorf("request %q (id %d) timed out after %s", method, id, c.timeout)
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notification. No reply is expected.
func (c *Conn) Notify(method string, params any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()
	return c.writeFrame(frame{JSONRPC: Version, Method: method, Params: marshalParams(params)})
}

// HandleRequest registers a request handler for a method name.
// Re-registration replaces the previous handler; nil unregisters.
func (c *Conn) HandleRequest(method string, fn RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.reqs, method)
		return
	}
	c.reqs[method] = fn
}

// HandleNotification registers a notification handler for a method name.
// Re-registration replaces the previous handler; nil unregisters.
func (c *Conn) HandleNotification(method string, fn NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.notes, method)
		return
	}
	c.notes[method] = fn
}

// Close shuts the connection down. Idempotent: every pending request is
// rejected with ErrClosed and the underlying stream is closed, which stops
// the read loop.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan pendingReply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingReply{err: ErrClosed}
	}
	return c.rwc.Close()
}

// readLoop parses inbound lines until the stream ends. Malformed lines are
// logged and dropped, never fatal.
func (c *Conn) readLoop() {
	scanner := bufio.NewScanner(c.rwc)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			c.log.Warn("rpc: dropping malformed frame", "error", err)
			continue
		}
		if f.JSONRPC != Version {
			c.log.Warn("rpc: dropping frame with wrong protocol version", "version", f.JSONRPC)
			continue
		}

		switch {
		case f.ID != nil && (f.Result != nil || f.Error != nil):
			c.handleResponse(f)
		case f.Method != "" && f.ID != nil:
			go c.handleRequest(f)
		case f.Method != "":
			c.handleNotification(f)
		default:
			c.log.Warn("rpc: dropping unclassifiable frame")
		}
	}

	// Stream ended; reject whatever is still in flight.
	_ = c.Close()
}

func (c *Conn) handleResponse(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[*f.ID]
	if ok {
		delete(c.pending, *f.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn("rpc: dropping response with no pending request", "id", *f.ID)
		return
	}
	if f.Error != nil {
		ch <- pendingReply{err: f.Error}
		return
	}
	ch <- pendingReply{result: f.Result}
}

func (c *Conn) handleRequest(f frame) {
	defer func() {
		if r := recover(); r != nil {
			c.respondError(*f.ID, CodeInternal, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	c.mu.Lock()
	handler := c.reqs[f.Method]
	c.mu.Unlock()

	if handler == nil {
		c.respondError(*f.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", f.Method))
		return
	}

	result, err := handler(f.Params)
	if err != nil {
		c.respondError(*f.ID, CodeInternal, err.Error())
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.respondError(*f.ID, CodeInternal, fmt.Sprintf("marshal result: %v", err))
		return
	}
	if werr := c.writeFrame(frame{JSONRPC: Version, ID: f.ID, Result: data}); werr != nil {
		c.log.Error("rpc: write response failed", "method", f.Method, "error", werr)
	}
}

func (c *Conn) handleNotification(f frame) {
	c.mu.Lock()
	handler := c.notes[f.Method]
	c.mu.Unlock()

	if handler == nil {
		c.log.Debug("rpc: no handler for notification", "method", f.Method)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("rpc: notification handler panic", "method", f.Method, "panic", r)
		}
	}()
	handler(f.Params)
}

func (c *Conn) respondError(id int64, code int, message string) {
	err := c.writeFrame(frame{
		JSONRPC: Version,
		ID:      &id,
		Error:   &Error{Code: code, Message: message},
	})
	if err != nil {
		c.log.Error("rpc: write error response failed", "id", id, "error", err)
	}
}

// writeFrame marshals and writes one frame followed by a newline. Writes
// are serialized by the connection mutex so frames never interleave.
func (c *Conn) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err = c.rwc.Write(data)
	return err
}

// dropPending removes a pending entry without delivering a reply. Used on
// timeout, cancellation and send failure; losing the race against a
// concurrently delivered response is fine because the reply channel is
// buffered.
func (c *Conn) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func marshalParams(params any) json.RawMessage {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	return data
}
