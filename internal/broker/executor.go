package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/agenthost/internal/domain/call"
	"github.com/Strob0t/agenthost/internal/port/transport"
)

// Handler executes one tool invocation. The returned raw message becomes
// the result output; a returned error becomes a failed result.
type Handler func(ctx context.Context, env *call.Envelope) (json.RawMessage, error)

// Executor is the serving mirror of Client: it listens for tool-call
// envelopes, dispatches them to registered handlers, and always replies
// with exactly one result per call.
type Executor struct {
	mu       sync.Mutex
	tr       transport.Transport
	handlers map[string]Handler
	unsub    func()
	now      func() time.Time
	log      *slog.Logger
}

// NewExecutor creates an executor bound to the transport and starts
// listening for tool calls.
func NewExecutor(tr transport.Transport, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		tr:       tr,
		handlers: make(map[string]Handler),
		now:      time.Now,
		log:      log,
	}
	e.unsub = tr.OnMessage(e.onMessage)
	return e
}

// Register installs the handler for a tool id. Re-registration replaces
// the previous handler; nil unregisters.
func (e *Executor) Register(toolID string, fn Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		delete(e.handlers, toolID)
		return
	}
	e.handlers[toolID] = fn
}

// Close detaches the executor from the transport.
func (e *Executor) Close() {
	e.mu.Lock()
	unsub := e.unsub
	e.unsub = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (e *Executor) onMessage(msg transport.Message) {
	if msg.Type != transport.TypeToolCall {
		return
	}

	var env call.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		e.log.Warn("executor: dropping undecodable tool call", "error", err)
		return
	}
	if err := env.Validate(); err != nil {
		e.log.Warn("executor: dropping invalid tool call", "call_id", env.CallID, "error", err)
		return
	}

	// Each call runs in its own goroutine so a slow tool never blocks the
	// transport dispatch loop.
	go e.serve(&env)
}

func (e *Executor) serve(env *call.Envelope) {
	e.mu.Lock()
	handler := e.handlers[env.ToolID]
	e.mu.Unlock()

	start := e.now()
	res := call.Result{
		CallID: env.CallID,
		ToolID: env.ToolID,
		RunID:  env.RunID,
	}

	switch {
	case handler == nil:
		res.Error = fmt.Sprintf("unknown tool: %s", env.ToolID)
	default:
		output, err := e.invoke(handler, env)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
			res.Output = output
		}
	}
	res.DurationMS = e.now().Sub(start).Milliseconds()

	reply, err := transport.NewMessage(transport.TypeToolResult, res)
	if err != nil {
		e.log.Error("executor: encode tool result failed", "call_id", env.CallID, "error", err)
		return
	}
	if err := e.tr.Send(context.Background(), reply); err != nil {
		e.log.Error("executor: send tool result failed", "call_id", env.CallID, "error", err)
	}
}

// invoke shields the executor from handler panics; a panic becomes a
// failed result instead of tearing the worker down.
func (e *Executor) invoke(handler Handler, env *call.Envelope) (output json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", env.ToolID, r)
		}
	}()
	return handler(context.Background(), env)
}
