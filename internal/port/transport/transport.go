// Package transport defines the injectable message channel between the host
// control plane and the isolated worker, plus the typed message contracts
// that cross it. Adapters provide in-memory, RPC-notification and NATS
// implementations; every component receives a Transport explicitly so tests
// can substitute an in-memory channel.
package transport

import (
	"context"
	"encoding/json"
)

// Message types exchanged on the agent-host channel.
const (
	TypeToolCall      = "agent-host:tool-call"
	TypeToolResult    = "agent-host:tool-result"
	TypeStartRun      = "agent-host:start-run"
	TypeCancelRun     = "agent-host:cancel-run"
	TypeEvent         = "agent-host:event"
	TypeRunError      = "agent-host:run-error"
	TypeSDDStartRun   = "agent-host:sdd-start-run"
	TypeSDDControlRun = "agent-host:sdd-control-run"
	TypeSDDEvent      = "agent-host:sdd-event"
	TypeSDDRunError   = "agent-host:sdd-run-error"
)

// Message is the envelope for every payload crossing the channel.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives inbound messages. Handlers for one transport instance are
// invoked sequentially, preserving arrival order.
type Handler func(msg Message)

// Transport is a bidirectional, unordered-correlation message channel.
// Send never blocks on the remote side processing the message.
type Transport interface {
	// Send delivers a message to the peer.
	Send(ctx context.Context, msg Message) error

	// OnMessage registers a handler for inbound messages. The returned
	// function detaches the handler.
	OnMessage(fn Handler) (cancel func())

	// Close shuts the channel down. Further sends fail.
	Close() error
}

// NewMessage marshals payload into a typed Message.
func NewMessage(msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: data}, nil
}
