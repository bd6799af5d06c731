// Package rpc implements a bidirectional JSON-RPC 2.0 multiplexer over a
// byte-oriented duplex stream, framed as newline-delimited JSON objects.
// It carries the generic control channel into the supervised worker process.
package rpc

import "encoding/json"

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// JSON-RPC error codes written by this package.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32000
)

// frame is the single wire shape for requests, responses and notifications.
// Classification: method+id is a request, method without id is a
// notification, id with result or error is a response.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// RequestHandler serves one inbound request method. The returned value is
// marshaled into the response result; a returned error becomes a JSON-RPC
// error response with code -32000.
type RequestHandler func(params json.RawMessage) (any, error)

// NotificationHandler serves one inbound notification method. Handlers are
// invoked in arrival order on the read loop and must not block on a
// round-trip over the same connection.
type NotificationHandler func(params json.RawMessage)
