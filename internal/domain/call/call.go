// Package call defines the tool-call envelope and result exchanged between
// the host control plane and the isolated worker.
package call

import "encoding/json"

// Envelope describes a single tool invocation. It is immutable once created;
// CallID is globally unique per outstanding call and is the correlation key.
type Envelope struct {
	CallID      string          `json:"call_id"`
	ToolID      string          `json:"tool_id"`
	RequesterID string          `json:"requester_id"`
	RunID       string          `json:"run_id"`
	Input       json.RawMessage `json:"input"`
	Reason      string          `json:"reason,omitempty"`
}

// Result reports the outcome of an executed tool call.
// Exactly one Result is produced per Envelope by the executing side.
type Result struct {
	CallID     string          `json:"call_id"`
	ToolID     string          `json:"tool_id"`
	RunID      string          `json:"run_id"`
	OK         bool            `json:"ok"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
}
