// Package event defines the AgentEvent entity emitted by workflow runs.
// Events within a run are append-only and strictly ordered by Seq; they are
// never revised after emission.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of agent event.
type Type string

const (
	TypeStatus          Type = "status"
	TypeToolCall        Type = "tool-call"
	TypeToolResult      Type = "tool-result"
	TypeError           Type = "error"
	TypeMessage         Type = "message"
	TypeMessageDelta    Type = "message-delta"
	TypeMessageComplete Type = "message-complete"
	TypeStatusUpdate    Type = "status-update"

	// Spec-driven development lifecycle events.
	TypeSDDStarted          Type = "sdd.started"
	TypeSDDContextLoaded    Type = "sdd.context_loaded"
	TypeSDDStepStarted      Type = "sdd.step_started"
	TypeSDDOutputAppended   Type = "sdd.output_appended"
	TypeSDDProposalReady    Type = "sdd.proposal_ready"
	TypeSDDApprovalRequired Type = "sdd.approval_required"
	TypeSDDRunCompleted     Type = "sdd.run_completed"
)

// Run status values carried in status events.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AgentEvent represents a single immutable event in a run's trajectory.
type AgentEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Seq       int             `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// Terminal reports whether the event ends its run's event sequence.
func (e *AgentEvent) Terminal() bool {
	switch e.Type {
	case TypeSDDRunCompleted:
		return true
	case TypeStatus:
		var p StatusPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return false
		}
		return p.Status == StatusCompleted || p.Status == StatusFailed
	default:
		return false
	}
}

// StatusPayload is the payload of status and status-update events.
type StatusPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// MessagePayload is the payload of message, message-delta and
// message-complete events.
type MessagePayload struct {
	Text  string `json:"text,omitempty"`
	Chunk int    `json:"chunk,omitempty"`
	Total int    `json:"total,omitempty"`
}

// ErrorPayload is the payload of error events.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ProposalPayload is the payload of sdd.proposal_ready events: a pending
// file write that must be approved before being applied.
type ProposalPayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SDDStepPayload is the payload of sdd.started and sdd.step_started events.
type SDDStepPayload struct {
	Step    string `json:"step"`
	Feature string `json:"feature"`
}

// SDDContextPayload is the payload of sdd.context_loaded events.
type SDDContextPayload struct {
	Files []string `json:"files"`
}

// SDDOutputPayload is the payload of sdd.output_appended events.
type SDDOutputPayload struct {
	Text string `json:"text"`
}

// SDDCompletedPayload is the payload of sdd.run_completed events.
type SDDCompletedPayload struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
