package transport

import (
	"github.com/Strob0t/agenthost/internal/domain/workflow"
)

// StartRunPayload starts a workflow run. RunID must be a fresh UUID chosen
// by the requesting side.
type StartRunPayload struct {
	RunID   string                `json:"run_id"`
	Request workflow.StartRequest `json:"request"`
}

// CancelRunPayload requests best-effort cancellation of a run. Tool calls
// already in flight run to completion or to their own timeout.
type CancelRunPayload struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

// RunErrorPayload reports a run that failed before or outside its event
// stream, such as a rejected start request.
type RunErrorPayload struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// SDDControlPayload resolves a pending write proposal of a spec-driven run.
type SDDControlPayload struct {
	RunID   string `json:"run_id"`
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}
