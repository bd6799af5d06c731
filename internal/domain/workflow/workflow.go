// Package workflow defines the closed set of workflow kinds and the request
// that starts a run.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/agenthost/internal/domain/policy"
)

// Kind identifies a workflow runner. The set is closed; dispatch over it
// must be exhaustive.
type Kind string

const (
	KindChat     Kind = "chat"
	KindEdit     Kind = "edit"
	KindPlanning Kind = "planning"
	KindSDD      Kind = "sdd"
	KindToolLoop Kind = "toolloop"
)

// PlannedCall is a tool invocation supplied with the start request, executed
// in order by the tool-loop family of runners.
type PlannedCall struct {
	ToolID string          `json:"tool_id"`
	Input  json.RawMessage `json:"input,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// StartRequest describes one run to be started.
type StartRequest struct {
	Workflow       string            `json:"workflow,omitempty"`
	Goal           string            `json:"goal"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	ToolCalls      []PlannedCall     `json:"tool_calls,omitempty"`
	PolicyOverride *policy.RuleSet   `json:"policy_override,omitempty"`
}

// KindOf maps the request's workflow tag to a Kind. Unknown or empty tags
// fall back to the default tool loop.
func (r *StartRequest) KindOf() Kind {
	switch r.Workflow {
	case "edit":
		return KindEdit
	case "planning", "draft":
		return KindPlanning
	case "chat":
		return KindChat
	case "sdd":
		return KindSDD
	default:
		return KindToolLoop
	}
}

// FeatureID returns the feature identifier for planning and spec-driven
// runs, taken from request metadata first, then inputs.
func (r *StartRequest) FeatureID() (string, bool) {
	if id, ok := r.Metadata["feature"]; ok && id != "" {
		return id, true
	}
	if id, ok := r.Inputs["feature"]; ok && id != "" {
		return id, true
	}
	return "", false
}

// Validate checks the request before a run is created.
func (r *StartRequest) Validate() error {
	if r.Goal == "" {
		return errors.New("goal is required")
	}
	for i := range r.ToolCalls {
		if r.ToolCalls[i].ToolID == "" {
			return fmt.Errorf("tool_calls[%d].tool_id is required", i)
		}
	}
	switch r.KindOf() {
	case KindPlanning, KindSDD:
		if _, ok := r.FeatureID(); !ok {
			return fmt.Errorf("workflow %q requires a feature identifier in metadata or inputs", r.KindOf())
		}
	case KindChat, KindEdit, KindToolLoop:
	}
	return nil
}
