// Package policy implements the authorization gate every tool call passes
// through before dispatch. Decisions combine a global rule set, an optional
// per-run override, and an optional custom evaluator.
package policy

import "github.com/Strob0t/agenthost/internal/domain/call"

// Scope defines at which level a policy decision was made.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRun    Scope = "run"
)

// Decision is the outcome of evaluating a single tool call.
// It is computed fresh per call, never cached and never mutated.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Scope   Scope  `json:"scope"`
}

// RuleSet holds allow and deny lists of tool specifiers.
// A nil or empty Allow list means no allowlist is configured at that level.
// Specifiers support glob-style wildcards: "fs.*" matches "fs.read".
type RuleSet struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Evaluator is an optional custom hook consulted before the list rules.
// Returning a non-nil Decision that denies short-circuits evaluation;
// any other return defers to the lists.
type Evaluator func(env *call.Envelope) *Decision

// Gate evaluates tool calls against global rules and per-run overrides.
// A Gate is immutable after construction and safe for concurrent use.
type Gate struct {
	global RuleSet
	custom Evaluator
}

// NewGate creates a Gate with the given global rule set.
func NewGate(global RuleSet) *Gate {
	return &Gate{global: global}
}

// WithEvaluator returns a copy of the gate with a custom evaluator installed.
func (g *Gate) WithEvaluator(fn Evaluator) *Gate {
	return &Gate{global: g.global, custom: fn}
}
