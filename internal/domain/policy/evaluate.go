package policy

import (
	"fmt"
	"path/filepath"

	"github.com/Strob0t/agenthost/internal/domain/call"
)

// Evaluate decides whether a tool call is authorized. It is pure and
// synchronous. First decisive match wins, in this order:
//
//  1. Custom evaluator deny.
//  2. Global denylist.
//  3. Run-scoped denylist.
//  4. Global allowlist, when configured: absent tools are denied.
//  5. Run-scoped allowlist, when configured: absent tools are denied.
//  6. Otherwise allow, scope run.
//
// A run-scoped allowlist narrows but never widens the global allowlist:
// a tool absent from the global allowlist stays denied even when a run
// override lists it.
func (g *Gate) Evaluate(env *call.Envelope, runOverride *RuleSet) Decision {
	if g.custom != nil {
		if d := g.custom(env); d != nil && !d.Allowed {
			return *d
		}
	}

	if matchAny(g.global.Deny, env.ToolID) {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("tool %q is on the global denylist", env.ToolID),
			Scope:   ScopeGlobal,
		}
	}

	if runOverride != nil && matchAny(runOverride.Deny, env.ToolID) {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("tool %q is on the run denylist", env.ToolID),
			Scope:   ScopeRun,
		}
	}

	if len(g.global.Allow) > 0 && !matchAny(g.global.Allow, env.ToolID) {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("tool %q is not on the global allowlist", env.ToolID),
			Scope:   ScopeGlobal,
		}
	}

	if runOverride != nil && len(runOverride.Allow) > 0 && !matchAny(runOverride.Allow, env.ToolID) {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("tool %q is not on the run allowlist", env.ToolID),
			Scope:   ScopeRun,
		}
	}

	return Decision{Allowed: true, Scope: ScopeRun}
}

// matchAny checks whether any specifier pattern matches the tool ID.
// Supports glob-style wildcards via filepath.Match:
//   - "*" matches everything
//   - "fs.*" matches "fs.read"
//   - "fs.read" matches exactly
func matchAny(patterns []string, toolID string) bool {
	for _, p := range patterns {
		if p == toolID {
			return true
		}
		if matched, err := filepath.Match(p, toolID); err == nil && matched {
			return true
		}
	}
	return false
}
