// Package eventstore defines the persistence port for agent events.
package eventstore

import (
	"context"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// Store persists the append-only event log of runs. Implementations must
// preserve per-run insertion order on load.
type Store interface {
	// Append records one event.
	Append(ctx context.Context, ev event.AgentEvent) error

	// LoadByRun returns a run's events in sequence order.
	LoadByRun(ctx context.Context, runID string) ([]event.AgentEvent, error)
}
