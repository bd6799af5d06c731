package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event into the agent_events table.
func (s *EventStore) Append(ctx context.Context, ev event.AgentEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_events (id, run_id, event_type, payload, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.RunID, string(ev.Type), ev.Payload, ev.Seq, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadByRun returns all events of a run, ordered by sequence ascending.
func (s *EventStore) LoadByRun(ctx context.Context, runID string) ([]event.AgentEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, event_type, payload, seq, created_at
		 FROM agent_events WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("load events by run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.AgentEvent
	for rows.Next() {
		var ev event.AgentEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.Payload, &ev.Seq, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
