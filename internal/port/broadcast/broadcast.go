// Package broadcast defines the fan-out port for observers of the live
// event stream.
package broadcast

import "github.com/Strob0t/agenthost/internal/domain/event"

// Broadcaster pushes events to every connected observer. Implementations
// must not block the caller on slow observers.
type Broadcaster interface {
	Broadcast(ev event.AgentEvent)
}
