package transport

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/agenthost/internal/domain/call"
	"github.com/Strob0t/agenthost/internal/domain/event"
)

// Validate checks whether the message payload is valid JSON conforming to
// the schema associated with its type. A failed validation is a protocol
// violation; payloads are never silently coerced. Unknown types pass
// (future-proof for new message kinds).
func Validate(msg Message) error {
	if !json.Valid(msg.Payload) {
		return fmt.Errorf("invalid JSON payload on message type %s", msg.Type)
	}

	var target any
	switch msg.Type {
	case TypeToolCall:
		target = &call.Envelope{}
	case TypeToolResult:
		target = &call.Result{}
	case TypeStartRun, TypeSDDStartRun:
		target = &StartRunPayload{}
	case TypeCancelRun:
		target = &CancelRunPayload{}
	case TypeRunError, TypeSDDRunError:
		target = &RunErrorPayload{}
	case TypeSDDControlRun:
		target = &SDDControlPayload{}
	case TypeEvent, TypeSDDEvent:
		target = &event.AgentEvent{}
	default:
		return nil
	}

	if err := json.Unmarshal(msg.Payload, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", msg.Type, err)
	}
	return nil
}
