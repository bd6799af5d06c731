package runner

import (
	"context"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// runToolLoop executes the request's planned tool calls in order. Any
// failed invocation ends the run: the error event and failed status are
// emitted first, then the error propagates to the caller.
func (run *Run) runToolLoop(ctx context.Context) error {
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusRunning})

	for _, planned := range run.req.ToolCalls {
		if run.checkCancelled() {
			return run.fail(ErrCancelled)
		}
		if _, err := run.invoke(ctx, planned.ToolID, planned.Input, planned.Reason); err != nil {
			return run.fail(err)
		}
	}

	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusCompleted})
	return nil
}
