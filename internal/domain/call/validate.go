package call

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Validate checks that the envelope is well-formed before dispatch.
func (e *Envelope) Validate() error {
	if e.CallID == "" {
		return errors.New("call_id is required")
	}
	if err := uuid.Validate(e.CallID); err != nil {
		return fmt.Errorf("call_id must be a UUID: %w", err)
	}
	if e.ToolID == "" {
		return errors.New("tool_id is required")
	}
	if e.RequesterID == "" {
		return errors.New("requester_id is required")
	}
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	if err := uuid.Validate(e.RunID); err != nil {
		return fmt.Errorf("run_id must be a UUID: %w", err)
	}
	return nil
}

// Validate checks that the result is well-formed before correlation.
func (r *Result) Validate() error {
	if r.CallID == "" {
		return errors.New("call_id is required")
	}
	if err := uuid.Validate(r.CallID); err != nil {
		return fmt.Errorf("call_id must be a UUID: %w", err)
	}
	if r.ToolID == "" {
		return errors.New("tool_id is required")
	}
	if !r.OK && r.Error == "" {
		return errors.New("failed result must carry an error")
	}
	if r.DurationMS < 0 {
		return errors.New("duration_ms must be >= 0")
	}
	return nil
}
