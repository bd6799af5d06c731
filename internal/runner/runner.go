// Package runner implements the workflow state machines that drive a run:
// chat, edit, planning, spec-driven development and the default tool loop.
// Every side-effecting step goes through the policy gate and the tool-call
// broker; progress is reported as an ordered stream of agent events.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agenthost/internal/domain/call"
	"github.com/Strob0t/agenthost/internal/domain/event"
	"github.com/Strob0t/agenthost/internal/domain/policy"
	"github.com/Strob0t/agenthost/internal/domain/workflow"
)

// ErrCancelled marks a run aborted by a cancel request.
var ErrCancelled = errors.New("run cancelled")

// ErrNoPendingApproval is returned by Resolve when the run is not waiting
// on a write proposal.
var ErrNoPendingApproval = errors.New("no approval pending")

// eventBuffer bounds a run's event channel. The host service drains it
// continuously; the buffer only absorbs short bursts.
const eventBuffer = 64

// ToolCaller dispatches one tool-call envelope and blocks for its result.
type ToolCaller interface {
	Execute(ctx context.Context, env *call.Envelope) (*call.Result, error)
}

// ContextSource loads workspace context files for spec-driven runs.
type ContextSource interface {
	Load(ctx context.Context, path string) (string, error)
}

// Deps carries everything a runner needs. All fields except Context are
// required; Context is only consulted by spec-driven runs.
type Deps struct {
	Broker    ToolCaller
	Gate      *policy.Gate
	Context   ContextSource
	MemoryCap int
	Log       *slog.Logger
}

// Runner starts workflow runs.
type Runner struct {
	deps Deps
	now  func() time.Time
	id   func() string
}

// New creates a Runner over the given dependencies.
func New(deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Runner{
		deps: deps,
		now:  time.Now,
		id:   uuid.NewString,
	}
}

// Run is one live workflow execution. Events arrive on Events in emission
// order; the channel closes after the terminal event.
type Run struct {
	id     string
	kind   workflow.Kind
	req    workflow.StartRequest
	memory *MemoryLog

	events chan event.AgentEvent
	seq    int

	cancelOnce sync.Once
	cancelled  chan struct{}

	approvalMu sync.Mutex
	approval   chan approvalDecision

	done chan struct{}
	err  error

	r *Runner
}

type approvalDecision struct {
	approve bool
	reason  string
}

// Start validates the request and launches the matching workflow runner.
// The returned Run is already executing.
func (r *Runner) Start(ctx context.Context, runID string, req workflow.StartRequest) (*Run, error) {
	if err := uuid.Validate(runID); err != nil {
		return nil, fmt.Errorf("run_id must be a UUID: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid start request: %w", err)
	}

	run := &Run{
		id:        runID,
		kind:      req.KindOf(),
		req:       req,
		memory:    NewMemoryLog(r.deps.MemoryCap),
		events:    make(chan event.AgentEvent, eventBuffer),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
		r:         r,
	}

	go run.execute(ctx)
	return run, nil
}

// ID returns the run identifier.
func (run *Run) ID() string { return run.id }

// Kind returns the workflow kind driving this run.
func (run *Run) Kind() workflow.Kind { return run.kind }

// Events is the run's ordered event stream. Closed after the terminal event.
func (run *Run) Events() <-chan event.AgentEvent { return run.events }

// Done is closed when the run has finished.
func (run *Run) Done() <-chan struct{} { return run.done }

// Err reports the run's failure, valid once Done is closed.
func (run *Run) Err() error {
	<-run.done
	return run.err
}

// Memory exposes the run's bounded memory log.
func (run *Run) Memory() *MemoryLog { return run.memory }

// Cancel requests advisory cancellation: no further tool calls are
// dispatched, but a call already in flight runs to completion or to its
// own timeout.
func (run *Run) Cancel() {
	run.cancelOnce.Do(func() { close(run.cancelled) })
}

// Resolve answers a pending write proposal of a spec-driven run.
func (run *Run) Resolve(approve bool, reason string) error {
	run.approvalMu.Lock()
	ch := run.approval
	run.approval = nil
	run.approvalMu.Unlock()
	if ch == nil {
		return ErrNoPendingApproval
	}
	ch <- approvalDecision{approve: approve, reason: reason}
	return nil
}

// execute dispatches to the workflow state machine and seals the run.
func (run *Run) execute(ctx context.Context) {
	defer close(run.done)
	defer close(run.events)

	var err error
	switch run.kind {
	case workflow.KindChat:
		err = run.runChat(ctx)
	case workflow.KindEdit:
		err = run.runEdit(ctx)
	case workflow.KindPlanning:
		err = run.runPlanning(ctx)
	case workflow.KindSDD:
		err = run.runSDD(ctx)
	case workflow.KindToolLoop:
		err = run.runToolLoop(ctx)
	default:
		err = fmt.Errorf("unknown workflow kind %q", run.kind)
	}
	run.err = err
}

// emit appends one event to the run's stream. Sequence numbers are
// assigned here, so emission order and sequence order always agree.
func (run *Run) emit(typ event.Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		run.r.deps.Log.Error("runner: marshal event payload failed",
			"run_id", run.id, "type", typ, "error", err)
		return
	}
	run.seq++
	run.events <- event.AgentEvent{
		ID:        run.r.id(),
		RunID:     run.id,
		Type:      typ,
		Payload:   data,
		Seq:       run.seq,
		CreatedAt: run.r.now(),
	}
}

// fail emits the error event and failed status, then returns the error for
// propagation to the caller.
func (run *Run) fail(err error) error {
	run.emit(event.TypeError, event.ErrorPayload{Message: err.Error()})
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusFailed, Reason: err.Error()})
	return err
}

// checkCancelled reports whether a cancel request has been observed.
func (run *Run) checkCancelled() bool {
	select {
	case <-run.cancelled:
		return true
	default:
		return false
	}
}

// invoke runs one policy-gated tool call and records it in run memory.
// The tool-call and tool-result events bracket the dispatch.
func (run *Run) invoke(ctx context.Context, toolID string, input any, reason string) (*call.Result, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input for %s: %w", toolID, err)
	}
	env := &call.Envelope{
		CallID:      run.r.id(),
		ToolID:      toolID,
		RequesterID: string(run.kind),
		RunID:       run.id,
		Input:       data,
		Reason:      reason,
	}

	decision := run.r.deps.Gate.Evaluate(env, run.req.PolicyOverride)
	if !decision.Allowed {
		return nil, fmt.Errorf("tool %s denied by %s policy: %s", toolID, decision.Scope, decision.Reason)
	}

	run.emit(event.TypeToolCall, env)
	res, err := run.r.deps.Broker.Execute(ctx, env)
	if err != nil {
		return nil, err
	}
	run.emit(event.TypeToolResult, res)

	if !res.OK {
		return res, fmt.Errorf("tool %s failed: %s", toolID, res.Error)
	}
	run.memory.Append(MemoryEntry{
		Kind:      toolID,
		Content:   string(res.Output),
		CreatedAt: run.r.now(),
	})
	return res, nil
}
