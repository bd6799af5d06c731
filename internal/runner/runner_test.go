package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agenthost/internal/domain/call"
	"github.com/Strob0t/agenthost/internal/domain/event"
	"github.com/Strob0t/agenthost/internal/domain/policy"
	"github.com/Strob0t/agenthost/internal/domain/workflow"
)

// fakeBroker records envelopes and answers them via a per-tool handler.
type fakeBroker struct {
	mu      sync.Mutex
	calls   []*call.Envelope
	handler func(env *call.Envelope) (*call.Result, error)
}

func (f *fakeBroker) Execute(_ context.Context, env *call.Envelope) (*call.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, env)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(env)
	}
	return &call.Result{
		CallID: env.CallID,
		ToolID: env.ToolID,
		RunID:  env.RunID,
		OK:     true,
		Output: json.RawMessage(`{"text":"ok"}`),
	}, nil
}

func (f *fakeBroker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBroker) toolIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.calls))
	for i, env := range f.calls {
		ids[i] = env.ToolID
	}
	return ids
}

func newTestRunner(broker *fakeBroker) *Runner {
	return New(Deps{
		Broker: broker,
		Gate:   policy.NewGate(policy.RuleSet{}),
	})
}

// drain collects the run's full event stream.
func drain(t *testing.T, run *Run) []event.AgentEvent {
	t.Helper()
	var events []event.AgentEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(events))
		}
	}
}

func eventTypes(events []event.AgentEvent) []event.Type {
	types := make([]event.Type, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func assertSequential(t *testing.T, events []event.AgentEvent) {
	t.Helper()
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func statusOf(t *testing.T, ev event.AgentEvent) string {
	t.Helper()
	var p event.StatusPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatal(err)
	}
	return p.Status
}

func TestChunkMessageNoSpaces(t *testing.T) {
	text := strings.Repeat("x", 500)
	chunks := chunkMessage(text, 160, 20)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if len(c) > 160 {
			t.Errorf("chunk %d exceeds 160 chars: %d", i, len(c))
		}
		total += len(c)
	}
	if total != 500 {
		t.Errorf("chunks lose content: %d of 500 chars", total)
	}
}

func TestChunkMessageSplitsOnSpace(t *testing.T) {
	// Words of 9 chars + space; a space always exists past the minimum.
	text := strings.TrimSpace(strings.Repeat(strings.Repeat("w", 9)+" ", 40))
	chunks := chunkMessage(text, 160, 20)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d should end on a space, ends %q", i, c[len(c)-10:])
		}
		if len(c) > 160 {
			t.Errorf("chunk %d exceeds 160 chars: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the original text")
	}
}

func TestChunkMessageSpaceBeforeMinimumIgnored(t *testing.T) {
	// The only space sits at index 5, inside the 20-char minimum.
	text := "short " + strings.Repeat("y", 300)
	chunks := chunkMessage(text, 160, 20)

	if len(chunks[0]) != 160 {
		t.Errorf("expected hard split at 160, got chunk of %d", len(chunks[0]))
	}
}

func TestChunkMessageShortTextSingleChunk(t *testing.T) {
	chunks := chunkMessage("hello world", 160, 20)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestChatRunHappyPath(t *testing.T) {
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		return &call.Result{
			CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID,
			OK: true, Output: json.RawMessage(`{"text":"hello there"}`),
		}, nil
	}}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "chat",
		Goal:     "say hi",
	})
	if err != nil {
		t.Fatal(err)
	}

	events := drain(t, run)
	assertSequential(t, events)
	if err := run.Err(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []event.Type{
		event.TypeStatus, event.TypeStatusUpdate,
		event.TypeToolCall, event.TypeToolResult,
		event.TypeStatusUpdate,
		event.TypeMessageDelta, event.TypeMessageComplete,
		event.TypeStatus,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if s := statusOf(t, events[len(events)-1]); s != event.StatusCompleted {
		t.Errorf("terminal status %q", s)
	}
	if !events[len(events)-1].Terminal() {
		t.Error("final event should be terminal")
	}
}

func TestChatModelFailure(t *testing.T) {
	broker := &fakeBroker{handler: func(*call.Envelope) (*call.Result, error) {
		return nil, errors.New("model unavailable")
	}}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "chat", Goal: "say hi",
	})
	if err != nil {
		t.Fatal(err)
	}

	events := drain(t, run)
	if err := run.Err(); err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected model error to propagate, got %v", err)
	}

	got := eventTypes(events)
	if got[len(got)-2] != event.TypeError || got[len(got)-1] != event.TypeStatus {
		t.Fatalf("expected error then failed status, got %v", got)
	}
	if s := statusOf(t, events[len(events)-1]); s != event.StatusFailed {
		t.Errorf("terminal status %q", s)
	}
}

func TestToolLoopExecutesPlannedCallsInOrder(t *testing.T) {
	broker := &fakeBroker{}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Goal: "do things",
		ToolCalls: []workflow.PlannedCall{
			{ToolID: "fs.read", Input: json.RawMessage(`{"path":"a"}`)},
			{ToolID: "shell.ls"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	drain(t, run)
	if err := run.Err(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	ids := broker.toolIDs()
	if len(ids) != 2 || ids[0] != "fs.read" || ids[1] != "shell.ls" {
		t.Errorf("unexpected dispatch order %v", ids)
	}
	if run.Memory().Len() != 2 {
		t.Errorf("expected 2 memory entries, got %d", run.Memory().Len())
	}
}

func TestToolLoopPolicyDenialFailsRunWithoutDispatch(t *testing.T) {
	broker := &fakeBroker{}
	r := New(Deps{
		Broker: broker,
		Gate:   policy.NewGate(policy.RuleSet{Deny: []string{"shell.exec"}}),
	})

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Goal:      "try shell",
		ToolCalls: []workflow.PlannedCall{{ToolID: "shell.exec"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	events := drain(t, run)
	if err := run.Err(); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected policy denial, got %v", err)
	}
	if broker.callCount() != 0 {
		t.Error("denied call must not reach the broker")
	}
	if s := statusOf(t, events[len(events)-1]); s != event.StatusFailed {
		t.Errorf("terminal status %q", s)
	}
}

func TestToolLoopFailedResultPropagates(t *testing.T) {
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		return &call.Result{
			CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID,
			OK: false, Error: "disk full",
		}, nil
	}}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Goal:      "write",
		ToolCalls: []workflow.PlannedCall{{ToolID: "fs.write"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	drain(t, run)
	if err := run.Err(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected tool failure to propagate, got %v", err)
	}
}

func TestCancelLetsInFlightCallFinishThenStops(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		close(started)
		<-proceed
		return &call.Result{
			CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID,
			OK: true, Output: json.RawMessage(`{}`),
		}, nil
	}}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Goal: "two steps",
		ToolCalls: []workflow.PlannedCall{
			{ToolID: "fs.read"},
			{ToolID: "fs.write"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Cancel while the first call is in flight; it must run to completion,
	// and the second call must never be dispatched.
	<-started
	run.Cancel()
	close(proceed)

	drain(t, run)
	if err := run.Err(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if broker.callCount() != 1 {
		t.Errorf("expected 1 dispatched call, got %d", broker.callCount())
	}
}

func TestPlanningRequiresFeatureAtStart(t *testing.T) {
	r := newTestRunner(&fakeBroker{})

	_, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "planning",
		Goal:     "plan it",
	})
	if err == nil || !strings.Contains(err.Error(), "feature") {
		t.Fatalf("expected fail-fast on missing feature id, got %v", err)
	}
}

func TestPlanningEmitsPlanMessage(t *testing.T) {
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		return &call.Result{
			CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID,
			OK: true, Output: json.RawMessage(`{"text":"1. do the thing"}`),
		}, nil
	}}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "planning",
		Goal:     "plan it",
		Metadata: map[string]string{"feature": "search"},
	})
	if err != nil {
		t.Fatal(err)
	}

	events := drain(t, run)
	if err := run.Err(); err != nil {
		t.Fatal(err)
	}
	if ids := broker.toolIDs(); len(ids) != 1 || ids[0] != "model.plan" {
		t.Errorf("unexpected tools %v", ids)
	}

	var sawMessage bool
	for _, ev := range events {
		if ev.Type == event.TypeMessage {
			sawMessage = true
			var p event.MessagePayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				t.Fatal(err)
			}
			if p.Text != "1. do the thing" {
				t.Errorf("unexpected plan text %q", p.Text)
			}
		}
	}
	if !sawMessage {
		t.Error("planning run should emit the plan as a message event")
	}
}

func TestEditRequiresPathInput(t *testing.T) {
	r := newTestRunner(&fakeBroker{})

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "edit",
		Goal:     "fix typo",
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, run)
	if err := run.Err(); err == nil || !strings.Contains(err.Error(), "inputs.path") {
		t.Fatalf("expected missing path error, got %v", err)
	}
}

func TestEditReadsEditsWrites(t *testing.T) {
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		res := &call.Result{CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID, OK: true}
		switch env.ToolID {
		case "fs.read":
			res.Output = json.RawMessage(`{"content":"old text"}`)
		case "model.edit":
			res.Output = json.RawMessage(`{"content":"new text"}`)
		default:
			res.Output = json.RawMessage(`{}`)
		}
		return res, nil
	}}
	r := newTestRunner(broker)

	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "edit",
		Goal:     "fix typo",
		Inputs:   map[string]string{"path": "notes/a.md"},
	})
	if err != nil {
		t.Fatal(err)
	}

	drain(t, run)
	if err := run.Err(); err != nil {
		t.Fatal(err)
	}
	ids := broker.toolIDs()
	want := []string{"fs.read", "model.edit", "fs.write"}
	if len(ids) != len(want) {
		t.Fatalf("unexpected tool sequence %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestStartRejectsBadRunID(t *testing.T) {
	r := newTestRunner(&fakeBroker{})
	if _, err := r.Start(context.Background(), "not-a-uuid", workflow.StartRequest{Goal: "x"}); err == nil {
		t.Fatal("expected run id validation error")
	}
}
