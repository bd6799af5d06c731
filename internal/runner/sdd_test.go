package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agenthost/internal/domain/call"
	"github.com/Strob0t/agenthost/internal/domain/event"
	"github.com/Strob0t/agenthost/internal/domain/policy"
	"github.com/Strob0t/agenthost/internal/domain/workflow"
)

// mapContext serves workspace files from a map.
type mapContext map[string]string

func (m mapContext) Load(_ context.Context, path string) (string, error) {
	content, ok := m[path]
	if !ok {
		return "", fmt.Errorf("file not found: %s", path)
	}
	return content, nil
}

func fullWorkspace(feature string) mapContext {
	return mapContext{
		"constitution.md":                   "# rules",
		"overview.md":                       "# overview",
		"specs/" + feature + "/spec.md":     "# spec",
		"specs/" + feature + "/plan.md":     "# plan",
	}
}

func newSDDRunner(broker *fakeBroker, ws mapContext) *Runner {
	return New(Deps{
		Broker:  broker,
		Gate:    policy.NewGate(policy.RuleSet{}),
		Context: ws,
	})
}

func sddRequest(feature, step string) workflow.StartRequest {
	return workflow.StartRequest{
		Workflow: "sdd",
		Goal:     "design the feature",
		Metadata: map[string]string{"feature": feature},
		Inputs:   map[string]string{"step": step},
	}
}

func TestSDDMissingSpecAbortsBeforeContextLoaded(t *testing.T) {
	ws := fullWorkspace("search")
	delete(ws, "specs/search/spec.md")
	broker := &fakeBroker{}
	r := newSDDRunner(broker, ws)

	run, err := r.Start(context.Background(), uuid.NewString(), sddRequest("search", "plan"))
	if err != nil {
		t.Fatal(err)
	}

	events := drain(t, run)
	err = run.Err()
	if err == nil || !strings.Contains(err.Error(), "specs/search/spec.md") {
		t.Fatalf("failure must name the missing path, got %v", err)
	}

	for _, ev := range events {
		if ev.Type == event.TypeSDDContextLoaded {
			t.Fatal("contextLoaded must not be emitted when a required file is missing")
		}
	}
	if broker.callCount() != 0 {
		t.Error("no tool call should be dispatched without context")
	}
}

func TestSDDApprovedRunWritesProposal(t *testing.T) {
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		res := &call.Result{CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID, OK: true}
		if env.ToolID == "model.generate" {
			res.Output = json.RawMessage(`{"text":"## plan body"}`)
		} else {
			res.Output = json.RawMessage(`{}`)
		}
		return res, nil
	}}
	r := newSDDRunner(broker, fullWorkspace("search"))

	run, err := r.Start(context.Background(), uuid.NewString(), sddRequest("search", "plan"))
	if err != nil {
		t.Fatal(err)
	}

	var events []event.AgentEvent
	timeout := time.After(2 * time.Second)
	for {
		var ev event.AgentEvent
		var ok bool
		select {
		case ev, ok = <-run.Events():
		case <-timeout:
			t.Fatalf("stream stalled after %d events", len(events))
		}
		if !ok {
			break
		}
		events = append(events, ev)
		if ev.Type == event.TypeSDDApprovalRequired {
			if err := run.Resolve(true, ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := run.Err(); err != nil {
		t.Fatal(err)
	}
	assertSequential(t, events)

	got := eventTypes(events)
	want := []event.Type{
		event.TypeSDDStarted, event.TypeSDDContextLoaded, event.TypeSDDStepStarted,
		event.TypeToolCall, event.TypeToolResult,
		event.TypeSDDOutputAppended, event.TypeSDDProposalReady,
		event.TypeSDDApprovalRequired,
		event.TypeToolCall, event.TypeToolResult,
		event.TypeSDDRunCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// The approved proposal is written to the step document path.
	ids := broker.toolIDs()
	if ids[len(ids)-1] != "fs.write" {
		t.Fatalf("expected final fs.write, got %v", ids)
	}
	var proposal event.ProposalPayload
	for _, ev := range events {
		if ev.Type == event.TypeSDDProposalReady {
			if err := json.Unmarshal(ev.Payload, &proposal); err != nil {
				t.Fatal(err)
			}
		}
	}
	if proposal.Path != "specs/search/plan.md" {
		t.Errorf("unexpected proposal path %q", proposal.Path)
	}
	if proposal.Content != "## plan body" {
		t.Errorf("unexpected proposal content %q", proposal.Content)
	}

	if !events[len(events)-1].Terminal() {
		t.Error("sdd.run_completed must be terminal")
	}
}

func TestSDDRejectedProposalWritesNothing(t *testing.T) {
	broker := &fakeBroker{handler: func(env *call.Envelope) (*call.Result, error) {
		return &call.Result{
			CallID: env.CallID, ToolID: env.ToolID, RunID: env.RunID,
			OK: true, Output: json.RawMessage(`{"text":"draft"}`),
		}, nil
	}}
	r := newSDDRunner(broker, fullWorkspace("search"))

	run, err := r.Start(context.Background(), uuid.NewString(), sddRequest("search", "plan"))
	if err != nil {
		t.Fatal(err)
	}

	var completed event.SDDCompletedPayload
	timeout := time.After(2 * time.Second)
	for {
		var ev event.AgentEvent
		var ok bool
		select {
		case ev, ok = <-run.Events():
		case <-timeout:
			t.Fatal("stream stalled")
		}
		if !ok {
			break
		}
		switch ev.Type {
		case event.TypeSDDApprovalRequired:
			if err := run.Resolve(false, "needs another pass"); err != nil {
				t.Fatal(err)
			}
		case event.TypeSDDRunCompleted:
			if err := json.Unmarshal(ev.Payload, &completed); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := run.Err(); err != nil {
		t.Fatal(err)
	}
	if completed.Approved {
		t.Error("rejected proposal must complete unapproved")
	}
	if completed.Reason != "needs another pass" {
		t.Errorf("unexpected reason %q", completed.Reason)
	}
	for _, id := range broker.toolIDs() {
		if id == "fs.write" {
			t.Fatal("rejected proposal must not be written")
		}
	}
}

func TestSDDTasksStepRequiresPlan(t *testing.T) {
	ws := fullWorkspace("search")
	delete(ws, "specs/search/plan.md")
	r := newSDDRunner(&fakeBroker{}, ws)

	run, err := r.Start(context.Background(), uuid.NewString(), sddRequest("search", "tasks"))
	if err != nil {
		t.Fatal(err)
	}
	drain(t, run)
	if err := run.Err(); err == nil || !strings.Contains(err.Error(), "specs/search/plan.md") {
		t.Fatalf("expected missing plan.md, got %v", err)
	}
}

func TestSDDUnknownStepFails(t *testing.T) {
	r := newSDDRunner(&fakeBroker{}, fullWorkspace("search"))

	run, err := r.Start(context.Background(), uuid.NewString(), sddRequest("search", "deploy"))
	if err != nil {
		t.Fatal(err)
	}
	drain(t, run)
	if err := run.Err(); err == nil || !strings.Contains(err.Error(), "deploy") {
		t.Fatalf("expected unknown step error, got %v", err)
	}
}

func TestResolveWithoutPendingApproval(t *testing.T) {
	r := newSDDRunner(&fakeBroker{}, fullWorkspace("search"))
	run, err := r.Start(context.Background(), uuid.NewString(), workflow.StartRequest{
		Workflow: "chat", Goal: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, run)
	if err := run.Resolve(true, ""); err != ErrNoPendingApproval {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}
