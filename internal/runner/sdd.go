package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// Spec-driven development steps. Each step generates one document for the
// feature, building on the documents of the steps before it.
const (
	SDDStepSpecify = "specify"
	SDDStepPlan    = "plan"
	SDDStepTasks   = "tasks"
)

// runSDD drives a spec-driven development step for one feature:
// load the required context files, generate the step document, propose the
// write, and apply it only after approval.
func (run *Run) runSDD(ctx context.Context) error {
	feature, ok := run.req.FeatureID()
	if !ok {
		return run.fail(errors.New("spec-driven workflow requires a feature identifier"))
	}
	step := run.req.Inputs["step"]
	if step == "" {
		step = SDDStepPlan
	}
	if step != SDDStepSpecify && step != SDDStepPlan && step != SDDStepTasks {
		return run.fail(fmt.Errorf("unknown spec-driven step %q", step))
	}
	if run.r.deps.Context == nil {
		return run.fail(errors.New("no context source configured"))
	}

	run.emit(event.TypeSDDStarted, event.SDDStepPayload{Step: step, Feature: feature})

	// Every required file must load before contextLoaded is emitted; a
	// missing file aborts the run with its path in the error.
	files := requiredContextFiles(step, feature)
	var contextDoc strings.Builder
	for _, file := range files {
		content, err := run.r.deps.Context.Load(ctx, file)
		if err != nil {
			return run.fail(fmt.Errorf("load context file %s: %w", file, err))
		}
		contextDoc.WriteString("# " + file + "\n")
		contextDoc.WriteString(content)
		contextDoc.WriteString("\n\n")
	}
	run.emit(event.TypeSDDContextLoaded, event.SDDContextPayload{Files: files})

	if run.checkCancelled() {
		return run.fail(ErrCancelled)
	}
	run.emit(event.TypeSDDStepStarted, event.SDDStepPayload{Step: step, Feature: feature})

	res, err := run.invoke(ctx, "model.generate", map[string]string{
		"goal":    run.req.Goal,
		"step":    step,
		"feature": feature,
		"context": contextDoc.String(),
	}, "generate "+step+" document")
	if err != nil {
		return run.fail(err)
	}
	var output struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(res.Output, &output); err != nil {
		return run.fail(err)
	}
	run.emit(event.TypeSDDOutputAppended, event.SDDOutputPayload{Text: output.Text})

	proposal := event.ProposalPayload{
		Path:    path.Join("specs", feature, step+".md"),
		Content: output.Text,
	}
	run.emit(event.TypeSDDProposalReady, proposal)

	decision, err := run.awaitApproval(ctx, step, feature)
	if err != nil {
		return run.fail(err)
	}

	if !decision.approve {
		run.emit(event.TypeSDDRunCompleted, event.SDDCompletedPayload{
			Approved: false,
			Reason:   decision.reason,
		})
		return nil
	}

	if _, err := run.invoke(ctx, "fs.write", map[string]string{
		"path":    proposal.Path,
		"content": proposal.Content,
	}, "apply approved "+step+" document"); err != nil {
		return run.fail(err)
	}
	run.emit(event.TypeSDDRunCompleted, event.SDDCompletedPayload{Approved: true})
	return nil
}

// awaitApproval emits approval_required and blocks until Resolve,
// cancellation, or ctx expiry.
func (run *Run) awaitApproval(ctx context.Context, step, feature string) (approvalDecision, error) {
	ch := make(chan approvalDecision, 1)
	run.approvalMu.Lock()
	run.approval = ch
	run.approvalMu.Unlock()

	run.emit(event.TypeSDDApprovalRequired, event.SDDStepPayload{Step: step, Feature: feature})

	select {
	case decision := <-ch:
		return decision, nil
	case <-run.cancelled:
		run.clearApproval()
		return approvalDecision{}, ErrCancelled
	case <-ctx.Done():
		run.clearApproval()
		return approvalDecision{}, ctx.Err()
	}
}

func (run *Run) clearApproval() {
	run.approvalMu.Lock()
	run.approval = nil
	run.approvalMu.Unlock()
}

// requiredContextFiles lists the workspace files a step depends on. Later
// steps require the documents produced by earlier ones.
func requiredContextFiles(step, feature string) []string {
	files := []string{"constitution.md", "overview.md"}
	switch step {
	case SDDStepPlan:
		files = append(files, path.Join("specs", feature, "spec.md"))
	case SDDStepTasks:
		files = append(files,
			path.Join("specs", feature, "spec.md"),
			path.Join("specs", feature, "plan.md"),
		)
	}
	return files
}
