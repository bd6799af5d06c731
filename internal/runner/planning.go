package runner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// runPlanning produces a plan document for one feature. The feature
// identifier is mandatory; request validation rejects its absence before a
// run is created, and the check here guards direct construction.
func (run *Run) runPlanning(ctx context.Context) error {
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusRunning})

	feature, ok := run.req.FeatureID()
	if !ok {
		return run.fail(errors.New("planning workflow requires a feature identifier"))
	}

	res, err := run.invoke(ctx, "model.plan", map[string]string{
		"goal":    run.req.Goal,
		"feature": feature,
	}, "draft feature plan")
	if err != nil {
		return run.fail(err)
	}

	var plan struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(res.Output, &plan); err != nil {
		return run.fail(err)
	}

	run.emit(event.TypeMessage, event.MessagePayload{Text: plan.Text})
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusCompleted})
	return nil
}
