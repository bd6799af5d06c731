package runner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Strob0t/agenthost/internal/domain/event"
)

// runEdit drives the single-file edit workflow: read the target file, ask
// the model for a revision, then write it back. Every step is a gated tool
// call.
func (run *Run) runEdit(ctx context.Context) error {
	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusRunning})

	path := run.req.Inputs["path"]
	if path == "" {
		return run.fail(errors.New("edit workflow requires inputs.path"))
	}

	readRes, err := run.invoke(ctx, "fs.read", map[string]string{"path": path}, "load file for edit")
	if err != nil {
		return run.fail(err)
	}
	var file struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(readRes.Output, &file); err != nil {
		return run.fail(err)
	}

	if run.checkCancelled() {
		return run.fail(ErrCancelled)
	}

	editRes, err := run.invoke(ctx, "model.edit", map[string]string{
		"goal":    run.req.Goal,
		"path":    path,
		"content": file.Content,
	}, "revise file content")
	if err != nil {
		return run.fail(err)
	}
	var revision struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(editRes.Output, &revision); err != nil {
		return run.fail(err)
	}

	if run.checkCancelled() {
		return run.fail(ErrCancelled)
	}

	if _, err := run.invoke(ctx, "fs.write", map[string]string{
		"path":    path,
		"content": revision.Content,
	}, "apply revision"); err != nil {
		return run.fail(err)
	}

	run.emit(event.TypeStatus, event.StatusPayload{Status: event.StatusCompleted})
	return nil
}
