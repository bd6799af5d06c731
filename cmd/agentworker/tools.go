package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/agenthost/internal/adapter/llm"
	"github.com/Strob0t/agenthost/internal/broker"
	"github.com/Strob0t/agenthost/internal/domain/call"
)

// registerFileTools installs the workspace-rooted file tools and echo.
func registerFileTools(exec *broker.Executor, root string) {
	exec.Register("echo", func(_ context.Context, env *call.Envelope) (json.RawMessage, error) {
		return env.Input, nil
	})

	exec.Register("fs.read", func(_ context.Context, env *call.Envelope) (json.RawMessage, error) {
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		full, err := resolvePath(root, in.Path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(full) //nolint:gosec // G304: path is workspace-rooted above
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("file not found: %s", in.Path)
			}
			return nil, err
		}
		return json.Marshal(map[string]string{"content": string(data)})
	})

	exec.Register("fs.write", func(_ context.Context, env *call.Envelope) (json.RawMessage, error) {
		var in struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		full, err := resolvePath(root, in.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return nil, fmt.Errorf("create parent directory: %w", err)
		}
		if err := os.WriteFile(full, []byte(in.Content), 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", in.Path, err)
		}
		return json.Marshal(map[string]any{"path": in.Path, "bytes": len(in.Content)})
	})
}

// registerModelTools installs the model-backed tools. With a nil client
// every model tool reports a configuration error instead of fabricating
// output.
func registerModelTools(exec *broker.Executor, model *llm.Client) {
	complete := func(ctx context.Context, system, user string) (string, error) {
		if model == nil {
			return "", errors.New("model backend is not configured")
		}
		return model.Complete(ctx, system, user)
	}

	exec.Register("model.complete", func(ctx context.Context, env *call.Envelope) (json.RawMessage, error) {
		var in struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		text, err := complete(ctx, "", in.Prompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"text": text})
	})

	exec.Register("model.edit", func(ctx context.Context, env *call.Envelope) (json.RawMessage, error) {
		var in struct {
			Goal    string `json:"goal"`
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		system := "You edit files. Reply with the complete new file content and nothing else."
		user := fmt.Sprintf("Goal: %s\n\nFile %s:\n%s", in.Goal, in.Path, in.Content)
		content, err := complete(ctx, system, user)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"content": content})
	})

	exec.Register("model.plan", func(ctx context.Context, env *call.Envelope) (json.RawMessage, error) {
		var in struct {
			Goal    string `json:"goal"`
			Feature string `json:"feature"`
		}
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		system := "You draft concise implementation plans in markdown."
		user := fmt.Sprintf("Feature: %s\nGoal: %s", in.Feature, in.Goal)
		text, err := complete(ctx, system, user)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"text": text})
	})

	exec.Register("model.generate", func(ctx context.Context, env *call.Envelope) (json.RawMessage, error) {
		var in struct {
			Goal    string `json:"goal"`
			Step    string `json:"step"`
			Feature string `json:"feature"`
			Context string `json:"context"`
		}
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		system := fmt.Sprintf("You write the %s document of a spec-driven workflow as markdown.", in.Step)
		user := fmt.Sprintf("Feature: %s\nGoal: %s\n\nProject context:\n%s", in.Feature, in.Goal, in.Context)
		text, err := complete(ctx, system, user)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"text": text})
	})
}

// resolvePath roots a relative path in the workspace and rejects escapes.
func resolvePath(root, p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	full := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", p)
	}
	return full, nil
}
