// Package workspace loads workflow context files from the workspace
// directory on disk.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source reads context files relative to a fixed root. Paths escaping the
// root are rejected.
type Source struct {
	root string
}

// NewSource creates a Source rooted at dir.
func NewSource(dir string) *Source {
	return &Source{root: dir}
}

// Load returns the content of one workspace file.
func (s *Source) Load(_ context.Context, path string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))

	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
