package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

type workspaceKey struct{}

// WithWorkspace returns a context carrying the workspace root tool calls of
// the current task resolve relative paths against.
func WithWorkspace(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, workspaceKey{}, root)
}

// WorkspaceFromContext returns the workspace root set on the context.
func WorkspaceFromContext(ctx context.Context) (string, bool) {
	root, ok := ctx.Value(workspaceKey{}).(string)
	return root, ok && root != ""
}

// resolvePath resolves a tool-supplied path inside the context workspace.
// Paths that escape the workspace root are rejected.
func resolvePath(ctx context.Context, path string) (string, error) {
	root, ok := WorkspaceFromContext(ctx)
	if !ok {
		if !filepath.IsAbs(path) {
			return "", fmt.Errorf("relative path %q without a workspace", path)
		}
		return filepath.Clean(path), nil
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return resolved, nil
}
