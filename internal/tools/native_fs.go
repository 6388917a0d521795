package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ReadFileTool reads file contents with optional offset and limit. Relative
// paths resolve against the task workspace carried on the context.
type ReadFileTool struct{}

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{} }

func readFileSpec() *ToolSpec {
	return &ToolSpec{
		Name:        "read_file",
		Description: "Read the contents of a file. Returns the text content with optional line offset and limit.",
		Parameters: map[string]ParamSpec{
			"path": {
				Type:        "string",
				Description: "Path to the file, relative to the task workspace",
				Required:    true,
			},
			"offset": {
				Type:        "integer",
				Description: "Line offset (0-based) to start reading from",
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum number of lines to return",
			},
		},
	}
}

type readFileInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type readFileOutput struct {
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
}

// Info returns the tool info for Eino registration.
func (t *ReadFileTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return toolSpecToToolInfo(readFileSpec()), nil
}

// InvokableRun reads the file and returns its contents.
func (t *ReadFileTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input readFileInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("read_file: parse input: %w", err)
	}
	if input.Path == "" {
		return "", fmt.Errorf("read_file: path is required")
	}

	path, err := resolvePath(ctx, input.Path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := bytes.Split(data, []byte("\n"))
	totalLines := len(lines)
	truncated := false

	if input.Offset > 0 {
		if input.Offset >= len(lines) {
			lines = nil
		} else {
			lines = lines[input.Offset:]
		}
	}

	if input.Limit > 0 && input.Limit < len(lines) {
		lines = lines[:input.Limit]
		truncated = true
	}

	var parts []string
	for _, l := range lines {
		parts = append(parts, string(l))
	}

	result := readFileOutput{
		Content:   strings.Join(parts, "\n"),
		Lines:     totalLines,
		Truncated: truncated,
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("read_file: marshal result: %w", err)
	}
	return string(out), nil
}

var _ tool.InvokableTool = (*ReadFileTool)(nil)

// WriteFileTool writes content to a file inside the task workspace, creating
// parent directories as needed.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{} }

func writeFileSpec() *ToolSpec {
	return &ToolSpec{
		Name:        "write_file",
		Description: "Write content to a file, replacing it if it exists. Parent directories are created.",
		Parameters: map[string]ParamSpec{
			"path": {
				Type:        "string",
				Description: "Path to the file, relative to the task workspace",
				Required:    true,
			},
			"content": {
				Type:        "string",
				Description: "Full content to write",
				Required:    true,
			},
		},
	}
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeFileOutput struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func (t *WriteFileTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return toolSpecToToolInfo(writeFileSpec()), nil
}

func (t *WriteFileTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input writeFileInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("write_file: parse input: %w", err)
	}
	if input.Path == "" {
		return "", fmt.Errorf("write_file: path is required")
	}

	path, err := resolvePath(ctx, input.Path)
	if err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(path, []byte(input.Content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}

	out, err := json.Marshal(writeFileOutput{Path: input.Path, Bytes: len(input.Content)})
	if err != nil {
		return "", fmt.Errorf("write_file: marshal result: %w", err)
	}
	return string(out), nil
}

var _ tool.InvokableTool = (*WriteFileTool)(nil)

// ListDirTool lists directory entries inside the task workspace.
type ListDirTool struct{}

func NewListDirTool() *ListDirTool { return &ListDirTool{} }

func listDirSpec() *ToolSpec {
	return &ToolSpec{
		Name:        "list_dir",
		Description: "List the entries of a directory. Directories are suffixed with a slash.",
		Parameters: map[string]ParamSpec{
			"path": {
				Type:        "string",
				Description: "Directory path, relative to the task workspace (default: workspace root)",
			},
		},
	}
}

type listDirInput struct {
	Path string `json:"path"`
}

type listDirOutput struct {
	Entries []string `json:"entries"`
}

func (t *ListDirTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return toolSpecToToolInfo(listDirSpec()), nil
}

func (t *ListDirTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input listDirInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("list_dir: parse input: %w", err)
	}
	if input.Path == "" {
		input.Path = "."
	}

	path, err := resolvePath(ctx, input.Path)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out, err := json.Marshal(listDirOutput{Entries: names})
	if err != nil {
		return "", fmt.Errorf("list_dir: marshal result: %w", err)
	}
	return string(out), nil
}

var _ tool.InvokableTool = (*ListDirTool)(nil)
