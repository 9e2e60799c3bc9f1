package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// resolvePath anchors a possibly-relative path to the working directory
// and refuses to escape it.
func resolvePath(ctx *agent.ToolContext, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("missing required path")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(ctx.WorkingDir, path)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(ctx.WorkingDir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the working directory", path)
	}
	return abs, nil
}

type fsRead struct {
	ctx *agent.ToolContext
}

func (*fsRead) Name() string { return "fs_read" }
func (*fsRead) Description() string {
	return "Read a window of lines from a file. offset is 1-based; limit bounds the number of lines."
}
func (*fsRead) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path":   {"type": "string"},
			"offset": {"type": "integer", "minimum": 1},
			"limit":  {"type": "integer", "minimum": 1}
		}
	}`)
}

func (t *fsRead) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	abs, err := resolvePath(t.ctx, args.Path)
	if err != nil {
		return failure(err), nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return failure(err), nil
	}
	lines := strings.Split(string(data), "\n")
	offset := args.Offset
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return failure(fmt.Errorf("offset %d past end of file (%d lines)", offset, len(lines))), nil
	}
	end := len(lines)
	if args.Limit > 0 && offset-1+args.Limit < end {
		end = offset - 1 + args.Limit
	}
	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i+1, lines[i])
	}
	return &models.ToolResult{
		Success:  true,
		Output:   b.String(),
		Metadata: map[string]any{"total_lines": len(lines)},
	}, nil
}

type fsWrite struct {
	ctx *agent.ToolContext
}

func (*fsWrite) Name() string { return "fs_write" }
func (*fsWrite) Description() string {
	return "Write content to a file, creating parent directories as needed."
}
func (*fsWrite) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["path", "content"],
		"properties": {
			"path":    {"type": "string"},
			"content": {"type": "string"}
		}
	}`)
}

func (t *fsWrite) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	abs, err := resolvePath(t.ctx, args.Path)
	if err != nil {
		return failure(err), nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failure(err), nil
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return failure(err), nil
	}
	if t.ctx.FileChangeHook != nil {
		_ = t.ctx.FileChangeHook.Forward(context.Background(), t.ctx.AgentID, t.ctx.SessionID)
	}
	return success(fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)), nil
}

type fsList struct {
	ctx *agent.ToolContext
}

func (*fsList) Name() string { return "fs_list" }
func (*fsList) Description() string {
	return "List the entries of a directory, directories suffixed with /."
}
func (*fsList) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"directory": {"type": "string"}
		}
	}`)
}

func (t *fsList) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	if args.Directory == "" {
		args.Directory = "."
	}
	abs, err := resolvePath(t.ctx, args.Directory)
	if err != nil {
		return failure(err), nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return failure(err), nil
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
	return success(strings.Join(names, "\n")), nil
}
