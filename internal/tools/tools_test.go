package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentcore/internal/agent"
)

func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	tctx := &agent.ToolContext{
		WorkingDir: dir,
		SessionID:  "s1",
		AgentID:    "a1",
		Archive:    agent.NewArchive(100, 100000),
	}
	return NewRegistry(tctx), dir
}

func runTool(t *testing.T, r *Registry, name string, args map[string]any) *struct {
	Success bool
	Output  string
	Error   string
} {
	t.Helper()
	input, _ := json.Marshal(args)
	result, err := r.Execute(context.Background(), name, input)
	if err != nil {
		t.Fatalf("Execute(%s): %v", name, err)
	}
	return &struct {
		Success bool
		Output  string
		Error   string
	}{result.Success, result.Output, result.Error}
}

func TestFsWriteReadList(t *testing.T) {
	r, _ := testRegistry(t)

	out := runTool(t, r, "fs_write", map[string]any{"path": "sub/hello.txt", "content": "line1\nline2\nline3"})
	if !out.Success {
		t.Fatalf("fs_write failed: %s", out.Error)
	}
	out = runTool(t, r, "fs_read", map[string]any{"path": "sub/hello.txt", "offset": 2, "limit": 1})
	if !out.Success || !strings.Contains(out.Output, "line2") || strings.Contains(out.Output, "line1") {
		t.Errorf("fs_read window wrong: %q", out.Output)
	}
	out = runTool(t, r, "fs_list", map[string]any{"directory": "."})
	if !out.Success || !strings.Contains(out.Output, "sub/") {
		t.Errorf("fs_list = %q", out.Output)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	r, _ := testRegistry(t)
	out := runTool(t, r, "fs_read", map[string]any{"path": "../../etc/passwd"})
	if out.Success {
		t.Error("escaping path not rejected")
	}
}

func TestGrepAndGlob(t *testing.T) {
	r, dir := testRegistry(t)
	os.MkdirAll(filepath.Join(dir, "pkg"), 0o755)
	os.WriteFile(filepath.Join(dir, "pkg", "main.go"), []byte("package main\nfunc Run() {}\n"), 0o644)

	out := runTool(t, r, "grep_search", map[string]any{"pattern": "func Run"})
	if !out.Success || !strings.Contains(out.Output, "pkg/main.go:2") {
		t.Errorf("grep_search = %q", out.Output)
	}
	out = runTool(t, r, "glob_search", map[string]any{"pattern": "**/*.go"})
	if !out.Success || !strings.Contains(out.Output, "pkg/main.go") {
		t.Errorf("glob_search = %q", out.Output)
	}
	out = runTool(t, r, "grep_search", map[string]any{"pattern": "NoSuchThing"})
	if !out.Success || out.Output != "no matches" {
		t.Errorf("empty grep = %q", out.Output)
	}
}

func TestFindDefinition(t *testing.T) {
	r, dir := testRegistry(t)
	os.WriteFile(filepath.Join(dir, "svc.go"), []byte("package svc\n\ntype Server struct{}\n"), 0o644)

	out := runTool(t, r, "find_definition", map[string]any{"symbol": "Server"})
	if !out.Success || !strings.Contains(out.Output, "svc.go:3") {
		t.Errorf("find_definition = %q", out.Output)
	}
	out = runTool(t, r, "find_definition", map[string]any{"symbol": "Missing"})
	if !out.Success || !strings.Contains(out.Output, "not found") {
		t.Errorf("missing symbol = %q", out.Output)
	}
}

func TestArchiveRecall(t *testing.T) {
	r, _ := testRegistry(t)
	r.GetContext().Archive.Store(1, "fs_read", `{"path":"x.go"}`, "full archived output", "x.go", nil)

	out := runTool(t, r, "archive_recall", map[string]any{"file_path": "x.go"})
	if !out.Success || !strings.Contains(out.Output, "full archived output") {
		t.Errorf("archive_recall = %q", out.Output)
	}
}

func TestRegistryRestrictAndSpawn(t *testing.T) {
	r, _ := testRegistry(t)
	if r.Has("spawn_agent") {
		t.Error("spawn_agent present without a SpawnFunc capability")
	}

	restricted := r.Restrict([]string{"grep_search", "glob_search"})
	if restricted.Has("grep_search") || restricted.Has("glob_search") {
		t.Error("Restrict left excluded tools visible")
	}
	if !restricted.Has("fs_read") {
		t.Error("Restrict dropped unrelated tools")
	}
}

func TestGlobToRegexp(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		match   bool
	}{
		{"**/*.go", "a/b/c.go", true},
		{"**/*.go", "c.go", true},
		{"*.go", "a/c.go", false},
		{"**/*foo*", "src/foobar.ts", true},
		{"cmd/*/main.go", "cmd/app/main.go", true},
		{"cmd/*/main.go", "cmd/a/b/main.go", false},
	}
	for _, tt := range tests {
		re, err := globToRegexp(tt.pattern)
		if err != nil {
			t.Fatalf("globToRegexp(%q): %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.path); got != tt.match {
			t.Errorf("%q vs %q = %v, want %v", tt.pattern, tt.path, got, tt.match)
		}
	}
}
