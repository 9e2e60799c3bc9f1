package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	maxSearchMatches = 200
	maxSearchLine    = 300
)

// skipDir filters directories no search should descend into.
func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "dist", "build", "vendor", ".kb":
		return true
	}
	return strings.HasPrefix(name, ".")
}

func walkFiles(root string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(path)
	})
}

type globSearch struct {
	ctx *agent.ToolContext
}

func (*globSearch) Name() string { return "glob_search" }
func (*globSearch) Description() string {
	return "Find files whose relative path matches a glob pattern (** is supported)."
}
func (*globSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["pattern"],
		"properties": {
			"pattern":   {"type": "string"},
			"directory": {"type": "string"}
		}
	}`)
}

func (t *globSearch) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Pattern   string `json:"pattern"`
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	root, err := resolvePath(t.ctx, orDot(args.Directory))
	if err != nil {
		return failure(err), nil
	}
	re, err := globToRegexp(args.Pattern)
	if err != nil {
		return failure(fmt.Errorf("invalid pattern %q: %w", args.Pattern, err)), nil
	}
	var matches []string
	err = walkFiles(root, func(path string) error {
		rel, _ := filepath.Rel(root, path)
		if re.MatchString(rel) {
			matches = append(matches, rel)
		}
		if len(matches) >= maxSearchMatches {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return failure(err), nil
	}
	if len(matches) == 0 {
		return success("no matches"), nil
	}
	return success(strings.Join(matches, "\n")), nil
}

// globToRegexp compiles a **-style glob into a regexp over relative paths.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				// Collapse "**/" so it also matches zero directories.
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func orDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

type grepSearch struct {
	ctx *agent.ToolContext
}

func (*grepSearch) Name() string { return "grep_search" }
func (*grepSearch) Description() string {
	return "Search file contents with a regular expression; results are path:line: text."
}
func (*grepSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["pattern"],
		"properties": {
			"pattern":   {"type": "string"},
			"directory": {"type": "string"}
		}
	}`)
}

func (t *grepSearch) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Pattern   string `json:"pattern"`
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return failure(fmt.Errorf("invalid pattern %q: %w", args.Pattern, err)), nil
	}
	root, err := resolvePath(t.ctx, orDot(args.Directory))
	if err != nil {
		return failure(err), nil
	}
	matches, err := grepTree(root, re)
	if err != nil {
		return failure(err), nil
	}
	if len(matches) == 0 {
		return success("no matches"), nil
	}
	return success(strings.Join(matches, "\n")), nil
}

func grepTree(root string, re *regexp.Regexp) ([]string, error) {
	var matches []string
	err := walkFiles(root, func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil || !isText(data) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				if len(line) > maxSearchLine {
					line = line[:maxSearchLine]
				}
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, line))
				if len(matches) >= maxSearchMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	return matches, err
}

func isText(data []byte) bool {
	n := len(data)
	if n > 1024 {
		n = 1024
	}
	for _, b := range data[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}

type findDefinition struct {
	ctx *agent.ToolContext
}

func (*findDefinition) Name() string { return "find_definition" }
func (*findDefinition) Description() string {
	return "Locate where a symbol is declared (func/type/class/const across common languages)."
}
func (*findDefinition) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["symbol"],
		"properties": {
			"symbol":    {"type": "string"},
			"directory": {"type": "string"}
		}
	}`)
}

func (t *findDefinition) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Symbol    string `json:"symbol"`
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	if args.Symbol == "" {
		return failure(fmt.Errorf("missing required symbol")), nil
	}
	root, err := resolvePath(t.ctx, orDot(args.Directory))
	if err != nil {
		return failure(err), nil
	}
	re, err := regexp.Compile(fmt.Sprintf(
		`\b(func|type|class|def|interface|const|var|struct|enum)\s+(\(.*\)\s*)?%s\b`,
		regexp.QuoteMeta(args.Symbol)))
	if err != nil {
		return failure(err), nil
	}
	matches, err := grepTree(root, re)
	if err != nil {
		return failure(err), nil
	}
	if len(matches) == 0 {
		return success(fmt.Sprintf("symbol %q not found", args.Symbol)), nil
	}
	return success(strings.Join(matches, "\n")), nil
}

type codeStats struct {
	ctx *agent.ToolContext
}

func (*codeStats) Name() string { return "code_stats" }
func (*codeStats) Description() string {
	return "Summarize a directory: file count and line count per extension."
}
func (*codeStats) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"directory": {"type": "string"}
		}
	}`)
}

func (t *codeStats) Execute(_ context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure(err), nil
	}
	root, err := resolvePath(t.ctx, orDot(args.Directory))
	if err != nil {
		return failure(err), nil
	}
	type stat struct{ files, lines int }
	stats := make(map[string]*stat)
	err = walkFiles(root, func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil || !isText(data) {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == "" {
			ext = "(none)"
		}
		s, ok := stats[ext]
		if !ok {
			s = &stat{}
			stats[ext] = s
		}
		s.files++
		s.lines += strings.Count(string(data), "\n") + 1
		return nil
	})
	if err != nil {
		return failure(err), nil
	}
	if len(stats) == 0 {
		return success("no files"), nil
	}
	var exts []string
	for ext := range stats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	var b strings.Builder
	for _, ext := range exts {
		fmt.Fprintf(&b, "%s: %d files, %d lines\n", ext, stats[ext].files, stats[ext].lines)
	}
	return success(b.String()), nil
}
