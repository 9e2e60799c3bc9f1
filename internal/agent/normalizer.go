package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Read-window baselines per tier, widened on repeated attempts at the same
// path and capped hard.
const (
	readWindowSmall   = 180
	readWindowMedium  = 300
	readWindowLarge   = 500
	readWindowCap     = 1000
	readWindowTailCap = 400
)

// Normalizer canonicalizes tool inputs before dispatch. It is stateful:
// repeated fs_read attempts on the same path widen the adaptive window.
type Normalizer struct {
	workingDir   string
	readAttempts map[string]int

	// knownLineCounts caches file line totals observed from earlier reads
	// so the window can be sized to the file.
	knownLineCounts map[string]int
}

// NewNormalizer builds a normalizer scoped to workingDir.
func NewNormalizer(workingDir string) *Normalizer {
	return &Normalizer{
		workingDir:      workingDir,
		readAttempts:    make(map[string]int),
		knownLineCounts: make(map[string]int),
	}
}

// SetWorkingDir follows a scope narrowing.
func (n *Normalizer) SetWorkingDir(dir string) { n.workingDir = dir }

// RecordLineCount remembers a file's total line count for window sizing.
func (n *Normalizer) RecordLineCount(path string, lines int) {
	n.knownLineCounts[path] = lines
}

// Normalize canonicalizes one tool call's input. Normalization is
// idempotent: normalizing an already-normalized input is a no-op.
func (n *Normalizer) Normalize(call models.ToolCall, tier models.Tier) (json.RawMessage, error) {
	var input map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return nil, fmt.Errorf("normalize %s: invalid input JSON: %w", call.Name, err)
		}
	}
	if input == nil {
		input = make(map[string]any)
	}

	switch call.Name {
	case "glob_search":
		n.normalizeGlob(input)
		n.normalizeDirectory(input)
	case "grep_search", "find_definition", "code_stats":
		n.normalizeDirectory(input)
	case "fs_read":
		n.normalizeRead(input, tier)
	case "shell_exec":
		n.normalizeShell(input)
	}

	out, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", call.Name, err)
	}
	return out, nil
}

var globMetaRe = regexp.MustCompile(`[*?\[\]{}]`)

func (n *Normalizer) normalizeGlob(input map[string]any) {
	// query is accepted as an alias for pattern.
	if pattern, _ := input["pattern"].(string); pattern == "" {
		if query, _ := input["query"].(string); query != "" {
			input["pattern"] = query
			delete(input, "query")
		}
	}
	pattern, _ := input["pattern"].(string)
	if pattern != "" && !globMetaRe.MatchString(pattern) {
		input["pattern"] = "**/*" + pattern + "*"
	}
}

func (n *Normalizer) normalizeDirectory(input map[string]any) {
	dir, _ := input["directory"].(string)
	if dir == "" {
		return
	}
	// A path with an extension is almost certainly a file; search its
	// parent instead.
	if ext := filepath.Ext(dir); ext != "" && !strings.HasSuffix(dir, "/") {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			dir = filepath.Dir(dir)
		}
	}
	if n.workingDir != "" {
		if rel, err := filepath.Rel(n.workingDir, dir); err == nil && !strings.HasPrefix(rel, "..") {
			dir = rel
		}
	}
	if dir == "" {
		dir = "."
	}
	input["directory"] = dir
}

var secondarySuffixes = []string{".backup", ".bak", ".orig", ".tmp"}

func (n *Normalizer) normalizeRead(input map[string]any, tier models.Tier) {
	path, _ := input["path"].(string)
	if path != "" {
		// Backup-suffix paths map back to the primary file when it exists.
		for _, suffix := range secondarySuffixes {
			if strings.HasSuffix(path, suffix) {
				primary := strings.TrimSuffix(path, suffix)
				if fileExists(n.resolve(primary)) {
					path = primary
				}
				break
			}
		}
		// Models trained on JS often ask for the emitted .js; redirect to
		// the TypeScript source when present.
		if strings.HasSuffix(path, ".js") {
			base := strings.TrimSuffix(path, ".js")
			if fileExists(n.resolve(base + ".ts")) {
				path = base + ".ts"
			} else if fileExists(n.resolve(base + ".tsx")) {
				path = base + ".tsx"
			}
		}
		input["path"] = path
	}

	offset := intField(input, "offset")
	if offset < 1 {
		offset = 1
	}
	input["offset"] = offset

	n.readAttempts[path]++
	limit := intField(input, "limit")
	if limit <= 0 {
		limit = n.adaptiveWindow(path, offset, tier)
	}
	if limit > readWindowCap {
		limit = readWindowCap
	}
	input["limit"] = limit
}

// adaptiveWindow sizes the read window from the tier baseline, the known
// file length, and how many times this path has been attempted.
func (n *Normalizer) adaptiveWindow(path string, offset int, tier models.Tier) int {
	window := readWindowSmall
	switch tier {
	case models.TierMedium:
		window = readWindowMedium
	case models.TierLarge:
		window = readWindowLarge
	}

	total, known := n.knownLineCounts[path]
	if known && total > 0 && total < window {
		window = total
	}

	attempts := n.readAttempts[path]
	switch {
	case attempts > 5:
		window = window * 16 / 10
	case attempts > 3:
		window = window * 14 / 10
	}
	if window > readWindowCap {
		window = readWindowCap
	}
	// Near-tail reads never need a huge window.
	if known && total > 0 && offset > total-readWindowTailCap && window > readWindowTailCap {
		window = readWindowTailCap
	}
	return window
}

var riskyShellRe = regexp.MustCompile(`\b(pnpm|npm|yarn)\s+(run\s+)?(test|lint|build|qa)\b`)

func (n *Normalizer) normalizeShell(input map[string]any) {
	if cwd, _ := input["cwd"].(string); cwd == "" {
		input["cwd"] = n.workingDir
	}
	if cmd, _ := input["command"].(string); cmd != "" && riskyShellRe.MatchString(cmd) {
		input["preflight"] = fmt.Sprintf("command %q runs a package script; expect a long, noisy output", cmd)
	}
}

// ReadAttempts reports how many fs_read calls targeted path so far.
func (n *Normalizer) ReadAttempts(path string) int { return n.readAttempts[path] }

func (n *Normalizer) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(n.workingDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func intField(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		i, _ := v.Int64()
		return int(i)
	default:
		return 0
	}
}
